package inventory

import "slices"

// Group is a label attached to source users. A group is not a target role;
// translating groups to roles is policy, handled by the mapper.
type Group struct {
	// Name is unique within a source.
	Name string

	Description string

	// Emails holds the group's contact addresses, when the source has them.
	Emails []string

	// Members holds the identity keys of the group's members.
	Members []string
}

// HasMember reports whether the identity key is a member of the group.
func (g *Group) HasMember(key string) bool {
	return slices.Contains(g.Members, NormalizeKey(key))
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() Group {
	clone := *g
	clone.Emails = slices.Clone(g.Emails)
	clone.Members = slices.Clone(g.Members)
	return clone
}
