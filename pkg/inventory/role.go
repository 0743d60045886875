package inventory

import "slices"

// Role is a target-local access grouping as observed in a target's current
// state. Roles live entirely inside a target's snapshot; the core never
// persists them.
type Role struct {
	Name string

	// Members holds the identity keys of the role's current membership as
	// observed in the target.
	Members []string
}

// MemberSet returns the role's membership as a set of normalized identity
// keys.
func (r *Role) MemberSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Members))
	for _, member := range r.Members {
		set[NormalizeKey(member)] = struct{}{}
	}
	return set
}

// Clone returns a deep copy of the role.
func (r *Role) Clone() Role {
	clone := *r
	clone.Members = slices.Clone(r.Members)
	return clone
}
