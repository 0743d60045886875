package inventory

import (
	"slices"

	"github.com/agentstation/lifecycle/pkg/errors"
)

// Snapshot is an immutable, point-in-time pairing of users and groups, pulled
// fresh at the start of each reconciliation pass. Snapshots are never mutated
// in place; accessors return copies. A snapshot is safe for concurrent reads
// once constructed.
type Snapshot struct {
	users  map[string]User // keyed by identity key
	groups map[string]Group
}

// NewSnapshot builds a snapshot from raw users and groups. Users are
// normalized and keyed by identity key; group membership is cross-linked in
// both directions so that User.Groups and Group.Members agree regardless of
// which side the source recorded it on.
//
// A missing or duplicate identity key is a hard error, never a silent merge.
func NewSnapshot(users []User, groups []Group) (*Snapshot, error) {
	snap := &Snapshot{
		users:  make(map[string]User, len(users)),
		groups: make(map[string]Group, len(groups)),
	}

	for _, user := range users {
		u := user.Clone()
		u.Normalize()
		key := u.Key()
		if key == "" {
			return nil, errors.NewDataError("user", u.FullName, "missing identity key")
		}
		if _, exists := snap.users[key]; exists {
			return nil, errors.NewDataError("user", key, "duplicate identity key")
		}
		snap.users[key] = u
	}

	for _, group := range groups {
		g := group.Clone()
		if g.Name == "" {
			return nil, errors.NewDataError("group", "", "missing name")
		}
		if _, exists := snap.groups[g.Name]; exists {
			return nil, errors.NewDataError("group", g.Name, "duplicate name")
		}
		for i, member := range g.Members {
			g.Members[i] = NormalizeKey(member)
		}
		snap.groups[g.Name] = g
	}

	snap.crossLink()
	return snap, nil
}

// crossLink reconciles the two directions membership can be expressed in.
func (s *Snapshot) crossLink() {
	for name, group := range s.groups {
		for _, member := range group.Members {
			if user, ok := s.users[member]; ok && !user.HasGroup(name) {
				user.Groups = append(user.Groups, name)
				s.users[member] = user
			}
		}
	}

	for key, user := range s.users {
		slices.Sort(user.Groups)
		user.Groups = slices.Compact(user.Groups)
		s.users[key] = user

		for _, name := range user.Groups {
			group, ok := s.groups[name]
			if !ok {
				continue
			}
			if !slices.Contains(group.Members, key) {
				group.Members = append(group.Members, key)
				s.groups[name] = group
			}
		}
	}

	for name, group := range s.groups {
		slices.Sort(group.Members)
		group.Members = slices.Compact(group.Members)
		s.groups[name] = group
	}
}

// Users returns a copy of all users, sorted by identity key.
func (s *Snapshot) Users() []User {
	users := make([]User, 0, len(s.users))
	for _, key := range s.UserKeys() {
		user := s.users[key]
		users = append(users, user.Clone())
	}
	return users
}

// User returns the user with the given identity key.
func (s *Snapshot) User(key string) (User, bool) {
	user, ok := s.users[NormalizeKey(key)]
	if !ok {
		return User{}, false
	}
	return user.Clone(), true
}

// UserKeys returns all identity keys in sorted order.
func (s *Snapshot) UserKeys() []string {
	keys := make([]string, 0, len(s.users))
	for key := range s.users {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Groups returns a copy of all groups, sorted by name.
func (s *Snapshot) Groups() []Group {
	groups := make([]Group, 0, len(s.groups))
	for _, name := range s.GroupNames() {
		group := s.groups[name]
		groups = append(groups, group.Clone())
	}
	return groups
}

// Group returns the group with the given name.
func (s *Snapshot) Group(name string) (Group, bool) {
	group, ok := s.groups[name]
	if !ok {
		return Group{}, false
	}
	return group.Clone(), true
}

// GroupNames returns all group names in sorted order.
func (s *Snapshot) GroupNames() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of users in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.users)
}
