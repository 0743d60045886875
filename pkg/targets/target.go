// Package targets defines the capability contract a downstream application
// implements to be driven from the source of truth: reading current state,
// declaring capabilities, and applying single operations. Concrete
// implementations (SuiteCRM, LDAP) live under internal/targets.
package targets

import (
	"context"
	"slices"

	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/plan"
)

// ID identifies a target module.
type ID string

// String returns the string representation of a target ID.
func (id ID) String() string {
	return string(id)
}

// Known target module IDs.
const (
	SuiteCRMID ID = "suitecrm"
	LDAPID     ID = "ldap"
)

// IDs returns all known target module IDs.
func IDs() []ID {
	return []ID{
		SuiteCRMID,
		LDAPID,
	}
}

// IsValid returns true if the ID is one of the known module IDs.
func (id ID) IsValid() bool {
	return slices.Contains(IDs(), id)
}

// State is a target's current accounts and role memberships as observed
// right now, keyed by identity key. Like a source snapshot it is captured
// fresh each pass and never mutated.
type State struct {
	Users map[string]inventory.User
	Roles map[string]inventory.Role
}

// NewState builds a state snapshot from observed users and roles, keying
// users by their normalized identity key. Unlike a source snapshot, observed
// duplicates collapse to the last record seen: the target owns its own data
// and the reconciler can only work with what it observes.
func NewState(users []inventory.User, roles []inventory.Role) *State {
	state := &State{
		Users: make(map[string]inventory.User, len(users)),
		Roles: make(map[string]inventory.Role, len(roles)),
	}
	for _, user := range users {
		u := user.Clone()
		u.Normalize()
		if key := u.Key(); key != "" {
			state.Users[key] = u
		}
	}
	for _, role := range roles {
		state.Roles[role.Name] = role.Clone()
	}
	return state
}

// Target is the contract a target application adapter implements.
type Target interface {
	// ID returns the module identifier of this target
	ID() ID

	// Capabilities declares which operation variants the target supports
	Capabilities() Capabilities

	// State observes the target's current accounts and role memberships
	State(ctx context.Context) (*State, error)

	// Apply executes exactly one operation. Apply must be safe to retry;
	// transient-failure retries (with backoff) are the adapter's
	// responsibility, and an exhausted retry is a terminal failure for
	// that one operation only.
	Apply(ctx context.Context, op plan.Operation) error
}
