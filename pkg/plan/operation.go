// Package plan defines the operation model: the single intended changes the
// reconciler computes for a target, and the ordered plan that groups them.
// Operations are the only unit ever applied, retried, or reported; they exist
// only within one reconciliation pass.
package plan

import (
	"fmt"
	"strings"

	"github.com/agentstation/lifecycle/pkg/inventory"
)

// Kind identifies an operation variant.
type Kind string

const (
	// KindCreateUser creates a missing account with its full attribute set.
	KindCreateUser Kind = "create_user"
	// KindEnableUser re-enables a disabled account.
	KindEnableUser Kind = "enable_user"
	// KindDisableUser disables an account. Accounts are never deleted.
	KindDisableUser Kind = "disable_user"
	// KindUpdateUserAttributes updates only the attributes that differ.
	KindUpdateUserAttributes Kind = "update_user_attributes"
	// KindAddRoleMember adds a user to a target role.
	KindAddRoleMember Kind = "add_role_member"
	// KindRemoveRoleMember removes a user from a target role.
	KindRemoveRoleMember Kind = "remove_role_member"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Priority returns the kind's ordering priority within a plan. Creation
// precedes everything referencing the same identity key; enable/disable
// precedes attribute updates; role cleanup comes last so that disabling a
// retiring account is applied before its role removals.
func (k Kind) Priority() int {
	switch k {
	case KindCreateUser:
		return 0
	case KindEnableUser, KindDisableUser:
		return 1
	case KindUpdateUserAttributes:
		return 2
	case KindAddRoleMember:
		return 3
	case KindRemoveRoleMember:
		return 4
	default:
		return 5
	}
}

// FieldChange records one attribute difference carried by an update
// operation.
type FieldChange struct {
	Path string // field path, e.g. "full_name"
	Old  string // previous value (string representation)
	New  string // new value (string representation)
}

// Stage classifies an operation by the lifecycle stage that produced it, so
// targets can enable a subset of stages.
type Stage string

const (
	// StageUsersCreate covers account creation, including the immediate
	// disable of accounts created for users already inactive at the source.
	StageUsersCreate Stage = "users_create"
	// StageUsersSync covers attribute and enablement synchronization for
	// accounts present on both sides.
	StageUsersSync Stage = "users_sync"
	// StageRolesSync covers role membership changes.
	StageRolesSync Stage = "roles_sync"
	// StageUsersCleanup covers disabling accounts that left the source.
	StageUsersCleanup Stage = "users_cleanup"
)

// Stages returns all stages in their natural order.
func Stages() []Stage {
	return []Stage{
		StageUsersCreate,
		StageUsersSync,
		StageRolesSync,
		StageUsersCleanup,
	}
}

// IsValid returns true if the stage is one of the defined constants.
func (s Stage) IsValid() bool {
	for _, stage := range Stages() {
		if s == stage {
			return true
		}
	}
	return false
}

// Operation is a single intended change against one target.
type Operation struct {
	Kind Kind

	// Key is the identity key the operation targets.
	Key string

	// User carries the full attribute payload for creates and the desired
	// source-side record for updates.
	User *inventory.User

	// Changes lists the differing fields for update operations. An update
	// with no changes is never emitted.
	Changes []FieldChange

	// Role names the target role for role membership operations.
	Role string

	// Stage records which lifecycle stage produced the operation.
	Stage Stage
}

// String returns a compact, human-readable description of the operation,
// stable across runs. It doubles as the operation's identifier in reports.
func (o Operation) String() string {
	switch o.Kind {
	case KindAddRoleMember, KindRemoveRoleMember:
		return fmt.Sprintf("%s %s role=%s", o.Kind, o.Key, o.Role)
	case KindUpdateUserAttributes:
		paths := make([]string, len(o.Changes))
		for i, change := range o.Changes {
			paths[i] = change.Path
		}
		return fmt.Sprintf("%s %s fields=%s", o.Kind, o.Key, strings.Join(paths, ","))
	default:
		return fmt.Sprintf("%s %s", o.Kind, o.Key)
	}
}
