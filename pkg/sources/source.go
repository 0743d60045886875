// Package sources defines the capability contract a source of truth
// implements to yield the canonical user/group inventory. Concrete
// implementations (LDAP, static config) live under internal/sources and
// translate their backend's records into the inventory model.
//
// A source must return a fully materialized, self-consistent snapshot: no
// partial or streamed results, and no users referencing groups absent from
// the snapshot. Failures distinguish an unreachable backend
// (errors.ErrSourceUnavailable) from malformed records (errors.ErrSourceData).
package sources

import (
	"context"
	"slices"

	"github.com/agentstation/lifecycle/pkg/inventory"
)

// ID identifies a source module.
type ID string

// String returns the string representation of a source ID.
func (id ID) String() string {
	return string(id)
}

// Known source module IDs.
const (
	StaticConfigID ID = "staticconfig"
	LDAPID         ID = "ldap"
)

// IDs returns all known source module IDs.
func IDs() []ID {
	return []ID{
		StaticConfigID,
		LDAPID,
	}
}

// IsValid returns true if the ID is one of the known module IDs.
func (id ID) IsValid() bool {
	return slices.Contains(IDs(), id)
}

// Source is the contract a source-of-truth adapter implements.
type Source interface {
	// ID returns the module identifier of this source
	ID() ID

	// Fetch retrieves a fresh, fully materialized snapshot of users and
	// groups from the backend. The snapshot is immutable once returned.
	Fetch(ctx context.Context) (*inventory.Snapshot, error)
}
