package targets

import (
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/plan"
)

// MatchBy selects the attribute used to correlate the same person across the
// source and a target. The identity key is derived from the username unless a
// target identifies users by email instead.
type MatchBy string

const (
	// MatchByUsername derives the identity key from the username (default).
	MatchByUsername MatchBy = "username"
	// MatchByEmail derives the identity key from the first email address.
	MatchByEmail MatchBy = "email"
)

// IsValid returns true for a known matching attribute.
func (m MatchBy) IsValid() bool {
	return m == MatchByUsername || m == MatchByEmail
}

// Policy is the per-target reconciliation policy. Policies are immutable
// configuration values passed explicitly into each planning call, never
// ambient state, so concurrent per-target pipelines cannot race on them.
type Policy struct {
	// ExcludedKeys lists identity keys (e.g. built-in service accounts) the
	// reconciler must never emit operations for, in either direction.
	ExcludedKeys []string

	// GroupsPatterns overrides the source-level pattern list for this
	// target. Nil inherits the source-level list; an explicit empty list
	// projects no roles.
	GroupsPatterns []string

	// RoleNames renames projected roles; groups without an entry project
	// under their own name.
	RoleNames map[string]string

	// MatchBy selects the identity correlation attribute. Empty means
	// username.
	MatchBy MatchBy

	// Stages enables a subset of lifecycle stages. Empty enables all.
	Stages []plan.Stage
}

// Excluded reports whether the identity key is excluded by policy.
func (p Policy) Excluded(key string) bool {
	normalized := inventory.NormalizeKey(key)
	for _, excluded := range p.ExcludedKeys {
		if inventory.NormalizeKey(excluded) == normalized {
			return true
		}
	}
	return false
}

// Matching returns the effective matching attribute.
func (p Policy) Matching() MatchBy {
	if p.MatchBy == "" {
		return MatchByUsername
	}
	return p.MatchBy
}
