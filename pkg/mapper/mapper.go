// Package mapper filters and maps source groups to target roles using pattern
// rules. A group is eligible for projection as a target role if any configured
// pattern matches its name; matching is whole-string (anchored) and
// case-sensitive. Unmatched groups are internal-only and never become roles.
package mapper

import (
	"regexp"
	"slices"

	"github.com/agentstation/lifecycle/pkg/errors"
)

// Mapper projects eligible source group names to target role names.
type Mapper struct {
	patterns []*regexp.Regexp
	renames  map[string]string
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithRenames declares target-specific role names for source groups. Groups
// without a rename project under their own name (identity projection).
func WithRenames(renames map[string]string) Option {
	return func(m *Mapper) {
		m.renames = renames
	}
}

// New compiles the given patterns into a Mapper. Each pattern is anchored to
// match the whole group name. An invalid pattern is a configuration error.
func New(patterns []string, opts ...Option) (*Mapper, error) {
	m := &Mapper{}
	for _, opt := range opts {
		opt(m)
	}

	for _, pattern := range patterns {
		compiled, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
		if err != nil {
			return nil, errors.NewConfigError("groups_patterns", "invalid pattern "+pattern, err)
		}
		m.patterns = append(m.patterns, compiled)
	}

	return m, nil
}

// Match reports whether the group name matches any configured pattern
// (union semantics).
func (m *Mapper) Match(name string) bool {
	if m == nil {
		return false
	}
	for _, pattern := range m.patterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// RoleName returns the target role name a group projects to.
func (m *Mapper) RoleName(group string) string {
	if m != nil && m.renames != nil {
		if renamed, ok := m.renames[group]; ok && renamed != "" {
			return renamed
		}
	}
	return group
}

// Mapping pairs a source group with the target role it projects to.
type Mapping struct {
	Group string
	Role  string
}

// Map returns the mappings for all eligible groups among the given names,
// sorted by group name for deterministic planning.
func (m *Mapper) Map(groups []string) []Mapping {
	var mappings []Mapping
	for _, group := range groups {
		if m.Match(group) {
			mappings = append(mappings, Mapping{Group: group, Role: m.RoleName(group)})
		}
	}
	slices.SortFunc(mappings, func(a, b Mapping) int {
		switch {
		case a.Group < b.Group:
			return -1
		case a.Group > b.Group:
			return 1
		default:
			return 0
		}
	})
	return mappings
}
