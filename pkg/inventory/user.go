// Package inventory defines the canonical, backend-agnostic representation of
// users, groups, and target roles used throughout the lifecycle system.
// Source and target adapters translate their native records into these types;
// the reconciler only ever sees this model.
package inventory

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// User is the canonical representation of a person's account, as yielded by a
// source or as observed in a target.
type User struct {
	// Username is the raw identity attribute the identity key derives from.
	Username string

	Forename string
	Surname  string
	FullName string

	// Emails is a set; ordering is irrelevant and comparisons are
	// order-insensitive.
	Emails []string

	// Groups holds the names of the source groups the user belongs to.
	Groups []string

	// Enabled is true unless the backend explicitly marks the account
	// inactive.
	Enabled bool
}

// Key returns the user's identity key: the case-folded, trimmed username.
func (u *User) Key() string {
	return NormalizeKey(u.Username)
}

// Normalize fills in derived name fields. The assumptions are deliberately
// simple: forename is the first word of the full name, surname is the rest,
// and a missing full name is assembled from the two. Sources that know better
// can set all three.
func (u *User) Normalize() {
	if u.FullName != "" {
		parts := strings.SplitN(u.FullName, " ", 2)
		if u.Forename == "" {
			u.Forename = parts[0]
		}
		if u.Surname == "" {
			u.Surname = parts[len(parts)-1]
		}
		return
	}

	var parts []string
	if u.Forename != "" {
		parts = append(parts, u.Forename)
	}
	if u.Surname != "" {
		parts = append(parts, u.Surname)
	}
	u.FullName = strings.Join(parts, " ")
}

// HasGroup reports whether the user belongs to the named source group.
func (u *User) HasGroup(name string) bool {
	return slices.Contains(u.Groups, name)
}

// SortedEmails returns a sorted copy of the user's email set, suitable for
// order-insensitive comparison.
func (u *User) SortedEmails() []string {
	emails := slices.Clone(u.Emails)
	slices.Sort(emails)
	return slices.Compact(emails)
}

// Clone returns a deep copy of the user.
func (u *User) Clone() User {
	clone := *u
	clone.Emails = slices.Clone(u.Emails)
	clone.Groups = slices.Clone(u.Groups)
	return clone
}

// NormalizeKey normalizes an identity attribute into an identity key: leading
// and trailing whitespace is trimmed and the result is Unicode case-folded so
// that the same person correlates across backends with different case
// conventions.
func NormalizeKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
