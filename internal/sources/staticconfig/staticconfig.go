// Package staticconfig provides a source whose users and groups are defined
// inline in the configuration. It exists for small fixed rosters and for
// testing the pipeline end to end without external systems.
//
// An example source config:
//
//	source:
//	  module: staticconfig
//	  groups:
//	    - name: foobar
//	  users:
//	    - username: johnsmith
//	      fullname: "John Smith"
//	      groups: ["foobar"]
//	      email: ["john.smith@example.org"]
package staticconfig

import (
	"context"
	"fmt"

	"github.com/agentstation/lifecycle/internal/config"
	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/inventory"
	"github.com/agentstation/lifecycle/pkg/sources"
)

var (
	userFields  = map[string]bool{"username": true, "forename": true, "surname": true, "fullname": true, "email": true, "groups": true, "locked": true}
	groupFields = map[string]bool{"name": true, "description": true, "email": true}
)

// Source yields the inventory defined in its config block.
type Source struct {
	users  []inventory.User
	groups []inventory.Group
}

// New validates the config block and builds the source. All field errors
// surface here, not at fetch time.
func New(m config.Module) (*Source, error) {
	userBlocks, err := m.List("users")
	if err != nil {
		return nil, err
	}
	groupBlocks, err := m.List("groups")
	if err != nil {
		return nil, err
	}
	if _, ok := m.Settings["users"]; !ok {
		return nil, errors.NewConfigError("source", "staticconfig requires a users list", nil)
	}
	if _, ok := m.Settings["groups"]; !ok {
		return nil, errors.NewConfigError("source", "staticconfig requires a groups list", nil)
	}

	s := &Source{}

	for _, block := range userBlocks {
		if err := checkFields(block, userFields); err != nil {
			return nil, err
		}
		user, err := parseUser(block)
		if err != nil {
			return nil, err
		}
		s.users = append(s.users, user)
	}

	for _, block := range groupBlocks {
		if err := checkFields(block, groupFields); err != nil {
			return nil, err
		}
		group, err := parseGroup(block)
		if err != nil {
			return nil, err
		}
		s.groups = append(s.groups, group)
	}

	return s, nil
}

// ID returns the module identifier.
func (s *Source) ID() sources.ID {
	return sources.StaticConfigID
}

// Fetch builds a snapshot from the configured inventory.
func (s *Source) Fetch(_ context.Context) (*inventory.Snapshot, error) {
	return inventory.NewSnapshot(s.users, s.groups)
}

func checkFields(block map[string]any, allowed map[string]bool) error {
	for key := range block {
		if !allowed[key] {
			return errors.NewConfigError("source", "unexpected field "+key, nil)
		}
	}
	return nil
}

func parseUser(block map[string]any) (inventory.User, error) {
	username, err := stringField(block, "username")
	if err != nil {
		return inventory.User{}, err
	}
	if username == "" {
		return inventory.User{}, errors.NewConfigError("source", "user is missing a username", nil)
	}

	user := inventory.User{Username: username, Enabled: true}
	if user.Forename, err = stringField(block, "forename"); err != nil {
		return inventory.User{}, err
	}
	if user.Surname, err = stringField(block, "surname"); err != nil {
		return inventory.User{}, err
	}
	if user.FullName, err = stringField(block, "fullname"); err != nil {
		return inventory.User{}, err
	}
	if user.Emails, err = stringListField(block, "email"); err != nil {
		return inventory.User{}, err
	}
	if user.Groups, err = stringListField(block, "groups"); err != nil {
		return inventory.User{}, err
	}

	locked, err := boolField(block, "locked")
	if err != nil {
		return inventory.User{}, err
	}
	user.Enabled = !locked

	return user, nil
}

func parseGroup(block map[string]any) (inventory.Group, error) {
	name, err := stringField(block, "name")
	if err != nil {
		return inventory.Group{}, err
	}
	if name == "" {
		return inventory.Group{}, errors.NewConfigError("source", "group is missing a name", nil)
	}

	group := inventory.Group{Name: name}
	if group.Description, err = stringField(block, "description"); err != nil {
		return inventory.Group{}, err
	}
	if group.Emails, err = stringListField(block, "email"); err != nil {
		return inventory.Group{}, err
	}
	return group, nil
}

func stringField(block map[string]any, key string) (string, error) {
	v, ok := block[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(key, v, fmt.Sprintf("must be a string, got %T", v))
	}
	return s, nil
}

func stringListField(block map[string]any, key string) ([]string, error) {
	v, ok := block[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, errors.NewValidationError(key, v, fmt.Sprintf("must be a list of strings, got %T", v))
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		s, ok := entry.(string)
		if !ok {
			return nil, errors.NewValidationError(key, entry, fmt.Sprintf("must be a list of strings, got %T", entry))
		}
		out = append(out, s)
	}
	return out, nil
}

func boolField(block map[string]any, key string) (bool, error) {
	v, ok := block[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewValidationError(key, v, fmt.Sprintf("must be a boolean, got %T", v))
	}
	return b, nil
}
