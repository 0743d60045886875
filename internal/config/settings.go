package config

import (
	"fmt"

	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/plan"
	"github.com/agentstation/lifecycle/pkg/targets"
)

// String returns a string setting. Missing keys return the empty string.
func (m Module) String(key string) (string, error) {
	v, ok := m.Settings[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(key, v, "must be a string")
	}
	return s, nil
}

// Bool returns a boolean setting with a default for missing keys.
func (m Module) Bool(key string, fallback bool) (bool, error) {
	v, ok := m.Settings[key]
	if !ok || v == nil {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewValidationError(key, v, "must be a boolean")
	}
	return b, nil
}

// Int returns an integer setting with a default for missing keys.
func (m Module) Int(key string, fallback int) (int, error) {
	v, ok := m.Settings[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, errors.NewValidationError(key, v, "must be an integer")
	}
}

// StringSlice returns a list-of-strings setting. Missing keys return nil,
// which callers must distinguish from an explicit empty list.
func (m Module) StringSlice(key string) ([]string, error) {
	v, ok := m.Settings[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, err := toStringSlice(v)
	if err != nil {
		return nil, errors.NewValidationError(key, v, "must be a list of strings")
	}
	return list, nil
}

// StringMap returns a string-to-string mapping setting.
func (m Module) StringMap(key string) (map[string]string, error) {
	v, ok := m.Settings[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, errors.NewValidationError(key, v, "must be a mapping of strings")
	}
	out := make(map[string]string, len(raw))
	for k, value := range raw {
		s, ok := value.(string)
		if !ok {
			return nil, errors.NewValidationError(key, value, "must be a mapping of strings")
		}
		out[k] = s
	}
	return out, nil
}

// List returns a list-of-mappings setting, as used for inline users/groups.
func (m Module) List(key string) ([]map[string]any, error) {
	v, ok := m.Settings[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, errors.NewValidationError(key, v, "must be a list")
	}
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		mapping, ok := entry.(map[string]any)
		if !ok {
			return nil, errors.NewValidationError(key, entry, "must be a list of mappings")
		}
		out = append(out, mapping)
	}
	return out, nil
}

func toStringSlice(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		s, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", entry)
		}
		out = append(out, s)
	}
	return out, nil
}

// Policy builds the target's reconciliation policy from its settings block.
// The policy keys are shared across all target modules; everything else in
// the block belongs to the adapter.
func (m Module) Policy() (targets.Policy, error) {
	var policy targets.Policy

	excluded, err := m.StringSlice("excluded_usernames")
	if err != nil {
		return policy, err
	}
	policy.ExcludedKeys = excluded

	patterns, err := m.StringSlice("groups_patterns")
	if err != nil {
		return policy, err
	}
	policy.GroupsPatterns = patterns

	renames, err := m.StringMap("role_names")
	if err != nil {
		return policy, err
	}
	policy.RoleNames = renames

	matchBy, err := m.String("match_by")
	if err != nil {
		return policy, err
	}
	policy.MatchBy = targets.MatchBy(matchBy)

	stages, err := m.StringSlice("stages")
	if err != nil {
		return policy, err
	}
	for _, stage := range stages {
		policy.Stages = append(policy.Stages, plan.Stage(stage))
	}

	return policy, nil
}
