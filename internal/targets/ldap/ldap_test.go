package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/lifecycle/internal/config"
	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/targets"
)

func module(settings map[string]any) config.Module {
	return config.Module{Module: "ldap", Settings: settings}
}

func validSettings() map[string]any {
	return map[string]any{
		"url":           "ldaps://ldap.example.org",
		"base_dn":       "dc=example,dc=org",
		"bind_dn":       "cn=admin,dc=example,dc=org",
		"bind_password": "hunter2",
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(module(validSettings()))
	require.NoError(t, err)

	settings := validSettings()
	delete(settings, "url")
	_, err = New(module(settings))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))

	settings = validSettings()
	delete(settings, "bind_password")
	_, err = New(module(settings))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestNewDefaultsPaths(t *testing.T) {
	target, err := New(module(validSettings()))
	require.NoError(t, err)

	assert.Equal(t, "uid=jsmith,cn=users,cn=accounts,dc=example,dc=org", target.userDN("jsmith"))
	assert.Equal(t, "cn=eng,cn=groups,cn=accounts,dc=example,dc=org", target.roleDN("eng"))
}

func TestNewCustomPaths(t *testing.T) {
	settings := validSettings()
	settings["new_user_group_path"] = "ou=people"
	settings["group_path"] = "ou=groups"
	target, err := New(module(settings))
	require.NoError(t, err)

	assert.Equal(t, "uid=jsmith,ou=people,dc=example,dc=org", target.userDN("jsmith"))
	assert.Equal(t, "cn=eng,ou=groups,dc=example,dc=org", target.roleDN("eng"))
}

func TestCapabilitiesIncludeRoleManagement(t *testing.T) {
	target, err := New(module(validSettings()))
	require.NoError(t, err)

	caps := target.Capabilities()
	assert.True(t, caps.Has(targets.CapabilityCreate))
	assert.True(t, caps.Has(targets.CapabilityDisable))
	assert.True(t, caps.Has(targets.CapabilityRoleManagement))
	assert.True(t, caps.Has(targets.CapabilityEmail))
}
