package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/lifecycle/pkg/errors"
	"github.com/agentstation/lifecycle/pkg/targets"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
groups_patterns: ["^eng$"]
source:
  module: staticconfig
  users: []
  groups: []
targets:
  - module: suitecrm
    api_url: https://crm.example.org
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"^eng$"}, cfg.GroupsPatterns)
	assert.Equal(t, "staticconfig", cfg.Source.Module)
	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "suitecrm", cfg.Targets[0].Module)

	url, err := cfg.Targets[0].String("api_url")
	require.NoError(t, err)
	assert.Equal(t, "https://crm.example.org", url)
}

func TestLoadDirectoryMergesSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-source.yml", `
source:
  module: staticconfig
  users: []
  groups: []
targets:
  - module: ldap
`)
	writeFile(t, dir, "20-override.yml", `
targets:
  - module: suitecrm
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	// Later files replace earlier top-level keys wholesale.
	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "suitecrm", cfg.Targets[0].Module)
	assert.Equal(t, "staticconfig", cfg.Source.Module)
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("CRM_SECRET", "hunter2")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
source:
  module: staticconfig
targets:
  - module: suitecrm
    api_secret: ${CRM_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	secret, err := cfg.Targets[0].String("api_secret")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestLoadMissingEnvIsError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
source:
  module: staticconfig
  bind_password: ${DEFINITELY_NOT_SET_ANYWHERE}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "DEFINITELY_NOT_SET_ANYWHERE")
}

func TestLoadRawSkipsSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
source:
  module: staticconfig
  bind_password: ${DEFINITELY_NOT_SET_ANYWHERE}
`)

	cfg, err := Load(path, WithRaw())
	require.NoError(t, err)

	password, err := cfg.Source.String("bind_password")
	require.NoError(t, err)
	assert.Equal(t, "${DEFINITELY_NOT_SET_ANYWHERE}", password)
}

func TestLoadEscapedDollar(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
source:
  module: staticconfig
  bind_password: pa$$word
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	password, err := cfg.Source.String("bind_password")
	require.NoError(t, err)
	assert.Equal(t, "pa$word", password)
}

func TestLoadMissingSourceIsError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
targets:
  - module: suitecrm
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestLoadMissingPathIsError(t *testing.T) {
	_, err := Load("/does/not/exist")
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestModulePolicy(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
source:
  module: staticconfig
targets:
  - module: ldap
    excluded_usernames: ["root", "nobody"]
    groups_patterns: ["^eng$"]
    role_names:
      eng: engineers
    match_by: email
    stages: ["users_create", "users_sync"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 1)

	policy, err := cfg.Targets[0].Policy()
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "nobody"}, policy.ExcludedKeys)
	assert.Equal(t, []string{"^eng$"}, policy.GroupsPatterns)
	assert.Equal(t, map[string]string{"eng": "engineers"}, policy.RoleNames)
	assert.Equal(t, targets.MatchByEmail, policy.MatchBy)
	require.Len(t, policy.Stages, 2)
}

func TestModulePolicyOmittedPatternsStayNil(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
source:
  module: staticconfig
targets:
  - module: ldap
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	policy, err := cfg.Targets[0].Policy()
	require.NoError(t, err)
	assert.Nil(t, policy.GroupsPatterns, "absent patterns inherit the source-level list")
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
source:
  module: staticconfig
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "staticconfig")
}
