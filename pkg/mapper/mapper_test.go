package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/lifecycle/pkg/errors"
)

func TestMatchAnchored(t *testing.T) {
	m, err := New([]string{"eng"})
	require.NoError(t, err)

	assert.True(t, m.Match("eng"))
	assert.False(t, m.Match("engineering"), "patterns are whole-string matches")
	assert.False(t, m.Match("x-eng"))
	assert.False(t, m.Match("Eng"), "matching is case-sensitive")
}

func TestMatchExplicitAnchorsStillWork(t *testing.T) {
	m, err := New([]string{"^eng$"})
	require.NoError(t, err)

	assert.True(t, m.Match("eng"))
	assert.False(t, m.Match("engineering"))
}

func TestMatchUnionSemantics(t *testing.T) {
	m, err := New([]string{"eng", `\w\w\d\d\d`})
	require.NoError(t, err)

	assert.True(t, m.Match("eng"))
	assert.True(t, m.Match("ab123"))
	assert.False(t, m.Match("finance"))
}

func TestMapSortsAndSkipsInternalGroups(t *testing.T) {
	m, err := New([]string{"eng", "ops"})
	require.NoError(t, err)

	mappings := m.Map([]string{"ops", "finance", "eng"})
	assert.Equal(t, []Mapping{
		{Group: "eng", Role: "eng"},
		{Group: "ops", Role: "ops"},
	}, mappings)
}

func TestRenames(t *testing.T) {
	m, err := New([]string{"eng"}, WithRenames(map[string]string{"eng": "engineers"}))
	require.NoError(t, err)

	mappings := m.Map([]string{"eng"})
	require.Len(t, mappings, 1)
	assert.Equal(t, "engineers", mappings[0].Role)
	assert.Equal(t, "eng", mappings[0].Group)
}

func TestInvalidPattern(t *testing.T) {
	_, err := New([]string{"("})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestNilMapperMatchesNothing(t *testing.T) {
	var m *Mapper
	assert.False(t, m.Match("eng"))
}
