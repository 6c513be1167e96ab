package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{"tim-small-preview", "tim-gpt", "tim-large"}, c.EngineIDs())
	assert.Equal(t, []string{"web_search", "webpage_understanding", "exa_search"}, c.ToolIDs())
}

func TestValidateEngine(t *testing.T) {
	c := Default()
	require.NoError(t, c.ValidateEngine("tim-gpt"))

	err := c.ValidateEngine("gpt-9")
	var invalid *InvalidEngineError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "gpt-9", invalid.ID)
	assert.Contains(t, err.Error(), "Invalid engine 'gpt-9'")
	assert.Contains(t, err.Error(), "tim-small-preview, tim-gpt, tim-large")
}

func TestFilterTools(t *testing.T) {
	c := Default()

	valid, dropped := c.FilterTools(nil)
	assert.Equal(t, c.ToolIDs(), valid)
	assert.Empty(t, dropped)

	valid, dropped = c.FilterTools([]string{"exa_search", "bogus", "exa_search", "web_search"})
	assert.Equal(t, []string{"exa_search", "web_search"}, valid)
	assert.Equal(t, []string{"bogus"}, dropped)

	valid, _ = c.FilterTools([]string{})
	assert.Empty(t, valid)
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]Entry{{ID: "a"}, {ID: "a"}}, nil)
	require.Error(t, err)

	_, err = New(nil, nil)
	require.Error(t, err)

	_, err = New([]Entry{{ID: "a"}}, []Entry{{ID: " "}})
	require.Error(t, err)
}

func TestLoadOverridesEngines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := "engines:\n  - id: tim-edge\n    name: TIM Edge\n    description: Edge engine\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tim-edge"}, c.EngineIDs())
	assert.Equal(t, Default().ToolIDs(), c.ToolIDs())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMarshalYAMLRoundTripsThroughLoad(t *testing.T) {
	data, err := yaml.Marshal(Default())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Engines(), c.Engines())
	assert.Equal(t, Default().Tools(), c.Tools())
}
