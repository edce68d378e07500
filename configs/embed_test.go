package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cgrep/internal/config"
)

func TestProjectConfigTemplate_MatchesDefaults(t *testing.T) {
	// Given: the template written as a project config
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectConfigFile), []byte(ProjectConfigTemplate), 0o644))

	// When: loading it
	cfg, err := config.Load(dir)

	// Then: it validates and yields the built-in defaults
	require.NoError(t, err)
	def := config.NewConfig()
	assert.Equal(t, def.Search, cfg.Search)
	assert.Equal(t, def.Index.ExcludePaths, cfg.Index.ExcludePaths)
	assert.Equal(t, def.Index.MaxFileBytes, cfg.Index.MaxFileBytes)
	assert.Equal(t, def.Cache, cfg.Cache)
	assert.Equal(t, def.Watch, cfg.Watch)
	assert.Equal(t, def.Embeddings.Timeout, cfg.Embeddings.Timeout)
}
