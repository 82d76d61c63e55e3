package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".readygate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules: tcp port 5432 ready
ready-timeout: 30s
retries: 5
cwd: /srv/app
env:
  PGHOST: localhost
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "tcp port 5432 ready", cfg.Rules)
	require.Equal(t, "30s", cfg.ReadyTimeout)
	require.NotNil(t, cfg.Retries)
	require.Equal(t, uint64(5), *cfg.Retries)
	require.Equal(t, "/srv/app", cfg.Cwd)
	require.Equal(t, map[string]string{"PGHOST": "localhost"}, cfg.Env)
}

func TestLoadOptional_MissingFileIsEmpty(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, &File{}, cfg)
}

func TestLoadFromFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: [unclosed"), 0o600))
	_, err := LoadFromFile(path)
	require.Error(t, err)
}
