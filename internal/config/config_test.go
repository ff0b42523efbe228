package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ftpmirror/internal/config"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "ftpmirror")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Protocol)
	assert.Nil(t, cfg.Defaults.Verifiers)
	assert.Nil(t, cfg.Scanner.Command)
	assert.Empty(t, cfg.Filter.Exclude)
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
protocol = "sftp"
passive = true
ledger = "sqlite"
verifiers = 4
bwlimit = "10M"
timeout = "30s"
revalidate = false

[scanner]
command = "clamdscan"
args = ["--no-summary", "--infected", "{}"]

[filter]
exclude = ["*.tmp", "cache/"]
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Protocol)
	assert.Equal(t, "sftp", *cfg.Defaults.Protocol)

	require.NotNil(t, cfg.Defaults.Passive)
	assert.True(t, *cfg.Defaults.Passive)

	require.NotNil(t, cfg.Defaults.Ledger)
	assert.Equal(t, "sqlite", *cfg.Defaults.Ledger)

	require.NotNil(t, cfg.Defaults.Verifiers)
	assert.Equal(t, 4, *cfg.Defaults.Verifiers)

	require.NotNil(t, cfg.Defaults.BWLimit)
	assert.Equal(t, "10M", *cfg.Defaults.BWLimit)

	require.NotNil(t, cfg.Defaults.Timeout)
	assert.Equal(t, "30s", *cfg.Defaults.Timeout)

	require.NotNil(t, cfg.Defaults.Revalidate)
	assert.False(t, *cfg.Defaults.Revalidate)

	require.NotNil(t, cfg.Scanner.Command)
	assert.Equal(t, "clamdscan", *cfg.Scanner.Command)
	assert.Equal(t, []string{"--no-summary", "--infected", "{}"}, cfg.Scanner.Args)

	assert.Equal(t, []string{"*.tmp", "cache/"}, cfg.Filter.Exclude)
}

func TestLoad_PartialConfig(t *testing.T) {
	writeConfig(t, `
[filter]
exclude = ["*.part"]
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	// Defaults section entirely absent.
	assert.Nil(t, cfg.Defaults.Protocol)
	assert.Nil(t, cfg.Defaults.Revalidate)
	assert.Equal(t, []string{"*.part"}, cfg.Filter.Exclude)
}

func TestLoad_InvalidTOML(t *testing.T) {
	writeConfig(t, "invalid [[[")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	writeConfig(t, `
[defaults]
workers = 16
`)

	_, err := config.Load()
	var unknown *config.UnknownKeysError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"defaults.workers"}, unknown.Keys)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/ftpmirror/config.toml", config.Path())
}
