package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(content)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "xpouch.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadFileAppliesValues(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"server_base_url":  "http://example.test:9000",
		"restore_debounce": "10s",
		"mirror_size":      8,
		"dev_server": map[string]any{
			"port": 9001,
		},
	})

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:9000", cfg.ServerBaseURL)
	assert.Equal(t, 10*time.Second, cfg.RestoreDebounce)
	assert.Equal(t, 8, cfg.MirrorSize)
	assert.Equal(t, 9001, cfg.DevServer.Port)
	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost", cfg.DevServer.Host)
	assert.True(t, cfg.RestoreEnabled)
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, map[string]any{})
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8098", cfg.ServerBaseURL)
	assert.Equal(t, 5*time.Second, cfg.RestoreDebounce)
	assert.Equal(t, time.Second, cfg.StreamBackoff)
	assert.Equal(t, "task_session", cfg.MetricsNamespace)
}

func TestLoadFileRejectsNonPositiveDebounce(t *testing.T) {
	path := writeConfig(t, map[string]any{"restore_debounce": "0s"})
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissingPathFails(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
