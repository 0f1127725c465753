// ABOUTME: Tests for config and token resolution
// ABOUTME: Covers flag/env precedence and the defaults fallback

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatsync/internal/config"
)

func TestGetConfigPath_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("CHATSYNC_CONFIG", "")

	path, explicit := getConfigPath("")
	assert.Equal(t, filepath.Join(dir, "chatsync", "config.yaml"), path)
	assert.False(t, explicit)

	t.Setenv("CHATSYNC_CONFIG", "/etc/chatsync.toml")
	path, explicit = getConfigPath("")
	assert.Equal(t, "/etc/chatsync.toml", path)
	assert.True(t, explicit)

	path, _ = getConfigPath("./local.yaml")
	assert.Equal(t, "./local.yaml", path)
}

func TestGetToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("CHATSYNC_TOKEN", "")

	assert.Empty(t, getToken())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chatsync"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chatsync", "token"), []byte("from-file\n"), 0o600))
	assert.Equal(t, "from-file", getToken())

	t.Setenv("CHATSYNC_TOKEN", "from-env")
	assert.Equal(t, "from-env", getToken())
}

func TestLoadConfig_MissingDefaultUsesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultWSURL, cfg.Server.WSURL)

	_, err = loadConfig(missing, true)
	assert.Error(t, err)
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  ws_url: wss://chat.example.com/ws/websocket\n"), 0o600))

	cfg, err := loadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws/websocket", cfg.Server.WSURL)
}
