package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", fileName)

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Default(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.EqualValues(t, 3000, onDisk["port"])
	assert.Equal(t, "Ctrl+Alt+S", onDisk["safetyModeHotkey"])

	_, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLoadJSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
	// slower stream for a remote link
	"fps": 5,
	"jpegQuality": 50, /* smaller frames */
}`), 0o644))

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 5, cfg.FPS)
	assert.Equal(t, 50, cfg.JPEGQuality)
	assert.Equal(t, 3000, cfg.Port, "unset keys keep defaults")
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8080\nsafetyModeHotkey: Ctrl+Shift+Q\niceServers:\n  - stun:example.org:3478\n"), 0o644))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "Ctrl+Shift+Q", cfg.SafetyHotkey)
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers)
	assert.Equal(t, 10, cfg.FPS)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "x"}`), 0o644))

	cfg, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.Equal(t, Default(), cfg)
}

func TestFlagsOverrideFile(t *testing.T) {
	cfg := Default()
	cfg.FPS = 5
	cfg.StaticDir = "/srv/www"

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"-p", "4000", "--hotkey", "Ctrl+Q", "--ice-server", "stun:a:1", "--ice-server", "stun:b:2"}))
	require.NoError(t, cfg.ApplyFlags(fs))

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "Ctrl+Q", cfg.SafetyHotkey)
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, cfg.ICEServers)
	assert.Equal(t, 5, cfg.FPS, "unset flags leave file values")
	assert.Equal(t, "/srv/www", cfg.StaticDir)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	bad := Default()
	bad.Port = 0
	bad.FPS = 0
	bad.JPEGQuality = 101
	bad.SafetyHotkey = " "
	bad.LogLevel = "loud"
	err := bad.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"port", "fps", "jpegQuality", "safetyModeHotkey", "logLevel"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError} {
		c := Default()
		c.LogLevel = in
		l, err := c.Level()
		require.NoError(t, err, in)
		assert.Equal(t, want, l, in)
	}
}

func TestDefaultPath(t *testing.T) {
	p, err := DefaultPath()
	if err != nil {
		t.Skip("no user config dir:", err)
	}
	assert.Equal(t, fileName, filepath.Base(p))
	assert.Equal(t, dirName, filepath.Base(filepath.Dir(p)))
}
