package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulsync/encoder"
	"soulsync/lipsync"
)

// isolate runs the test from an empty directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	d := DefaultConfig()
	assert.Equal(t, "http://127.0.0.1:5000", cfg.Backend.URL)
	assert.Equal(t, 60*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, d.Avatar, cfg.Avatar)
	assert.Equal(t, "upper-body.glb", cfg.Avatar.Asset)
	assert.Equal(t, encoder.WAV, cfg.UploadFormat())
	assert.True(t, cfg.Audio.Cues)
	assert.False(t, cfg.Hotkey.Enabled)
	assert.Equal(t, lipsync.FixedSchedule{}, cfg.Scheduler())
	assert.Equal(t, 100*time.Millisecond, cfg.LipSync.Decay)
	assert.Nil(t, cfg.Shapes())

	tr := cfg.Transform()
	assert.InDelta(t, -1.5, tr.Position.Y(), 1e-6)
	assert.InDelta(t, 2.5, tr.Position.Z(), 1e-6)
	assert.InDelta(t, 2.0, tr.Scale, 1e-6)
}

func TestYAMLFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "soulsync.yaml"), `
backend:
  url: http://therapist.local:8080
  timeout: 5s
audio:
  format: flac
  cues: false
avatar:
  asset: face.gltf
  position: [1, 2, 3]
lipsync:
  scheduler: text
  decay: 80ms
  shapes:
    A: [jawOpen]
    O: [mouthFunnel, mouthPucker]
`)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://therapist.local:8080", cfg.Backend.URL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, encoder.FLAC, cfg.UploadFormat())
	assert.False(t, cfg.Audio.Cues)
	assert.Equal(t, "face.gltf", cfg.Avatar.Asset)
	assert.Equal(t, []float32{1, 2, 3}, cfg.Avatar.Position)
	assert.Equal(t, lipsync.DefaultTextSchedule(), cfg.Scheduler())
	assert.Equal(t, 80*time.Millisecond, cfg.LipSync.Decay)
	assert.Equal(t, lipsync.ShapeMap{
		lipsync.A: {"jawOpen"},
		lipsync.O: {"mouthFunnel", "mouthPucker"},
	}, cfg.Shapes())
}

func TestUserConfigDir(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "xdg", "soulsync", "soulsync.yaml"), "hotkey:\n  enabled: true\n")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.True(t, cfg.Hotkey.Enabled)
}

func TestPrecedence(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "soulsync.yaml"), "backend:\n  url: http://file:1\naudio:\n  device: file-mic\n")
	t.Setenv("SOULSYNC_BACKEND_URL", "http://env:2")
	t.Setenv("SOULSYNC_AVATAR_POSITION", "0,0,1")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://env:2", cfg.Backend.URL)
	assert.Equal(t, "file-mic", cfg.Audio.Device)
	assert.Equal(t, []float32{0, 0, 1}, cfg.Avatar.Position)

	cfg, err = Load("", map[string]any{"backend.url": "http://flag:3"})
	require.NoError(t, err)
	assert.Equal(t, "http://flag:3", cfg.Backend.URL)
}

func TestDotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "SOULSYNC_LIPSYNC_SCHEDULER=text\n")
	t.Cleanup(func() { os.Unsetenv("SOULSYNC_LIPSYNC_SCHEDULER") })

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.LipSync.Scheduler)
}

func TestExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "avatar:\n  scale: 3\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(3), cfg.Avatar.Scale)

	_, err = Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.Backend.URL = "" }},
		{"negative timeout", func(c *Config) { c.Backend.Timeout = -time.Second }},
		{"bad format", func(c *Config) { c.Audio.Format = "ogg" }},
		{"short position", func(c *Config) { c.Avatar.Position = []float32{1, 2} }},
		{"long rotation", func(c *Config) { c.Avatar.Rotation = []float32{1, 2, 3, 4} }},
		{"zero scale", func(c *Config) { c.Avatar.Scale = 0 }},
		{"bad scheduler", func(c *Config) { c.LipSync.Scheduler = "random" }},
		{"bad shape", func(c *Config) { c.LipSync.Shapes = map[string][]string{"sil": {"x"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}
