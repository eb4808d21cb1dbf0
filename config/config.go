// Package config layers defaults, soulsync.yaml, .env, SOULSYNC_*
// environment variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"soulsync/avatar"
	"soulsync/chat"
	"soulsync/encoder"
	"soulsync/lipsync"
)

type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Avatar  AvatarConfig  `mapstructure:"avatar"`
	LipSync LipSyncConfig `mapstructure:"lipsync"`
	Hotkey  HotkeyConfig  `mapstructure:"hotkey"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AudioConfig struct {
	Device string `mapstructure:"device"`
	Format string `mapstructure:"format"`
	Cues   bool   `mapstructure:"cues"`
}

type AvatarConfig struct {
	Asset    string    `mapstructure:"asset"`
	Position []float32 `mapstructure:"position"`
	Rotation []float32 `mapstructure:"rotation"`
	Scale    float32   `mapstructure:"scale"`
}

type LipSyncConfig struct {
	Scheduler string              `mapstructure:"scheduler"`
	Decay     time.Duration       `mapstructure:"decay"`
	Shapes    map[string][]string `mapstructure:"shapes"`
}

type HotkeyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func DefaultConfig() Config {
	t := avatar.DefaultTransform()
	return Config{
		Backend: BackendConfig{URL: chat.DefaultBaseURL, Timeout: 60 * time.Second},
		Audio:   AudioConfig{Format: string(encoder.WAV), Cues: true},
		Avatar: AvatarConfig{
			Asset:    "upper-body.glb",
			Position: t.Position[:],
			Rotation: t.Rotation[:],
			Scale:    t.Scale,
		},
		LipSync: LipSyncConfig{Scheduler: "fixed", Decay: lipsync.DefaultDecay},
	}
}

// envFiles are loaded into the process environment before SOULSYNC_*
// variables are read. Variables already set win.
var envFiles = []string{".env"}

// Load reads configuration. file, when set, replaces the search for
// soulsync.yaml; overrides are keyed like the YAML ("backend.url") and beat
// every other source.
func Load(file string, overrides map[string]any) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SOULSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("soulsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "soulsync"))
		}
		v.AddConfigPath("$HOME/.soulsync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.format", d.Audio.Format)
	v.SetDefault("audio.cues", d.Audio.Cues)
	v.SetDefault("avatar.asset", d.Avatar.Asset)
	v.SetDefault("avatar.position", d.Avatar.Position)
	v.SetDefault("avatar.rotation", d.Avatar.Rotation)
	v.SetDefault("avatar.scale", d.Avatar.Scale)
	v.SetDefault("lipsync.scheduler", d.LipSync.Scheduler)
	v.SetDefault("lipsync.decay", d.LipSync.Decay)
	v.SetDefault("lipsync.shapes", map[string][]string{})
	v.SetDefault("hotkey.enabled", d.Hotkey.Enabled)
}

func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("invalid backend.timeout: %s", c.Backend.Timeout)
	}
	if _, err := encoder.ParseFormat(c.Audio.Format); err != nil {
		return fmt.Errorf("invalid audio.format: %w", err)
	}
	if len(c.Avatar.Position) != 3 {
		return fmt.Errorf("avatar.position needs 3 components, got %d", len(c.Avatar.Position))
	}
	if len(c.Avatar.Rotation) != 3 {
		return fmt.Errorf("avatar.rotation needs 3 components, got %d", len(c.Avatar.Rotation))
	}
	if c.Avatar.Scale <= 0 {
		return fmt.Errorf("invalid avatar.scale: %v", c.Avatar.Scale)
	}
	if c.LipSync.Scheduler != "fixed" && c.LipSync.Scheduler != "text" {
		return fmt.Errorf("invalid lipsync.scheduler: %s (must be fixed or text)", c.LipSync.Scheduler)
	}
	for name := range c.LipSync.Shapes {
		if _, ok := lipsync.ParseViseme(name); !ok {
			return fmt.Errorf("invalid lipsync.shapes key: %s", name)
		}
	}
	return nil
}

func (c *Config) Transform() avatar.Transform {
	a := c.Avatar
	return avatar.Transform{
		Position: mgl32.Vec3{a.Position[0], a.Position[1], a.Position[2]},
		Rotation: mgl32.Vec3{a.Rotation[0], a.Rotation[1], a.Rotation[2]},
		Scale:    a.Scale,
	}
}

func (c *Config) Scheduler() lipsync.Scheduler {
	if c.LipSync.Scheduler == "text" {
		return lipsync.DefaultTextSchedule()
	}
	return lipsync.FixedSchedule{}
}

func (c *Config) Shapes() lipsync.ShapeMap {
	if len(c.LipSync.Shapes) == 0 {
		return nil
	}
	m := make(lipsync.ShapeMap, len(c.LipSync.Shapes))
	for name, targets := range c.LipSync.Shapes {
		v, _ := lipsync.ParseViseme(name)
		m[v] = append(m[v], targets...)
	}
	return m
}

func (c *Config) UploadFormat() encoder.Format {
	f, _ := encoder.ParseFormat(c.Audio.Format)
	return f
}
