// Package config loads the service settings: built-in defaults, then the
// config file, then command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	dirName  = "AgentViewport"
	fileName = "agent-viewport.config.json"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Port         int      `json:"port" yaml:"port"`
	TargetWidth  int      `json:"targetWidth" yaml:"targetWidth"`
	FPS          int      `json:"fps" yaml:"fps"`
	JPEGQuality  int      `json:"jpegQuality" yaml:"jpegQuality"`
	SafetyHotkey string   `json:"safetyModeHotkey" yaml:"safetyModeHotkey"`
	Display      int      `json:"display" yaml:"display"`
	StaticDir    string   `json:"staticDir,omitempty" yaml:"staticDir,omitempty"`
	LogLevel     string   `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	ICEServers   []string `json:"iceServers,omitempty" yaml:"iceServers,omitempty"`
}

func Default() Config {
	return Config{
		Port:         3000,
		TargetWidth:  2560,
		FPS:          10,
		JPEGQuality:  70,
		SafetyHotkey: "Ctrl+Alt+S",
		LogLevel:     "info",
	}
}

// DefaultPath returns <user config dir>/AgentViewport/agent-viewport.config.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, dirName, fileName), nil
}

// Load reads path over the defaults. A missing file is created with the
// defaults and created is true. Files ending in .yaml or .yml are YAML; all
// others are JSON, with comments and trailing commas allowed.
func Load(path string) (cfg Config, created bool, err error) {
	cfg = Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := cfg.Save(path); err != nil {
			return cfg, false, err
		}
		return cfg, true, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := decode(path, data, &cfg); err != nil {
		return Default(), false, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, false, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(jsonc.ToJSON(data), cfg)
}

// Save writes c to path, creating the parent directory.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "    ")
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port))
	}
	if c.FPS < 1 || c.FPS > 60 {
		errs = append(errs, fmt.Errorf("%w: fps %d out of range 1..60", ErrInvalid, c.FPS))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("%w: jpegQuality %d out of range 1..100", ErrInvalid, c.JPEGQuality))
	}
	if c.TargetWidth < 0 {
		errs = append(errs, fmt.Errorf("%w: targetWidth %d is negative", ErrInvalid, c.TargetWidth))
	}
	if c.Display < 0 {
		errs = append(errs, fmt.Errorf("%w: display %d is negative", ErrInvalid, c.Display))
	}
	if strings.TrimSpace(c.SafetyHotkey) == "" {
		errs = append(errs, fmt.Errorf("%w: safetyModeHotkey is empty", ErrInvalid))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel. Empty means info.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: logLevel %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}

// AddFlags registers one flag per setting on flags.
func AddFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.IntP("port", "p", d.Port, "HTTP listen port")
	flags.Int("fps", d.FPS, "frames per second streamed to viewers")
	flags.Int("target-width", d.TargetWidth, "width frames are scaled down to (0 keeps the native size)")
	flags.Int("quality", d.JPEGQuality, "JPEG quality 1..100")
	flags.String("hotkey", d.SafetyHotkey, "safety hotkey that shuts the service down")
	flags.Int("display", d.Display, "index of the display to capture")
	flags.String("static-dir", d.StaticDir, "directory served at / for the viewer")
	flags.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	flags.StringSlice("ice-server", nil, "STUN/TURN URL for WebRTC sessions (repeatable)")
}

// ApplyFlags overrides c with every flag the user set explicitly.
func (c *Config) ApplyFlags(flags *pflag.FlagSet) error {
	ints := map[string]*int{
		"port":         &c.Port,
		"fps":          &c.FPS,
		"target-width": &c.TargetWidth,
		"quality":      &c.JPEGQuality,
		"display":      &c.Display,
	}
	for name, dst := range ints {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	strs := map[string]*string{
		"hotkey":     &c.SafetyHotkey,
		"static-dir": &c.StaticDir,
		"log-level":  &c.LogLevel,
	}
	for name, dst := range strs {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if flags.Changed("ice-server") {
		v, err := flags.GetStringSlice("ice-server")
		if err != nil {
			return err
		}
		c.ICEServers = v
	}
	return nil
}
