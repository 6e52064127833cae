package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("30s", "10m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// D wraps a time.Duration.
func D(v time.Duration) Duration { return Duration{v} }

// Config represents the global ~/.wallwatch/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	Watcher        WatcherConfig `toml:"watcher"`
	Source         SourceConfig  `toml:"source"`
	Watches        []WatchConfig `toml:"watch"`
}

// WatcherConfig tunes scheduling, pagination and retries for all walls.
type WatcherConfig struct {
	BaseShortPeriod      Duration `toml:"base_short_period"`
	BaseLongPeriod       Duration `toml:"base_long_period"`
	ShortPeriodIncrement Duration `toml:"short_period_increment"`
	LongPeriodIncrement  Duration `toml:"long_period_increment"`
	MaxShortPeriod       Duration `toml:"max_short_period"`
	MaxLongPeriod        Duration `toml:"max_long_period"`
	ReconnectionWindow   Duration `toml:"reconnection_window"`
	RetryDelay           Duration `toml:"retry_delay"`
	APIAttempts          int      `toml:"api_attempts"`
	MaxPageSize          int      `toml:"max_page_size"`
	FirstPageSize        int      `toml:"first_page_size"`
	CountOffset          int      `toml:"count_offset"`
}

// SourceConfig points at the wall API.
type SourceConfig struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// WindowConfig bounds a check by age and/or count. Zero is unset.
type WindowConfig struct {
	Period Duration `toml:"period"`
	Limit  int      `toml:"limit"`
}

// WatchConfig is a wall watched from daemon start.
type WatchConfig struct {
	WallID       int64        `toml:"wall_id"`
	WatchEditing bool         `toml:"watch_editing"`
	Window       WindowConfig `toml:"window"`
	ShortWindow  WindowConfig `toml:"short_window"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{
			BaseShortPeriod:      D(30 * time.Second),
			BaseLongPeriod:       D(10 * time.Minute),
			ShortPeriodIncrement: D(15 * time.Second),
			LongPeriodIncrement:  D(5 * time.Minute),
			MaxShortPeriod:       D(5 * time.Minute),
			MaxLongPeriod:        D(time.Hour),
			ReconnectionWindow:   D(10 * time.Minute),
			RetryDelay:           D(time.Second),
			APIAttempts:          5,
			MaxPageSize:          100,
			FirstPageSize:        10,
		},
		Source: SourceConfig{
			Timeout: D(30 * time.Second),
		},
	}
}

// DefaultWatch returns the windows used by `start` when none are given.
func DefaultWatch(wallID int64) WatchConfig {
	return WatchConfig{
		WallID:      wallID,
		Window:      WindowConfig{Period: D(24 * time.Hour), Limit: 100},
		ShortWindow: WindowConfig{Limit: 10},
	}
}

// Load reads config from the given path on top of Default. Unknown keys are
// an error. Returns nil config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects settings the watcher cannot run with.
func (c *Config) Validate() error {
	w := c.Watcher
	if w.BaseShortPeriod.Duration <= 0 || w.BaseLongPeriod.Duration <= 0 {
		return errors.New("watcher: base periods must be positive")
	}
	if w.MaxShortPeriod.Duration < w.BaseShortPeriod.Duration || w.MaxLongPeriod.Duration < w.BaseLongPeriod.Duration {
		return errors.New("watcher: max period below base period")
	}
	if w.MaxPageSize <= 0 || w.FirstPageSize <= 0 || w.FirstPageSize > w.MaxPageSize {
		return fmt.Errorf("watcher: first_page_size must be in 1..max_page_size (%d)", w.MaxPageSize)
	}
	if w.APIAttempts <= 0 {
		return errors.New("watcher: api_attempts must be positive")
	}
	if w.CountOffset < 0 {
		return errors.New("watcher: count_offset must not be negative")
	}

	seen := make(map[int64]bool, len(c.Watches))
	for _, wc := range c.Watches {
		if wc.WallID == 0 {
			return errors.New("watch: wall_id is required")
		}
		if seen[wc.WallID] {
			return fmt.Errorf("watch %d: listed twice", wc.WallID)
		}
		seen[wc.WallID] = true
		if wc.Window.empty() || wc.ShortWindow.empty() {
			return fmt.Errorf("watch %d: window and short_window need a period or a limit", wc.WallID)
		}
	}
	return nil
}

func (w WindowConfig) empty() bool {
	return w.Period.Duration <= 0 && w.Limit <= 0
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
