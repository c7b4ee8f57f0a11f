package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Remote store kinds.
const (
	RemoteMemory = "memory"
	RemoteWS     = "ws"
)

// Config represents ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile"`
	UserID         string         `toml:"user_id"`
	Remote         RemoteConfig   `toml:"remote"`
	Outbox         OutboxConfig   `toml:"outbox"`
	Presence       PresenceConfig `toml:"presence"`
	Typing         TypingConfig   `toml:"typing"`
	Log            LogConfig      `toml:"log"`
}

type RemoteConfig struct {
	Kind string `toml:"kind"`
	URL  string `toml:"url"`
}

type OutboxConfig struct {
	Backoff []Duration `toml:"backoff"`
}

type PresenceConfig struct {
	Interval     Duration `toml:"interval"`
	OnlineWindow Duration `toml:"online_window"`
}

type TypingConfig struct {
	TTL Duration `toml:"ttl"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string such as "1.5s".
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a config with every field set.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Remote:         RemoteConfig{Kind: RemoteMemory},
		Outbox: OutboxConfig{Backoff: []Duration{
			D(1 * time.Second), D(2 * time.Second), D(4 * time.Second), D(8 * time.Second), D(16 * time.Second),
		}},
		Presence: PresenceConfig{Interval: D(30 * time.Second), OnlineWindow: D(60 * time.Second)},
		Typing:   TypingConfig{TTL: D(5 * time.Second)},
		Log:      LogConfig{Level: "info"},
	}
}

// BackoffStages returns the configured retry delays.
func (c *Config) BackoffStages() []time.Duration {
	out := make([]time.Duration, 0, len(c.Outbox.Backoff))
	for _, d := range c.Outbox.Backoff {
		if d.Duration > 0 {
			out = append(out, d.Duration)
		}
	}
	return out
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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
