// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package config reads the tunelens command's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every TUNELENS_* setting.
type Config struct {
	ClientID     string `env:"TUNELENS_CLIENT_ID,notEmpty"`
	ClientSecret string `env:"TUNELENS_CLIENT_SECRET"`
	RedirectURI  string `env:"TUNELENS_REDIRECT_URI" envDefault:"http://127.0.0.1:8888/callback"`
	Authority    string `env:"TUNELENS_AUTHORITY" envDefault:"https://accounts.spotify.com"`
	APIBase      string `env:"TUNELENS_API_BASE" envDefault:"https://api.spotify.com/v1"`

	// CachePath and TokenPath default to files in the user's cache and config directories.
	CachePath string `env:"TUNELENS_CACHE_PATH"`
	TokenPath string `env:"TUNELENS_TOKEN_PATH"`
	// SealKey is a base64 key that encrypts the token file.
	SealKey string `env:"TUNELENS_SEAL_KEY"`

	// RedisAddr keeps tokens in redis instead of the token file.
	RedisAddr   string `env:"TUNELENS_REDIS_ADDR"`
	RedisPrefix string `env:"TUNELENS_REDIS_PREFIX" envDefault:"tunelens"`

	TracksWindow   time.Duration `env:"TUNELENS_TRACKS_WINDOW" envDefault:"1h"`
	ArtistsWindow  time.Duration `env:"TUNELENS_ARTISTS_WINDOW" envDefault:"1h"`
	ReleasesWindow time.Duration `env:"TUNELENS_RELEASES_WINDOW" envDefault:"6h"`
	ProfileWindow  time.Duration `env:"TUNELENS_PROFILE_WINDOW" envDefault:"24h"`

	HTTPTimeout  time.Duration `env:"TUNELENS_HTTP_TIMEOUT" envDefault:"30s"`
	OTelEndpoint string        `env:"TUNELENS_OTEL_ENDPOINT"`
	LogLevel     slog.Level    `env:"TUNELENS_LOG_LEVEL" envDefault:"warn"`
}

// Load parses the environment and fills in the default file locations.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.CachePath == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return Config{}, fmt.Errorf("TUNELENS_CACHE_PATH is unset and there is no cache directory: %w", err)
		}
		cfg.CachePath = filepath.Join(dir, "tunelens", "cache.db")
	}
	if cfg.TokenPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("TUNELENS_TOKEN_PATH is unset and there is no config directory: %w", err)
		}
		cfg.TokenPath = filepath.Join(dir, "tunelens", "tokens.db")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, d := range map[string]time.Duration{
		"TUNELENS_TRACKS_WINDOW":   c.TracksWindow,
		"TUNELENS_ARTISTS_WINDOW":  c.ArtistsWindow,
		"TUNELENS_RELEASES_WINDOW": c.ReleasesWindow,
		"TUNELENS_PROFILE_WINDOW":  c.ProfileWindow,
		"TUNELENS_HTTP_TIMEOUT":    c.HTTPTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.RedisAddr != "" && c.SealKey != "" {
		return errors.New("TUNELENS_SEAL_KEY only applies to the token file and cannot be combined with TUNELENS_REDIS_ADDR")
	}
	return nil
}
