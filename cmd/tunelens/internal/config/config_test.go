// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TUNELENS_CLIENT_ID", "client")
	t.Setenv("TUNELENS_CACHE_PATH", filepath.Join(t.TempDir(), "cache.db"))
	t.Setenv("TUNELENS_TOKEN_PATH", filepath.Join(t.TempDir(), "tokens.db"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("TestLoadDefaults: got err == %s, want err == nil", err)
	}
	if cfg.ClientID != "client" {
		t.Errorf("TestLoadDefaults: ClientID == %q, want client", cfg.ClientID)
	}
	if cfg.RedirectURI != "http://127.0.0.1:8888/callback" {
		t.Errorf("TestLoadDefaults: RedirectURI == %q", cfg.RedirectURI)
	}
	if cfg.TracksWindow != time.Hour || cfg.ReleasesWindow != 6*time.Hour || cfg.ProfileWindow != 24*time.Hour {
		t.Errorf("TestLoadDefaults: unexpected windows %s %s %s", cfg.TracksWindow, cfg.ReleasesWindow, cfg.ProfileWindow)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("TestLoadDefaults: LogLevel == %s, want WARN", cfg.LogLevel)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("TestLoadDefaults: HTTPTimeout == %s, want 30s", cfg.HTTPTimeout)
	}
}

func TestLoadDefaultPaths(t *testing.T) {
	t.Setenv("TUNELENS_CLIENT_ID", "client")
	t.Setenv("TUNELENS_CACHE_PATH", "")
	t.Setenv("TUNELENS_TOKEN_PATH", "")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("TestLoadDefaultPaths: got err == %s, want err == nil", err)
	}
	if filepath.Base(cfg.CachePath) != "cache.db" || filepath.Base(filepath.Dir(cfg.CachePath)) != "tunelens" {
		t.Errorf("TestLoadDefaultPaths: CachePath == %q", cfg.CachePath)
	}
	if filepath.Base(cfg.TokenPath) != "tokens.db" || filepath.Base(filepath.Dir(cfg.TokenPath)) != "tunelens" {
		t.Errorf("TestLoadDefaultPaths: TokenPath == %q", cfg.TokenPath)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		desc string
		env  map[string]string
		want string
	}{
		{
			desc: "missing client id",
			env:  map[string]string{},
			want: "TUNELENS_CLIENT_ID",
		},
		{
			desc: "bad window",
			env:  map[string]string{"TUNELENS_CLIENT_ID": "c", "TUNELENS_TRACKS_WINDOW": "soon"},
			want: "parse env",
		},
		{
			desc: "negative window",
			env:  map[string]string{"TUNELENS_CLIENT_ID": "c", "TUNELENS_PROFILE_WINDOW": "-1h"},
			want: "TUNELENS_PROFILE_WINDOW",
		},
		{
			desc: "bad log level",
			env:  map[string]string{"TUNELENS_CLIENT_ID": "c", "TUNELENS_LOG_LEVEL": "loud"},
			want: "parse env",
		},
		{
			desc: "seal key with redis",
			env:  map[string]string{"TUNELENS_CLIENT_ID": "c", "TUNELENS_REDIS_ADDR": "127.0.0.1:6379", "TUNELENS_SEAL_KEY": "a2V5"},
			want: "TUNELENS_SEAL_KEY",
		},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			t.Setenv("TUNELENS_CLIENT_ID", "")
			t.Setenv("TUNELENS_CACHE_PATH", filepath.Join(t.TempDir(), "cache.db"))
			t.Setenv("TUNELENS_TOKEN_PATH", filepath.Join(t.TempDir(), "tokens.db"))
			for k, v := range test.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("TestLoad(%s): got err == nil, want err != nil", test.desc)
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("TestLoad(%s): got err == %s, want it to mention %s", test.desc, err, test.want)
			}
		})
	}
}
