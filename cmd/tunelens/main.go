// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Command tunelens signs a user in to the music streaming Web API and prints their
// listening statistics from a local cache.
//
// Usage:
//
//	tunelens <command> [flags]
//
// The commands are login, logout, whoami, tracks, artists, releases, summary and refresh.
// Settings come from TUNELENS_* environment variables; TUNELENS_CLIENT_ID is required.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	tlerrors "github.com/tunelens/tunelens-go/apps/errors"
	"github.com/tunelens/tunelens-go/apps/public"
	"github.com/tunelens/tunelens-go/apps/tokenstore"
	"github.com/tunelens/tunelens-go/apps/tokenstore/bolt"
	tsredis "github.com/tunelens/tunelens-go/apps/tokenstore/redis"
	"github.com/tunelens/tunelens-go/cmd/tunelens/internal/config"
	"github.com/tunelens/tunelens-go/cmd/tunelens/internal/telemetry"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// env is what every command runs with.
type env struct {
	client *public.Client
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"login":    {"sign in with the browser", runLogin},
	"logout":   {"forget the stored tokens and cached records", runLogout},
	"whoami":   {"print the signed in user's profile", runWhoami},
	"tracks":   {"print the top tracks", runTracks},
	"artists":  {"print the top artists", runArtists},
	"releases": {"print new album releases", runReleases},
	"summary":  {"summarize the top tracks", runSummary},
	"refresh":  {"fetch the top tracks, top artists and profile", runRefresh},
}

var commandOrder = []string{"login", "logout", "whoami", "tracks", "artists", "releases", "summary", "refresh"}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: tunelens <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run tunelens <command> -h for the command's flags.")
}

// errUsage is returned by commands given bad flags. The flag package already printed why.
var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return exitOK
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, "tunelens", version)
		return exitOK
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "tunelens: unknown command %q\n\n", args[0])
		usage(stderr)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	tp, shutdown, err := telemetry.Setup(ctx, cfg.OTelEndpoint, version)
	if err != nil {
		fmt.Fprintf(stderr, "Error: set up tracing: %v\n", err)
		return exitError
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("flush traces", "error", err)
		}
	}()

	client, closeAll, err := newClient(ctx, cfg, log, public.WithTracerProvider(tp))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer closeAll()

	e := &env{client: client, log: log, stdout: stdout, stderr: stderr}
	switch err := cmd.run(ctx, e, args[1:]); {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, tlerrors.ErrLoggedOut):
		fmt.Fprintln(stderr, "Error: not signed in; run tunelens login")
		return exitError
	case errors.Is(err, tlerrors.ErrUnauthorized):
		fmt.Fprintln(stderr, "Error: the session has ended; run tunelens login")
		return exitError
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

// newClient opens the cache and token store named by cfg and builds a Client on them.
// closeAll releases all three.
func newClient(ctx context.Context, cfg config.Config, log *slog.Logger, extra ...public.Option) (*public.Client, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close", "error", err)
			}
		}
	}

	tokens, closeTokens, err := openTokenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeTokens)

	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o700); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	cache, err := public.OpenCache(ctx, cfg.CachePath)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	closers = append(closers, cache.Close)

	options := []public.Option{
		public.WithRedirectURI(cfg.RedirectURI),
		public.WithAuthority(cfg.Authority),
		public.WithAPIBase(cfg.APIBase),
		public.WithTokenStore(tokens),
		public.WithStore(cache),
		public.WithCacheWindows(public.Windows{
			Tracks:   cfg.TracksWindow,
			Artists:  cfg.ArtistsWindow,
			Releases: cfg.ReleasesWindow,
			Profile:  cfg.ProfileWindow,
		}),
		public.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		public.WithLogger(log),
		public.WithLoggedOutHook(func() {
			log.Warn("the accounts service rejected the stored refresh token; sign in again with tunelens login")
		}),
	}
	if cfg.ClientSecret != "" {
		options = append(options, public.WithClientSecret(cfg.ClientSecret))
	}
	client, err := public.New(cfg.ClientID, append(options, extra...)...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, client.Close)
	return client, closeAll, nil
}

func openTokenStore(cfg config.Config) (tokenstore.Store, func() error, error) {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return tsredis.New(rdb, cfg.RedisPrefix), rdb.Close, nil
	}

	var opts []bolt.Option
	if cfg.SealKey != "" {
		key, err := bolt.ParseKey(cfg.SealKey)
		if err != nil {
			return nil, nil, fmt.Errorf("TUNELENS_SEAL_KEY: %w", err)
		}
		opts = append(opts, bolt.WithKey(key))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.TokenPath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create token dir: %w", err)
	}
	s, err := bolt.Open(cfg.TokenPath, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open token store: %w", err)
	}
	return s, s.Close, nil
}
