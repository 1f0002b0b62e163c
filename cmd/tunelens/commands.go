// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tunelens/tunelens-go/apps/public"
)

// loginTimeout bounds how long login waits for the user to finish in the browser.
const loginTimeout = 5 * time.Minute

func newFlagSet(e *env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("tunelens "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return errUsage
	}
	return nil
}

// parseRange accepts short, medium and long as well as the API's names for them.
func parseRange(s string) (public.TimeRange, error) {
	switch strings.ToLower(s) {
	case "short", string(public.ShortTerm):
		return public.ShortTerm, nil
	case "medium", string(public.MediumTerm):
		return public.MediumTerm, nil
	case "long", string(public.LongTerm):
		return public.LongTerm, nil
	}
	return "", fmt.Errorf("unknown time range %q, want short, medium or long", s)
}

type listFlags struct {
	timeRange string
	limit     int
	refresh   bool
	json      bool
}

func (l *listFlags) register(fs *flag.FlagSet, withRange bool) {
	if withRange {
		fs.StringVar(&l.timeRange, "range", "medium", "time range: short, medium or long")
	}
	fs.IntVar(&l.limit, "limit", 20, "number of items")
	fs.BoolVar(&l.refresh, "refresh", false, "fetch from the Web API even if the cache is fresh")
	fs.BoolVar(&l.json, "json", false, "print JSON")
}

func (l *listFlags) validate(fs *flag.FlagSet) error {
	if l.limit <= 0 {
		fmt.Fprintln(fs.Output(), "-limit must be positive")
		return errUsage
	}
	return nil
}

func runLogin(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "login")
	showDialog := fs.Bool("show-dialog", false, "ask for consent even if it was given before")
	if err := parse(fs, args); err != nil {
		return err
	}

	var opts []public.InteractiveOption
	if *showDialog {
		opts = append(opts, public.WithShowDialog())
	}
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	fmt.Fprintln(e.stderr, "Opening the browser to sign in...")
	ar, err := e.client.AcquireTokenInteractive(ctx, opts...)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	fmt.Fprintf(e.stdout, "Signed in with scopes %s.\n", strings.Join(ar.GrantedScopes, " "))
	return nil
}

func runLogout(ctx context.Context, e *env, args []string) error {
	if err := parse(newFlagSet(e, "logout"), args); err != nil {
		return err
	}
	if err := e.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "Signed out.")
	return nil
}

func runWhoami(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "whoami")
	asJSON := fs.Bool("json", false, "print JSON")
	refresh := fs.Bool("refresh", false, "fetch from the Web API even if the cache is fresh")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *refresh {
		if err := e.client.RefreshProfile(ctx); err != nil {
			return err
		}
	}

	p, err := e.client.CurrentProfile(ctx)
	if p == nil {
		if err == nil {
			err = fmt.Errorf("no profile is known")
		}
		return err
	}
	warnStale(e, err)
	if *asJSON {
		return writeJSON(e.stdout, p)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", p.ID)
	fmt.Fprintf(tw, "name\t%s\n", p.DisplayName)
	if p.Email != "" {
		fmt.Fprintf(tw, "email\t%s\n", p.Email)
	}
	fmt.Fprintf(tw, "country\t%s\n", p.Country)
	fmt.Fprintf(tw, "product\t%s\n", p.Product)
	fmt.Fprintf(tw, "followers\t%d\n", p.Followers)
	return tw.Flush()
}

func runTracks(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "tracks")
	var l listFlags
	l.register(fs, true)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := l.validate(fs); err != nil {
		return err
	}
	tr, err := parseRange(l.timeRange)
	if err != nil {
		return err
	}
	if l.refresh {
		if err := e.client.RefreshTopTracks(ctx, tr, l.limit); err != nil {
			return err
		}
	}

	tracks, err := e.client.CurrentTopTracks(ctx, tr, l.limit)
	if len(tracks) == 0 && err != nil {
		return err
	}
	warnStale(e, err)
	if l.json {
		return writeJSON(e.stdout, tracks)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTRACK\tARTISTS\tLENGTH\tPOPULARITY")
	for _, t := range tracks {
		length := (time.Duration(t.DurationMS) * time.Millisecond).Round(time.Second)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", t.Rank+1, t.Name, strings.Join(t.Artists, ", "), length, t.Popularity)
	}
	return tw.Flush()
}

func runArtists(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "artists")
	var l listFlags
	l.register(fs, true)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := l.validate(fs); err != nil {
		return err
	}
	tr, err := parseRange(l.timeRange)
	if err != nil {
		return err
	}
	if l.refresh {
		if err := e.client.RefreshTopArtists(ctx, tr, l.limit); err != nil {
			return err
		}
	}

	artists, err := e.client.CurrentTopArtists(ctx, tr, l.limit)
	if len(artists) == 0 && err != nil {
		return err
	}
	warnStale(e, err)
	if l.json {
		return writeJSON(e.stdout, artists)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tARTIST\tGENRES\tFOLLOWERS")
	for _, a := range artists {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", a.Rank+1, a.Name, strings.Join(a.Genres, ", "), a.Followers)
	}
	return tw.Flush()
}

func runReleases(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "releases")
	var l listFlags
	l.register(fs, false)
	market := fs.String("market", "", "ISO 3166-1 alpha-2 country code; empty for any market")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := l.validate(fs); err != nil {
		return err
	}
	m := strings.ToUpper(*market)
	if l.refresh {
		if err := e.client.RefreshNewReleases(ctx, m, l.limit); err != nil {
			return err
		}
	}

	releases, err := e.client.CurrentNewReleases(ctx, m, l.limit)
	if len(releases) == 0 && err != nil {
		return err
	}
	warnStale(e, err)
	if l.json {
		return writeJSON(e.stdout, releases)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tALBUM\tARTISTS\tTYPE\tRELEASED")
	for _, r := range releases {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Rank+1, r.Name, strings.Join(r.Artists, ", "), r.AlbumType, r.ReleaseDate)
	}
	return tw.Flush()
}

func runSummary(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "summary")
	timeRange := fs.String("range", "medium", "time range: short, medium or long")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	tr, err := parseRange(*timeRange)
	if err != nil {
		return err
	}

	s, err := e.client.Summary(ctx, tr)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(e.stdout, s)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "tracks\t%d\n", s.Tracks)
	fmt.Fprintf(tw, "popularity\tmean %.1f, median %.1f, range %.0f-%.0f\n", s.Popularity.Mean, s.Popularity.Median, s.Popularity.Min, s.Popularity.Max)
	fmt.Fprintf(tw, "length\tmean %s, 90th percentile %s\n", seconds(s.Duration.Mean), s.P90Duration.Round(time.Second))
	fmt.Fprintf(tw, "explicit\t%.0f%%\n", s.Explicit*100)
	for i, a := range s.TopArtists {
		label := ""
		if i == 0 {
			label = "top artists"
		}
		fmt.Fprintf(tw, "%s\t%s (%d)\n", label, a.Name, a.Tracks)
	}
	return tw.Flush()
}

func runRefresh(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "refresh")
	var l listFlags
	l.register(fs, true)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := l.validate(fs); err != nil {
		return err
	}
	tr, err := parseRange(l.timeRange)
	if err != nil {
		return err
	}
	if err := e.client.RefreshAll(ctx, tr, l.limit); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "Refreshed.")
	return nil
}

// warnStale reports a failed fetch when cached records are printed instead.
func warnStale(e *env, err error) {
	if err != nil {
		e.log.Warn("showing cached results; the Web API could not be reached", "error", err)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Second)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
