// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/webapi"
	"github.com/tunelens/tunelens-go/apps/internal/resource"
	"github.com/tunelens/tunelens-go/apps/internal/storage"
	"github.com/tunelens/tunelens-go/apps/internal/storage/memory"
	"github.com/tunelens/tunelens-go/apps/internal/storage/storagetest"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	err    error
	tracks []webapi.Track
	user   webapi.User

	calls    atomic.Int32
	gotLimit atomic.Int32
}

func (f *fakeAPI) TopTracks(ctx context.Context, timeRange string, limit int) ([]webapi.Track, error) {
	f.calls.Add(1)
	f.gotLimit.Store(int32(limit))
	if f.err != nil {
		return nil, f.err
	}
	return f.tracks, nil
}

func (f *fakeAPI) TopArtists(ctx context.Context, timeRange string, limit int) ([]webapi.Artist, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *fakeAPI) NewReleases(ctx context.Context, market string, limit int) ([]webapi.Album, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *fakeAPI) Me(ctx context.Context) (webapi.User, error) {
	f.calls.Add(1)
	if f.err != nil {
		return webapi.User{}, f.err
	}
	return f.user, nil
}

func apiTracks(prefix string, n int) []webapi.Track {
	out := make([]webapi.Track, n)
	for i := range out {
		out[i] = webapi.Track{ID: fmt.Sprintf("%s%d", prefix, i), Name: "song", Artists: []webapi.SimpleArtist{{Name: "band"}}}
	}
	return out
}

func receive[T any](t *testing.T, ch <-chan resource.Outcome[T]) resource.Outcome[T] {
	t.Helper()
	select {
	case o, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed, want an outcome")
		}
		return o
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for an outcome")
	}
	return resource.Outcome[T]{}
}

func seedTracks(t *testing.T, s *memory.Store, partition string, n int, fetched time.Time) {
	t.Helper()
	if err := s.Tracks().Replace(context.Background(), partition, storagetest.Tracks("old", n, fetched)); err != nil {
		t.Fatal(err)
	}
}

func trackIDs(tracks []storage.Track) []string {
	var ids []string
	for _, t := range tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestStaleCacheIsServedThenRefreshed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	seedTracks(t, store, string(storage.ShortTerm), 5, testNow.Add(-2*time.Hour))
	api := &fakeAPI{tracks: apiTracks("new", 5)}
	repo := NewTracks(store.Tracks(), api, time.Hour, WithClock(func() time.Time { return testNow }))

	ch := repo.Get(ctx, string(storage.ShortTerm), 5)

	cached := receive(t, ch)
	if !cached.OK() || len(cached.Value) != 5 || cached.Value[0].ID != "old0" {
		t.Fatalf("TestStaleCacheIsServedThenRefreshed: first outcome == %+v, want the 5 cached tracks", cached)
	}
	if age := testNow.Sub(cached.Value[0].LastFetched); age != 2*time.Hour {
		t.Errorf("TestStaleCacheIsServedThenRefreshed: cached age == %s, want 2h", age)
	}

	fresh := receive(t, ch)
	if !fresh.OK() || len(fresh.Value) != 5 || fresh.Value[0].ID != "new0" {
		t.Fatalf("TestStaleCacheIsServedThenRefreshed: second outcome == %+v, want the 5 fetched tracks", fresh)
	}
	if !fresh.Value[0].LastFetched.Equal(testNow) {
		t.Errorf("TestStaleCacheIsServedThenRefreshed: fetched at %v, want %v", fresh.Value[0].LastFetched, testNow)
	}
	if got := fresh.Value[0].Artists; len(got) != 1 || got[0] != "band" {
		t.Errorf("TestStaleCacheIsServedThenRefreshed: artists == %v, want [band]", got)
	}
}

func TestFailedFetchKeepsCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	seedTracks(t, store, string(storage.ShortTerm), 5, testNow.Add(-2*time.Hour))
	fetchErr := errors.New("503 service unavailable")
	api := &fakeAPI{err: fetchErr}
	repo := NewTracks(store.Tracks(), api, time.Hour, WithClock(func() time.Time { return testNow }))

	ch := repo.Get(ctx, string(storage.ShortTerm), 5)
	if o := receive(t, ch); !o.OK() || len(o.Value) != 5 {
		t.Fatalf("TestFailedFetchKeepsCache: first outcome == %+v, want the 5 cached tracks", o)
	}
	if o := receive(t, ch); !errors.Is(o.Err, fetchErr) {
		t.Fatalf("TestFailedFetchKeepsCache: second outcome == %+v, want Failure(%s)", o, fetchErr)
	}

	got, err := store.Tracks().Read(ctx, string(storage.ShortTerm))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[0].ID != "old0" {
		t.Errorf("TestFailedFetchKeepsCache: store holds %v, want the 5 original tracks", trackIDs(got))
	}
}

func TestFreshCacheIsNotFetched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	store := memory.New()
	seedTracks(t, store, string(storage.LongTerm), 5, testNow.Add(-10*time.Minute))
	api := &fakeAPI{tracks: apiTracks("new", 5)}
	repo := NewTracks(store.Tracks(), api, time.Hour, WithClock(func() time.Time { return testNow }))

	ch := repo.Get(ctx, string(storage.LongTerm), 3)
	o := receive(t, ch)
	if !o.OK() {
		t.Fatalf("TestFreshCacheIsNotFetched: got err == %s, want err == nil", o.Err)
	}
	if got := fmt.Sprint(trackIDs(o.Value)); got != "[old0 old1 old2]" {
		t.Errorf("TestFreshCacheIsNotFetched: got %s, want the first 3 cached tracks", got)
	}

	cancel()
	for range ch {
	}
	if n := api.calls.Load(); n != 0 {
		t.Errorf("TestFreshCacheIsNotFetched: got %d fetches, want 0", n)
	}
}

func TestForceRefresh(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedTracks(t, store, string(storage.MediumTerm), 5, testNow)
	api := &fakeAPI{tracks: apiTracks("new", 2)}
	repo := NewTracks(store.Tracks(), api, time.Hour, WithClock(func() time.Time { return testNow }))

	if err := repo.ForceRefresh(ctx, string(storage.MediumTerm), 2); err != nil {
		t.Fatalf("TestForceRefresh: got err == %s, want err == nil", err)
	}
	if n := api.gotLimit.Load(); n != 2 {
		t.Errorf("TestForceRefresh: fetched with limit %d, want 2", n)
	}
	got, err := store.Tracks().Read(ctx, string(storage.MediumTerm))
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(trackIDs(got)) != "[new0 new1]" {
		t.Errorf("TestForceRefresh: store holds %v, want [new0 new1]", trackIDs(got))
	}

	api.err = errors.New("boom")
	if err := repo.ForceRefresh(ctx, string(storage.MediumTerm), 2); err == nil {
		t.Errorf("TestForceRefresh: got err == nil, want err != nil")
	}
	if err := repo.ForceRefresh(ctx, "forever", 2); err == nil {
		t.Errorf("TestForceRefresh(unknown time range): got err == nil, want err != nil")
	}
}

func TestStale(t *testing.T) {
	repo := NewTracks(memory.New().Tracks(), &fakeAPI{}, time.Hour, WithClock(func() time.Time { return testNow }))

	tests := []struct {
		desc    string
		records []storage.Track
		want    bool
	}{
		{desc: "empty", want: true},
		{desc: "fresh", records: storagetest.Tracks("a", 2, testNow.Add(-59*time.Minute))},
		{desc: "at the window", records: storagetest.Tracks("a", 2, testNow.Add(-time.Hour)), want: true},
		{
			desc: "one old record",
			records: append(storagetest.Tracks("a", 2, testNow),
				storage.Track{ID: "z", Meta: storage.Meta{Rank: 9, LastFetched: testNow.Add(-3 * time.Hour)}}),
			want: true,
		},
	}
	for _, test := range tests {
		if got := repo.Stale(test.records); got != test.want {
			t.Errorf("TestStale(%s): got %v, want %v", test.desc, got, test.want)
		}
	}
}

func TestProfile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	api := &fakeAPI{user: webapi.User{ID: "u1", DisplayName: "Ada", Images: []webapi.Image{{URL: "https://i/big"}, {URL: "https://i/small"}}}}
	repo := NewProfile(store.Profiles(), api, 24*time.Hour, WithClock(func() time.Time { return testNow }))

	o := receive(t, repo.Get(ctx))
	if !o.OK() {
		t.Fatalf("TestProfile: got err == %s, want err == nil", o.Err)
	}
	if o.Value == nil || o.Value.ID != "u1" || o.Value.ImageURL != "https://i/big" {
		t.Fatalf("TestProfile: got %+v, want the fetched profile", o.Value)
	}

	// A second subscription is served from the cache.
	o = receive(t, repo.Get(ctx))
	if !o.OK() || o.Value.DisplayName != "Ada" {
		t.Errorf("TestProfile: second Get() == %+v", o)
	}
	if n := api.calls.Load(); n != 1 {
		t.Errorf("TestProfile: got %d fetches, want 1", n)
	}
}

func TestProfileFetchFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeAPI{err: errors.New("offline")}
	repo := NewProfile(memory.New().Profiles(), api, 24*time.Hour)

	if o := receive(t, repo.Get(ctx)); o.OK() {
		t.Errorf("TestProfileFetchFailure: got %+v, want a Failure", o)
	}
	if err := repo.ForceRefresh(ctx); err == nil {
		t.Errorf("TestProfileFetchFailure: ForceRefresh(): got err == nil, want err != nil")
	}
}

func TestCurrent(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return testNow }

	tests := []struct {
		desc    string
		seedAge time.Duration
		seed    int
		err     error
		want    string
		wantErr bool
		fetches int32
	}{
		{desc: "fresh cache", seed: 5, seedAge: 10 * time.Minute, want: "[old0 old1 old2]"},
		{desc: "stale cache", seed: 5, seedAge: 2 * time.Hour, want: "[new0 new1 new2]", fetches: 1},
		{desc: "empty cache", want: "[new0 new1 new2]", fetches: 1},
		{desc: "stale cache, fetch fails", seed: 5, seedAge: 2 * time.Hour, err: errors.New("offline"), want: "[old0 old1 old2]", wantErr: true, fetches: 1},
		{desc: "empty cache, fetch fails", err: errors.New("offline"), want: "[]", wantErr: true, fetches: 1},
	}
	for _, test := range tests {
		store := memory.New()
		if test.seed > 0 {
			seedTracks(t, store, string(storage.ShortTerm), test.seed, testNow.Add(-test.seedAge))
		}
		api := &fakeAPI{tracks: apiTracks("new", 5), err: test.err}
		repo := NewTracks(store.Tracks(), api, time.Hour, WithClock(clock))

		got, err := repo.Current(ctx, string(storage.ShortTerm), 3)
		switch {
		case err == nil && test.wantErr:
			t.Errorf("TestCurrent(%s): got err == nil, want err != nil", test.desc)
		case err != nil && !test.wantErr:
			t.Errorf("TestCurrent(%s): got err == %s, want err == nil", test.desc, err)
		}
		if s := fmt.Sprint(trackIDs(got)); s != test.want {
			t.Errorf("TestCurrent(%s): got %s, want %s", test.desc, s, test.want)
		}
		if n := api.calls.Load(); n != test.fetches {
			t.Errorf("TestCurrent(%s): got %d fetches, want %d", test.desc, n, test.fetches)
		}
	}
}

func TestProfileCurrent(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{user: webapi.User{ID: "u1", DisplayName: "Ada"}}
	repo := NewProfile(memory.New().Profiles(), api, 24*time.Hour, WithClock(func() time.Time { return testNow }))

	p, err := repo.Current(ctx)
	if err != nil || p == nil || p.ID != "u1" {
		t.Fatalf("TestProfileCurrent: got (%+v, %v), want the fetched profile", p, err)
	}

	api.err = errors.New("offline")
	if p, err := repo.Current(ctx); err != nil || p.DisplayName != "Ada" {
		t.Errorf("TestProfileCurrent: cached: got (%+v, %v), want the cached profile without a fetch", p, err)
	}

	empty := NewProfile(memory.New().Profiles(), api, 24*time.Hour)
	if p, err := empty.Current(ctx); err == nil || p != nil {
		t.Errorf("TestProfileCurrent: empty cache, fetch fails: got (%+v, %v), want (nil, err)", p, err)
	}
}

func TestFreshStreamSeesPurge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.New()
	seedTracks(t, store, string(storage.ShortTerm), 1, testNow.Add(-time.Minute))
	api := &fakeAPI{}
	repo := NewTracks(store.Tracks(), api, time.Hour, WithClock(func() time.Time { return testNow }))

	ch := repo.Get(ctx, string(storage.ShortTerm), 5)
	if o := receive(t, ch); !o.OK() || len(o.Value) != 1 {
		t.Fatalf("TestFreshStreamSeesPurge: first outcome == %+v, want the cached track", o)
	}

	if err := store.Purge(ctx); err != nil {
		t.Fatalf("TestFreshStreamSeesPurge: Purge(): got err == %s, want err == nil", err)
	}
	o := receive(t, ch)
	if !o.OK() {
		t.Fatalf("TestFreshStreamSeesPurge: got err == %s, want err == nil", o.Err)
	}
	if len(o.Value) != 0 {
		t.Errorf("TestFreshStreamSeesPurge: got %d tracks after Purge(), want 0", len(o.Value))
	}
	if api.calls.Load() != 0 {
		t.Errorf("TestFreshStreamSeesPurge: API called %d times, want 0", api.calls.Load())
	}
}
