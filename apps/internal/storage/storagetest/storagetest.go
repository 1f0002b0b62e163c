// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package storagetest holds the behavior every storage.Store implementation must share.
// Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/tunelens/tunelens-go/apps/internal/resource"
	"github.com/tunelens/tunelens-go/apps/internal/storage"
)

// Run exercises store. newStore must return an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("ReplaceRead", func(t *testing.T) { testReplaceRead(t, newStore(t)) })
	t.Run("PartitionsAreIndependent", func(t *testing.T) { testPartitions(t, newStore(t)) })
	t.Run("WatchSeesReplace", func(t *testing.T) { testWatch(t, newStore(t)) })
	t.Run("ReplaceIsAtomic", func(t *testing.T) { testAtomicReplace(t, newStore(t)) })
	t.Run("ProfileUpsert", func(t *testing.T) { testProfile(t, newStore(t)) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, newStore(t)) })
	t.Run("PurgeHonorsContext", func(t *testing.T) { testPurgeContext(t, newStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

// Tracks returns n tracks with ids prefix0..prefixN-1, ranked in order and fetched at fetched.
func Tracks(prefix string, n int, fetched time.Time) []storage.Track {
	tracks := make([]storage.Track, 0, n)
	for i := 0; i < n; i++ {
		tracks = append(tracks, storage.Track{
			Meta:       storage.Meta{Rank: i, LastFetched: fetched},
			ID:         fmt.Sprintf("%s%d", prefix, i),
			Name:       fmt.Sprintf("Track %s%d", prefix, i),
			Artists:    []string{"Artist"},
			DurationMS: 180000 + i,
			Popularity: 50 + i,
		})
	}
	return tracks
}

func closeStore(t *testing.T, s storage.Store) {
	t.Helper()
	if err := s.Close(); err != nil {
		t.Errorf("Close(): got err == %s, want err == nil", err)
	}
}

// now is truncated to milliseconds, the resolution stores keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func testReplaceRead(t *testing.T, s storage.Store) {
	defer closeStore(t, s)
	ctx := context.Background()

	got, err := s.Tracks().Read(ctx, string(storage.ShortTerm))
	if err != nil {
		t.Fatalf("Read(): got err == %s, want err == nil", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read() on an empty store: got %d records, want 0", len(got))
	}

	want := Tracks("a", 5, now())
	// Stored order must not depend on the order given.
	shuffled := []storage.Track{want[3], want[0], want[4], want[1], want[2]}
	if err := s.Tracks().Replace(ctx, string(storage.ShortTerm), shuffled); err != nil {
		t.Fatalf("Replace(): got err == %s, want err == nil", err)
	}

	got, err = s.Tracks().Read(ctx, string(storage.ShortTerm))
	if err != nil {
		t.Fatalf("Read(): got err == %s, want err == nil", err)
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("Read(): -want/+got:\n%s", diff)
	}

	second := Tracks("b", 2, now())
	if err := s.Tracks().Replace(ctx, string(storage.ShortTerm), second); err != nil {
		t.Fatalf("Replace(): got err == %s, want err == nil", err)
	}
	got, err = s.Tracks().Read(ctx, string(storage.ShortTerm))
	if err != nil {
		t.Fatalf("Read(): got err == %s, want err == nil", err)
	}
	if diff := pretty.Compare(second, got); diff != "" {
		t.Errorf("Read() after a second Replace(): -want/+got:\n%s", diff)
	}
}

func testPartitions(t *testing.T, s storage.Store) {
	defer closeStore(t, s)
	ctx := context.Background()

	short := Tracks("s", 2, now())
	long := Tracks("l", 3, now())
	if err := s.Tracks().Replace(ctx, string(storage.ShortTerm), short); err != nil {
		t.Fatal(err)
	}
	if err := s.Tracks().Replace(ctx, string(storage.LongTerm), long); err != nil {
		t.Fatal(err)
	}
	// Same ids in another table do not collide.
	artists := []storage.Artist{{ID: "s0", Name: "Artist", Genres: []string{"jazz"}}}
	if err := s.Artists().Replace(ctx, string(storage.ShortTerm), artists); err != nil {
		t.Fatal(err)
	}
	if err := s.Tracks().Replace(ctx, string(storage.ShortTerm), nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.Tracks().Read(ctx, string(storage.LongTerm))
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare(long, got); diff != "" {
		t.Errorf("long_term partition: -want/+got:\n%s", diff)
	}
	got, err = s.Tracks().Read(ctx, string(storage.ShortTerm))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("short_term partition after an empty Replace(): got %d records, want 0", len(got))
	}
	gotArtists, err := s.Artists().Read(ctx, string(storage.ShortTerm))
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare(artists, gotArtists); diff != "" {
		t.Errorf("artists: -want/+got:\n%s", diff)
	}
}

func testWatch(t *testing.T, s storage.Store) {
	defer closeStore(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := Tracks("a", 2, now())
	if err := s.Tracks().Replace(ctx, string(storage.MediumTerm), first); err != nil {
		t.Fatal(err)
	}

	ch := s.Tracks().Watch(ctx, string(storage.MediumTerm))
	got := receive(t, ch)
	if diff := pretty.Compare(first, got); diff != "" {
		t.Fatalf("Watch() first emission: -want/+got:\n%s", diff)
	}

	second := Tracks("b", 3, now())
	if err := s.Tracks().Replace(ctx, string(storage.MediumTerm), second); err != nil {
		t.Fatal(err)
	}
	got = receive(t, ch)
	if diff := pretty.Compare(second, got); diff != "" {
		t.Errorf("Watch() after Replace(): -want/+got:\n%s", diff)
	}

	cancel()
	select {
	case <-drain(ch):
	case <-time.After(5 * time.Second):
		t.Errorf("Watch() channel was not closed after cancel")
	}
}

// testAtomicReplace checks that readers racing a Replace see the whole old or the whole new partition.
func testAtomicReplace(t *testing.T, s storage.Store) {
	defer closeStore(t, s)
	ctx := context.Background()

	old := Tracks("old", 20, now())
	replacement := Tracks("new", 20, now())
	if err := s.Tracks().Replace(ctx, string(storage.ShortTerm), old); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	errs := make(chan error, 8)
	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.Tracks().Read(ctx, string(storage.ShortTerm))
				if err != nil {
					errs <- err
					return
				}
				if !sameIDs(got, old) && !sameIDs(got, replacement) {
					errs <- fmt.Errorf("read a partial partition of %d records", len(got))
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		next := replacement
		if i%2 == 1 {
			next = old
		}
		if err := s.Tracks().Replace(ctx, string(storage.ShortTerm), next); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Read(): %s", err)
	}
}

func testProfile(t *testing.T, s storage.Store) {
	defer closeStore(t, s)
	ctx := context.Background()

	p := storage.Profile{ID: "me", DisplayName: "Me", Country: "NL", Meta: storage.Meta{LastFetched: now()}}
	if err := s.Profiles().Replace(ctx, storage.ProfilePartition, []storage.Profile{p}); err != nil {
		t.Fatal(err)
	}
	p.DisplayName = "Still me"
	if err := s.Profiles().Replace(ctx, storage.ProfilePartition, []storage.Profile{p}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Profiles().Read(ctx, storage.ProfilePartition)
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare([]storage.Profile{p}, got); diff != "" {
		t.Errorf("profile: -want/+got:\n%s", diff)
	}
}

func testPurge(t *testing.T, s storage.Store) {
	defer closeStore(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Tracks().Replace(ctx, string(storage.ShortTerm), Tracks("a", 2, now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Releases().Replace(ctx, "NL", []storage.Release{{ID: "r"}}); err != nil {
		t.Fatal(err)
	}

	ch := s.Tracks().Watch(ctx, string(storage.ShortTerm))
	receive(t, ch)

	if err := s.Purge(ctx); err != nil {
		t.Fatalf("Purge(): got err == %s, want err == nil", err)
	}
	if got := receive(t, ch); len(got) != 0 {
		t.Errorf("Watch() after Purge(): got %d tracks, want 0", len(got))
	}
	releases, err := s.Releases().Read(ctx, "NL")
	if err != nil {
		t.Fatal(err)
	}
	if len(releases) != 0 {
		t.Errorf("Read() after Purge(): got %d releases, want 0", len(releases))
	}
}

func testPurgeContext(t *testing.T, s storage.Store) {
	defer closeStore(t, s)

	p := string(storage.ShortTerm)
	if err := s.Tracks().Replace(context.Background(), p, Tracks("a", 2, now())); err != nil {
		t.Fatalf("Replace(): got err == %s, want err == nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Purge(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Purge() with a cancelled context: got err == %v, want %v", err, context.Canceled)
	}

	got, err := s.Tracks().Read(context.Background(), p)
	if err != nil {
		t.Fatalf("Read(): got err == %s, want err == nil", err)
	}
	if len(got) != 2 {
		t.Errorf("Read() after a cancelled Purge(): got %d tracks, want 2", len(got))
	}
}

func testClosed(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close(): got err == %s, want err == nil", err)
	}
	// A second Close is a no-op.
	closeStore(t, s)

	if _, err := s.Tracks().Read(ctx, ""); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Read() on a closed store: got err == %v, want %v", err, storage.ErrClosed)
	}
	if err := s.Profiles().Replace(ctx, "", nil); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Replace() on a closed store: got err == %v, want %v", err, storage.ErrClosed)
	}
	if err := s.Purge(ctx); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Purge() on a closed store: got err == %v, want %v", err, storage.ErrClosed)
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	select {
	case o := <-s.Artists().Watch(wctx, ""):
		if !errors.Is(o.Err, storage.ErrClosed) {
			t.Errorf("Watch() on a closed store: got err == %v, want %v", o.Err, storage.ErrClosed)
		}
	case <-wctx.Done():
		t.Errorf("Watch() on a closed store: timed out waiting for a Failure")
	}
}

func sameIDs(got, want []storage.Track) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			return false
		}
	}
	return true
}

func receive[R storage.Record](t *testing.T, ch <-chan resource.Outcome[[]R]) []R {
	t.Helper()
	select {
	case o, ok := <-ch:
		if !ok {
			t.Fatalf("Watch() channel closed, want an emission")
		}
		if !o.OK() {
			t.Fatalf("Watch() emitted Failure(%s)", o.Err)
		}
		return o.Value
	case <-time.After(5 * time.Second):
		t.Fatalf("Watch() did not emit")
	}
	return nil
}

// drain returns a channel that is closed once ch is closed.
func drain[R storage.Record](ch <-chan resource.Outcome[[]R]) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()
	return done
}
