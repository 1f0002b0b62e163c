// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package memory is an in-process implementation of storage.Store. Nothing survives the process.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tunelens/tunelens-go/apps/internal/resource"
	"github.com/tunelens/tunelens-go/apps/internal/storage"
)

// Store is a storage.Store that keeps records in maps.
type Store struct {
	tracks   *table[storage.Track]
	artists  *table[storage.Artist]
	releases *table[storage.Release]
	profiles *table[storage.Profile]

	closed atomic.Bool
}

// New is the constructor for Store.
func New() *Store {
	s := &Store{}
	s.tracks = newTable[storage.Track](&s.closed)
	s.artists = newTable[storage.Artist](&s.closed)
	s.releases = newTable[storage.Release](&s.closed)
	s.profiles = newTable[storage.Profile](&s.closed)
	return s
}

// Tracks implements storage.Store.Tracks().
func (s *Store) Tracks() storage.Table[storage.Track] { return s.tracks }

// Artists implements storage.Store.Artists().
func (s *Store) Artists() storage.Table[storage.Artist] { return s.artists }

// Releases implements storage.Store.Releases().
func (s *Store) Releases() storage.Table[storage.Release] { return s.releases }

// Profiles implements storage.Store.Profiles().
func (s *Store) Profiles() storage.Table[storage.Profile] { return s.profiles }

// Purge implements storage.Store.Purge().
func (s *Store) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return storage.ErrClosed
	}
	s.tracks.purge()
	s.artists.purge()
	s.releases.purge()
	s.profiles.purge()
	return nil
}

// Close implements storage.Store.Close(). Open watches receive ErrClosed as a Failure on
// their next read. Closing twice is a no-op.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

type table[R storage.Record] struct {
	mu         sync.RWMutex
	partitions map[string][]R
	notifier   storage.Notifier
	closed     *atomic.Bool
}

func newTable[R storage.Record](closed *atomic.Bool) *table[R] {
	return &table[R]{partitions: map[string][]R{}, closed: closed}
}

func (t *table[R]) Watch(ctx context.Context, partition string) <-chan resource.Outcome[[]R] {
	return storage.Watch(ctx, &t.notifier, partition, t.Read)
}

func (t *table[R]) Read(ctx context.Context, partition string) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed.Load() {
		return nil, storage.ErrClosed
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := t.partitions[partition]
	if len(records) == 0 {
		return nil, nil
	}
	// Callers own what they get back.
	return append(make([]R, 0, len(records)), records...), nil
}

func (t *table[R]) Replace(ctx context.Context, partition string, records []R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed.Load() {
		return storage.ErrClosed
	}
	cp := append(make([]R, 0, len(records)), records...)
	storage.Sort(cp)

	t.mu.Lock()
	if len(cp) == 0 {
		delete(t.partitions, partition)
	} else {
		t.partitions[partition] = cp
	}
	t.mu.Unlock()

	t.notifier.Notify(partition)
	return nil
}

func (t *table[R]) purge() {
	t.mu.Lock()
	t.partitions = map[string][]R{}
	t.mu.Unlock()
	t.notifier.NotifyAll()
}
