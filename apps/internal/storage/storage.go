// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package storage defines the local store that backs every cached resource.

Records are grouped by partition (a time range for top tracks and artists, a market for
new releases, the empty string for the profile). A partition is only ever written as a
whole: Replace clears it and inserts the new records in one transaction. Watch returns a
live read of a partition that re-emits after every Replace.

Implementations live in the memory and sqlite subpackages.
*/
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tunelens/tunelens-go/apps/internal/resource"
)

// ErrClosed is returned by a Table after its Store was closed.
var ErrClosed = errors.New("storage: store is closed")

// Kind names a table. It is also the value stored in the kind column of the sqlite backend.
type Kind string

const (
	KindTrack   Kind = "track"
	KindArtist  Kind = "artist"
	KindRelease Kind = "release"
	KindProfile Kind = "profile"
)

// Record is a cached entity. Records in a partition are kept in Position order.
type Record interface {
	Key() string
	Position() int
	Fetched() time.Time
}

// Table is one kind of cached record.
type Table[R Record] interface {
	// Watch emits the partition's current records and then the records after every Replace
	// of that partition. A read error is sent as a Failure and ends the watch. The channel
	// is closed when ctx is done.
	Watch(ctx context.Context, partition string) <-chan resource.Outcome[[]R]
	// Read returns the partition's records in Position order.
	Read(ctx context.Context, partition string) ([]R, error)
	// Replace atomically swaps the partition's records for records.
	Replace(ctx context.Context, partition string, records []R) error
}

// Store holds all cached tables.
type Store interface {
	Tracks() Table[Track]
	Artists() Table[Artist]
	Releases() Table[Release]
	Profiles() Table[Profile]
	// Purge drops every cached record. It is used when a session ends.
	Purge(ctx context.Context) error
	Close() error
}

// Meta is the bookkeeping every cached record carries.
type Meta struct {
	// Rank is the record's position in the remote listing, starting at 0.
	Rank int `json:"rank"`
	// LastFetched is when the record was written by a successful fetch.
	LastFetched time.Time `json:"last_fetched"`
}

// Position implements Record.Position().
func (m Meta) Position() int {
	return m.Rank
}

// Fetched implements Record.Fetched().
func (m Meta) Fetched() time.Time {
	return m.LastFetched
}

// Sort orders records by Position and then by Key.
func Sort[R Record](records []R) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Position() != records[j].Position() {
			return records[i].Position() < records[j].Position()
		}
		return records[i].Key() < records[j].Key()
	})
}

// Oldest returns the earliest Fetched time in records. It is the zero time if records is empty.
func Oldest[R Record](records []R) time.Time {
	var oldest time.Time
	for i, r := range records {
		if i == 0 || r.Fetched().Before(oldest) {
			oldest = r.Fetched()
		}
	}
	return oldest
}
