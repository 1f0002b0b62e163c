// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package sqlite provides a SQLite-backed storage.Store.
//
// All kinds of record share the cached_records table. Each row holds the record as JSON in
// payload, keyed by (kind, partition_key, id). Watch only sees writes made through the same
// Store value.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tunelens/tunelens-go/apps/internal/resource"
	"github.com/tunelens/tunelens-go/apps/internal/storage"
	"github.com/tunelens/tunelens-go/apps/internal/storage/sqlite/migrations"
	"github.com/tunelens/tunelens-go/apps/internal/storage/sqlitemigrate"

	_ "modernc.org/sqlite"
)

// SchemaVersion is stored in PRAGMA user_version. A database with another version is
// dropped and rebuilt when opened.
const SchemaVersion = 1

const recordsTable = "cached_records"

// Store persists cached records in SQLite.
type Store struct {
	db     *sql.DB
	closed atomic.Bool

	tracks   *table[storage.Track]
	artists  *table[storage.Artist]
	releases *table[storage.Release]
	profiles *table[storage.Profile]
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens the SQLite database at path, resets it if it was written by another schema
// version and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.EnsureVersion(ctx, db, SchemaVersion, recordsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, db, migrations.FS, ""); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db}
	s.tracks = &table[storage.Track]{store: s, kind: storage.KindTrack}
	s.artists = &table[storage.Artist]{store: s, kind: storage.KindArtist}
	s.releases = &table[storage.Release]{store: s, kind: storage.KindRelease}
	s.profiles = &table[storage.Profile]{store: s, kind: storage.KindProfile}
	return s, nil
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
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+recordsTable); err != nil {
		return fmt.Errorf("purge cached records: %w", err)
	}
	s.tracks.notifier.NotifyAll()
	s.artists.notifier.NotifyAll()
	s.releases.notifier.NotifyAll()
	s.profiles.notifier.NotifyAll()
	return nil
}

// Close closes the SQLite handle. Open watches receive ErrClosed as a Failure on their next read.
func (s *Store) Close() error {
	if s == nil || s.db == nil || s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type table[R storage.Record] struct {
	store    *Store
	kind     storage.Kind
	notifier storage.Notifier
}

func (t *table[R]) Watch(ctx context.Context, partition string) <-chan resource.Outcome[[]R] {
	return storage.Watch(ctx, &t.notifier, partition, t.Read)
}

func (t *table[R]) Read(ctx context.Context, partition string) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.store.closed.Load() {
		return nil, storage.ErrClosed
	}

	rows, err := t.store.db.QueryContext(ctx,
		`SELECT payload FROM cached_records
		 WHERE kind = ? AND partition_key = ?
		 ORDER BY list_rank, id`,
		string(t.kind), partition,
	)
	if err != nil {
		return nil, fmt.Errorf("read %s records: %w", t.kind, err)
	}
	defer rows.Close()

	var records []R
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", t.kind, err)
		}
		var r R
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", t.kind, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", t.kind, err)
	}
	return records, nil
}

func (t *table[R]) Replace(ctx context.Context, partition string, records []R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.store.closed.Load() {
		return storage.ErrClosed
	}

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", t.kind, err)
	}
	if err := t.replace(ctx, tx, partition, records); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", t.kind, err)
	}

	t.notifier.Notify(partition)
	return nil
}

func (t *table[R]) replace(ctx context.Context, tx *sql.Tx, partition string, records []R) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cached_records WHERE kind = ? AND partition_key = ?",
		string(t.kind), partition,
	); err != nil {
		return fmt.Errorf("clear %s partition %q: %w", t.kind, partition, err)
	}
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO cached_records (kind, partition_key, id, list_rank, last_fetched, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", t.kind, err)
	}
	defer stmt.Close()

	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s record %q: %w", t.kind, r.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx,
			string(t.kind), partition, r.Key(), r.Position(), toMillis(r.Fetched()), string(payload),
		); err != nil {
			return fmt.Errorf("insert %s record %q: %w", t.kind, r.Key(), err)
		}
	}
	return nil
}
