// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package bolt is a tokenstore.Store kept in a bolt database file. Credentials can be
// sealed with a key so the file does not hold tokens in the clear.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	"github.com/tunelens/tunelens-go/apps/internal/seal"
	"github.com/tunelens/tunelens-go/apps/tokenstore"
)

var (
	bucket = []byte("credentials")
	// sealed values are bound to this key, so a value can't be moved to another key.
	account = []byte("default")
)

// Store is a tokenstore.Store backed by bolt. It is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	sealer *seal.Sealer
}

// Option is an optional argument to Open.
type Option func(o *options)

type options struct {
	key     []byte
	timeout time.Duration
}

// WithKey seals stored credentials with key, which must be seal.KeySize bytes.
func WithKey(key []byte) Option {
	return func(o *options) {
		o.key = key
	}
}

// ParseKey decodes a base64 sealing key for WithKey.
func ParseKey(s string) ([]byte, error) {
	return seal.ParseKey(s)
}

// WithTimeout sets how long Open waits for the file lock held by another process.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("token store path is required")
	}
	o := options{timeout: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{}
	if o.key != nil {
		sealer, err := seal.New(o.key)
		if err != nil {
			return nil, err
		}
		s.sealer = sealer
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: o.timeout})
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create token bucket: %w", err)
	}
	s.db = db
	return s, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements tokenstore.Store.Get().
func (s *Store) Get(ctx context.Context) (tokenstore.Credentials, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		// Bytes from Get are only valid inside the transaction.
		value = append(value, tx.Bucket(bucket).Get(account)...)
		return nil
	})
	if err != nil {
		return tokenstore.Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	if len(value) == 0 {
		return tokenstore.Credentials{}, nil
	}

	if s.sealer != nil {
		if value, err = s.sealer.Open(value, account); err != nil {
			return tokenstore.Credentials{}, err
		}
	}
	var c tokenstore.Credentials
	if err := json.Unmarshal(value, &c); err != nil {
		return tokenstore.Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return c, nil
}

// Set implements tokenstore.Store.Set().
func (s *Store) Set(ctx context.Context, c tokenstore.Credentials) error {
	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if s.sealer != nil {
		if value, err = s.sealer.Seal(value, account); err != nil {
			return err
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(account, value)
	})
}

// Clear implements tokenstore.Store.Clear().
func (s *Store) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(account)
	})
}
