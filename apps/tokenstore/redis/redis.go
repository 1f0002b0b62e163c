// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package redis is a tokenstore.Store kept in a Redis hash, so several processes can share
// one signed in session.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tunelens/tunelens-go/apps/tokenstore"
)

const (
	fieldAccess  = "access_token"
	fieldRefresh = "refresh_token"
	fieldExpires = "expires_on"
)

// Store is a tokenstore.Store backed by a Redis hash. Writes replace the whole hash in a
// MULTI/EXEC transaction, so readers never see tokens from two different writes.
type Store struct {
	client redis.UniversalClient
	key    string
}

// New returns a Store that keeps credentials under "<prefix>:credentials".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "tunelens"
	}
	return &Store{client: client, key: prefix + ":credentials"}
}

// Get implements tokenstore.Store.Get().
func (s *Store) Get(ctx context.Context) (tokenstore.Credentials, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return tokenstore.Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	if len(m) == 0 {
		return tokenstore.Credentials{}, nil
	}

	c := tokenstore.Credentials{AccessToken: m[fieldAccess], RefreshToken: m[fieldRefresh]}
	if v := m[fieldExpires]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return tokenstore.Credentials{}, fmt.Errorf("decode %s %q: %w", fieldExpires, v, err)
		}
		c.ExpiresOn = time.UnixMilli(ms).UTC()
	}
	return c, nil
}

// Set implements tokenstore.Store.Set().
func (s *Store) Set(ctx context.Context, c tokenstore.Credentials) error {
	fields := map[string]any{
		fieldAccess:  c.AccessToken,
		fieldRefresh: c.RefreshToken,
		fieldExpires: "",
	}
	if !c.ExpiresOn.IsZero() {
		fields[fieldExpires] = strconv.FormatInt(c.ExpiresOn.UnixMilli(), 10)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key)
		p.HSet(ctx, s.key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear implements tokenstore.Store.Clear().
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
