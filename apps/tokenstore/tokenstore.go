// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package tokenstore holds the user's OAuth credentials between calls.

A Store is shared by every request pipeline of a client: requests read the access token
when they are built and the renewal path writes new tokens when the old ones are
rejected. Implementations must be safe for concurrent use and read-after-write
consistent within a process, so a renewal is visible to the very next request.

Memory is the default. The bolt and redis subpackages persist credentials across runs
and across processes.
*/
package tokenstore

import (
	"context"
	"sync"
	"time"
)

// Credentials are the tokens of one signed in user. Both tokens are empty when no user is
// signed in.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresOn    time.Time `json:"expires_on"`
}

// LoggedIn reports if c can be used to call the Web API, either directly or after a renewal.
func (c Credentials) LoggedIn() bool {
	return c.AccessToken != "" || c.RefreshToken != ""
}

// Store persists Credentials.
type Store interface {
	// Get returns the stored credentials. It returns empty Credentials and a nil error
	// when nothing is stored.
	Get(ctx context.Context) (Credentials, error)
	// Set replaces the stored credentials.
	Set(ctx context.Context, c Credentials) error
	// Clear removes the stored credentials.
	Clear(ctx context.Context) error
}

// Memory is a Store that keeps credentials in memory. The zero value is ready to use.
type Memory struct {
	mu sync.RWMutex
	c  Credentials
}

// Get implements Store.Get().
func (m *Memory) Get(ctx context.Context) (Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c, nil
}

// Set implements Store.Set().
func (m *Memory) Set(ctx context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = c
	return nil
}

// Clear implements Store.Clear().
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = Credentials{}
	return nil
}
