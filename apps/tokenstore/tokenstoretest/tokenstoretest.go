// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package tokenstoretest runs the behavior every tokenstore.Store must have.
package tokenstoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"

	"github.com/tunelens/tunelens-go/apps/tokenstore"
)

// Run tests the Store returned by newStore. Each subtest gets a fresh, empty Store.
func Run(t *testing.T, newStore func(t *testing.T) tokenstore.Store) {
	t.Run("EmptyGet", func(t *testing.T) {
		got, err := newStore(t).Get(context.Background())
		if err != nil {
			t.Fatalf("Get(): got err == %s, want err == nil", err)
		}
		if got.LoggedIn() {
			t.Errorf("Get(): got %+v from an empty store", got)
		}
	})

	t.Run("SetGetClear", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		want := tokenstore.Credentials{
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresOn:    time.Now().UTC().Truncate(time.Second),
		}
		if err := s.Set(ctx, want); err != nil {
			t.Fatalf("Set(): got err == %s, want err == nil", err)
		}
		got, err := s.Get(ctx)
		if err != nil {
			t.Fatalf("Get(): got err == %s, want err == nil", err)
		}
		if !got.ExpiresOn.Equal(want.ExpiresOn) {
			t.Errorf("Get(): ExpiresOn == %v, want %v", got.ExpiresOn, want.ExpiresOn)
		}
		got.ExpiresOn, want.ExpiresOn = time.Time{}, time.Time{}
		if diff := pretty.Compare(want, got); diff != "" {
			t.Errorf("Get(): -want/+got:\n%s", diff)
		}

		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear(): got err == %s, want err == nil", err)
		}
		got, err = s.Get(ctx)
		if err != nil {
			t.Fatalf("Get() after Clear(): got err == %s, want err == nil", err)
		}
		if got.LoggedIn() {
			t.Errorf("Get() after Clear(): got %+v, want empty credentials", got)
		}
	})

	t.Run("ConcurrentSet", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tok := fmt.Sprintf("at%d", i)
				if err := s.Set(ctx, tokenstore.Credentials{AccessToken: tok, RefreshToken: "rt" + tok}); err != nil {
					t.Errorf("Set(): got err == %s, want err == nil", err)
				}
				if _, err := s.Get(ctx); err != nil {
					t.Errorf("Get(): got err == %s, want err == nil", err)
				}
			}(i)
		}
		wg.Wait()

		// The two tokens of one Set are never mixed with another Set's.
		got, err := s.Get(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.RefreshToken != "rt"+got.AccessToken {
			t.Errorf("Get(): got torn credentials %+v", got)
		}
	})
}
