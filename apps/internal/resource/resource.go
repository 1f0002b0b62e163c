// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package resource holds the network-bound resource primitive. A resource is one logical
value (usually a partition of cached records) that lives in exactly one local store and
is refreshed from exactly one remote endpoint.

Synchronize reads the store first, decides once whether the cached snapshot is stale,
and if so fetches, saves and re-reads the store. Everything the caller sees comes out of
the store's live read, so a failed fetch never hides data that is already cached.
*/
package resource

import (
	"context"
	"reflect"
)

// Outcome is a single emission of a resource stream. It is a Success when Err is nil,
// otherwise it is a Failure and Value holds the zero value.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Success wraps v in a successful Outcome.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Failure wraps err in a failed Outcome. A nil err is a bug.
func Failure[T any](err error) Outcome[T] {
	if err == nil {
		panic("resource.Failure() called with a nil error")
	}
	return Outcome[T]{Err: err}
}

// OK reports if the Outcome is a Success.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Query opens a live read of the store. The channel emits the current snapshot and then
// a new snapshot after each change. It must be closed once ctx is done. A read error is
// sent as a Failure and then the channel is closed.
type Query[S any] func(ctx context.Context) <-chan Outcome[S]

// Fetch makes a single remote call.
type Fetch[F any] func(ctx context.Context) (F, error)

// Save writes a successful fetch into the store in one transaction.
type Save[F any] func(ctx context.Context, fetched F) error

// Option is an optional argument to Synchronize.
type Option[S any] func(o *options[S])

type options[S any] struct {
	empty func(S) bool
}

// WithEmpty sets the function that decides if a cached snapshot has nothing worth
// showing. Empty snapshots are not emitted before a fetch.
func WithEmpty[S any](empty func(S) bool) Option[S] {
	return func(o *options[S]) {
		if empty != nil {
			o.empty = empty
		}
	}
}

// Synchronize returns a stream of Outcomes for one resource. The stream ends when ctx is
// done or when the store's live read ends.
//
// shouldFetch is evaluated once, against the first snapshot. When it returns false the
// stream is the store's live read mapped to Success and fetch/save are never called.
// When it returns true, a non-empty snapshot is emitted before the fetch starts. After a
// successful fetch and save the live read is forwarded as Success. If fetch or save fail,
// every later snapshot is forwarded as a Failure carrying that error.
//
// An empty store with a policy that does not fetch emits nothing until the store is
// written by someone else. Callers treat that as loading, not as an error. Once a
// snapshot has been emitted, later empty snapshots (a purge, an empty write) are
// forwarded like any other.
func Synchronize[S, F any](ctx context.Context, query Query[S], fetch Fetch[F], save Save[F], shouldFetch func(S) bool, opts ...Option[S]) <-chan Outcome[S] {
	o := options[S]{empty: isEmpty[S]}
	for _, opt := range opts {
		opt(&o)
	}

	// Room for the cached emission, so the fetch does not wait on the reader.
	out := make(chan Outcome[S], 1)
	go func() {
		defer close(out)

		first, ok := firstSnapshot(ctx, query)
		if !ok {
			return
		}
		if !first.OK() {
			send(ctx, out, first)
			return
		}

		if !shouldFetch(first.Value) {
			// Nothing is shown for an empty store until someone else writes to it.
			forward(ctx, query(ctx), out, nil, o.empty)
			return
		}

		if !o.empty(first.Value) {
			if !send(ctx, out, first) {
				return
			}
		}

		err := Refresh(ctx, fetch, save)
		if ctx.Err() != nil {
			return
		}
		forward(ctx, query(ctx), out, err, nil)
	}()
	return out
}

// Refresh fetches and saves, skipping any staleness decision.
func Refresh[F any](ctx context.Context, fetch Fetch[F], save Save[F]) error {
	fetched, err := fetch(ctx)
	if err != nil {
		return err
	}
	return save(ctx, fetched)
}

// firstSnapshot reads one emission from a fresh query and then closes it.
// ok is false if ctx ended or the query closed without emitting.
func firstSnapshot[S any](ctx context.Context, query Query[S]) (Outcome[S], bool) {
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case <-ctx.Done():
		return Outcome[S]{}, false
	case snap, ok := <-query(qctx):
		return snap, ok
	}
}

// forward copies the live read to out. If fetchErr is set, successful snapshots are
// replaced by a Failure carrying it. Snapshots matching skip are dropped until the first
// snapshot is sent.
func forward[S any](ctx context.Context, in <-chan Outcome[S], out chan<- Outcome[S], fetchErr error, skip func(S) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-in:
			if !ok {
				return
			}
			if snap.OK() && skip != nil && skip(snap.Value) {
				continue
			}
			if fetchErr != nil && snap.OK() {
				snap = Failure[S](fetchErr)
			}
			if !send(ctx, out, snap) {
				return
			}
			skip = nil
			if !snap.OK() && fetchErr == nil {
				// The store gave up on this read.
				return
			}
		}
	}
}

func send[S any](ctx context.Context, out chan<- Outcome[S], o Outcome[S]) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- o:
		return true
	}
}

// isEmpty treats nil and zero-length values as empty.
func isEmpty[S any](s S) bool {
	v := reflect.ValueOf(&s).Elem()
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return v.Len() == 0
	}
	return v.IsZero()
}
