// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package repository binds each cached resource to its table and its Web API endpoint.

A Repository is resource.Synchronize with the partition, the fetch size and the staleness
window filled in. Cached partitions are stale when they are empty or when their oldest
record was fetched longer ago than the window.
*/
package repository

import (
	"context"
	"time"

	"github.com/tunelens/tunelens-go/apps/internal/logger"
	"github.com/tunelens/tunelens-go/apps/internal/resource"
	"github.com/tunelens/tunelens-go/apps/internal/storage"
)

// Fetcher gets up to limit items of a partition from the Web API.
type Fetcher[F any] func(ctx context.Context, partition string, limit int) (F, error)

// Mapper turns a fetch made at time at into ranked records.
type Mapper[R storage.Record, F any] func(fetched F, at time.Time) []R

// Option is an optional argument to New.
type Option func(c *config)

type config struct {
	log *logger.Logger
	now func() time.Time
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces time.Now for staleness checks and fetch times.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// Repository serves one kind of record from the local store, refreshing it from the Web API.
type Repository[R storage.Record, F any] struct {
	name    string
	table   storage.Table[R]
	fetch   Fetcher[F]
	convert Mapper[R, F]
	window  time.Duration
	config
}

// New returns a Repository. name is used in logs. Partitions older than window are refetched.
func New[R storage.Record, F any](name string, table storage.Table[R], fetch Fetcher[F], convert Mapper[R, F], window time.Duration, options ...Option) *Repository[R, F] {
	c := config{log: logger.Discard(), now: time.Now}
	for _, o := range options {
		o(&c)
	}
	return &Repository[R, F]{
		name:    name,
		table:   table,
		fetch:   fetch,
		convert: convert,
		window:  window,
		config:  c,
	}
}

// Get streams the first limit records of partition. The cached records come first if
// there are any; a stale partition is then refetched. The channel is closed when ctx is done.
func (r *Repository[R, F]) Get(ctx context.Context, partition string, limit int) <-chan resource.Outcome[[]R] {
	in := resource.Synchronize(ctx, r.query(partition), r.fetcher(partition, limit), r.saver(partition), r.Stale)

	out := make(chan resource.Outcome[[]R])
	go func() {
		defer close(out)
		for o := range in {
			if o.OK() {
				o.Value = truncate(o.Value, limit)
			}
			select {
			case <-ctx.Done():
				return
			case out <- o:
			}
		}
	}()
	return out
}

// ForceRefresh fetches partition and replaces the cached records, whatever their age.
func (r *Repository[R, F]) ForceRefresh(ctx context.Context, partition string, limit int) error {
	return resource.Refresh(ctx, r.fetcher(partition, limit), r.saver(partition))
}

// Current returns the first limit records of partition, fetching them first when the
// cached ones are stale. If that fetch fails, the cached records are returned with the error.
func (r *Repository[R, F]) Current(ctx context.Context, partition string, limit int) ([]R, error) {
	records, err := r.table.Read(ctx, partition)
	if err != nil {
		return nil, err
	}
	if r.Stale(records) {
		if ferr := r.ForceRefresh(ctx, partition, limit); ferr != nil {
			return truncate(records, limit), ferr
		}
		if records, err = r.table.Read(ctx, partition); err != nil {
			return nil, err
		}
	}
	return truncate(records, limit), nil
}

func truncate[R any](records []R, limit int) []R {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

// Stale reports if records need to be fetched again.
func (r *Repository[R, F]) Stale(records []R) bool {
	if len(records) == 0 {
		return true
	}
	return r.now().Sub(storage.Oldest(records)) >= r.window
}

func (r *Repository[R, F]) query(partition string) resource.Query[[]R] {
	return func(ctx context.Context) <-chan resource.Outcome[[]R] {
		return r.table.Watch(ctx, partition)
	}
}

func (r *Repository[R, F]) fetcher(partition string, limit int) resource.Fetch[F] {
	return func(ctx context.Context) (F, error) {
		f, err := r.fetch(ctx, partition, limit)
		if err != nil && ctx.Err() == nil {
			r.log.Log(ctx, logger.Warn, "fetch failed", logger.Field("resource", r.name), logger.Field("partition", partition), logger.Field("error", err.Error()))
		}
		return f, err
	}
}

func (r *Repository[R, F]) saver(partition string) resource.Save[F] {
	return func(ctx context.Context, fetched F) error {
		records := r.convert(fetched, r.now().UTC())
		if err := r.table.Replace(ctx, partition, records); err != nil {
			r.log.Log(ctx, logger.Err, "saving fetched records failed", logger.Field("resource", r.name), logger.Field("partition", partition), logger.Field("error", err.Error()))
			return err
		}
		r.log.Log(ctx, logger.Debug, "cache refreshed", logger.Field("resource", r.name), logger.Field("partition", partition), logger.Field("records", len(records)))
		return nil
	}
}
