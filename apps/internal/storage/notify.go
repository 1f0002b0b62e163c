// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package storage

import (
	"context"
	"sync"

	"github.com/tunelens/tunelens-go/apps/internal/resource"
)

// Notifier tells watchers of a partition that it changed. The zero value is ready to use.
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// Subscribe registers for changes to partition. The returned channel receives a value after
// one or more changes; pending changes are coalesced. cancel must be called to unregister.
func (n *Notifier) Subscribe(partition string) (changed <-chan struct{}, cancel func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs == nil {
		n.subs = map[string]map[chan struct{}]struct{}{}
	}
	if n.subs[partition] == nil {
		n.subs[partition] = map[chan struct{}]struct{}{}
	}
	n.subs[partition][ch] = struct{}{}
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[partition], ch)
		if len(n.subs[partition]) == 0 {
			delete(n.subs, partition)
		}
	}
}

// Notify signals every watcher of partition.
func (n *Notifier) Notify(partition string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[partition] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// NotifyAll signals every watcher of every partition.
func (n *Notifier) NotifyAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, subs := range n.subs {
		for ch := range subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Watch implements Table.Watch() on top of a Notifier and a read function. It subscribes
// before the first read so no Replace between the read and the subscription is lost.
func Watch[R Record](ctx context.Context, n *Notifier, partition string, read func(ctx context.Context, partition string) ([]R, error)) <-chan resource.Outcome[[]R] {
	changed, cancel := n.Subscribe(partition)

	out := make(chan resource.Outcome[[]R])
	go func() {
		defer close(out)
		defer cancel()

		for {
			var o resource.Outcome[[]R]
			records, err := read(ctx, partition)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				o = resource.Failure[[]R](err)
			default:
				o = resource.Success(records)
			}

			select {
			case <-ctx.Done():
				return
			case out <- o:
			}
			if !o.OK() {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}()
	return out
}
