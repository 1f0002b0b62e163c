// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
)

func TestSort(t *testing.T) {
	tracks := []Track{
		{ID: "c", Meta: Meta{Rank: 2}},
		{ID: "b", Meta: Meta{Rank: 0}},
		{ID: "a", Meta: Meta{Rank: 2}},
		{ID: "d", Meta: Meta{Rank: 1}},
	}
	Sort(tracks)

	var got []string
	for _, tr := range tracks {
		got = append(got, tr.ID)
	}
	if diff := pretty.Compare([]string{"b", "d", "a", "c"}, got); diff != "" {
		t.Errorf("TestSort: -want/+got:\n%s", diff)
	}
}

func TestOldest(t *testing.T) {
	now := time.Now()
	tests := []struct {
		desc    string
		records []Artist
		want    time.Time
	}{
		{desc: "Empty"},
		{
			desc: "Several",
			records: []Artist{
				{ID: "1", Meta: Meta{LastFetched: now}},
				{ID: "2", Meta: Meta{LastFetched: now.Add(-2 * time.Hour)}},
				{ID: "3", Meta: Meta{LastFetched: now.Add(-time.Hour)}},
			},
			want: now.Add(-2 * time.Hour),
		},
	}

	for _, test := range tests {
		if got := Oldest(test.records); !got.Equal(test.want) {
			t.Errorf("TestOldest(%s): got %v, want %v", test.desc, got, test.want)
		}
	}
}

func TestTimeRangeValidate(t *testing.T) {
	for _, r := range []TimeRange{ShortTerm, MediumTerm, LongTerm} {
		if err := r.Validate(); err != nil {
			t.Errorf("TestTimeRangeValidate(%s): got err == %s, want err == nil", r, err)
		}
	}
	if err := TimeRange("forever").Validate(); err == nil {
		t.Errorf("TestTimeRangeValidate(forever): got err == nil, want err != nil")
	}
}

type fakeTable struct {
	mu      sync.Mutex
	data    map[string][]Track
	readErr error
	n       Notifier
}

func (f *fakeTable) read(ctx context.Context, partition string) ([]Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	return append([]Track(nil), f.data[partition]...), nil
}

func (f *fakeTable) replace(partition string, tracks []Track) {
	f.mu.Lock()
	f.data[partition] = tracks
	f.mu.Unlock()
	f.n.Notify(partition)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := &fakeTable{data: map[string][]Track{"short_term": {{ID: "1"}}}}
	ch := Watch(ctx, &table.n, "short_term", table.read)

	got := <-ch
	if !got.OK() || len(got.Value) != 1 {
		t.Fatalf("TestWatch: first emission == %+v, want one track", got)
	}

	// A write to another partition is not seen.
	table.replace("long_term", []Track{{ID: "x"}})
	table.replace("short_term", []Track{{ID: "2"}, {ID: "3"}})

	got = <-ch
	if !got.OK() {
		t.Fatalf("TestWatch: second emission was a Failure(%s)", got.Err)
	}
	if diff := pretty.Compare([]Track{{ID: "2"}, {ID: "3"}}, got.Value); diff != "" {
		t.Errorf("TestWatch: second emission: -want/+got:\n%s", diff)
	}

	cancel()
	for range ch {
	}
}

func TestWatchReadError(t *testing.T) {
	table := &fakeTable{data: map[string][]Track{}, readErr: errors.New("disk I/O error")}
	ch := Watch(context.Background(), &table.n, "", table.read)

	got := <-ch
	if got.OK() {
		t.Fatalf("TestWatchReadError: got Success, want Failure")
	}
	if _, ok := <-ch; ok {
		t.Errorf("TestWatchReadError: watch stayed open after a read error")
	}
}

func TestNotifierUnsubscribe(t *testing.T) {
	n := &Notifier{}
	_, cancel := n.Subscribe("p")
	cancel()
	if len(n.subs) != 0 {
		t.Errorf("TestNotifierUnsubscribe: %d partitions still registered", len(n.subs))
	}
	// Must not block or panic without subscribers.
	n.Notify("p")
	n.NotifyAll()
}
