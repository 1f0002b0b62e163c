// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package stats summarizes a user's cached top tracks.
package stats

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/tunelens/tunelens-go/apps/internal/storage"
)

// ErrNoTracks is returned when there is nothing to summarize.
var ErrNoTracks = errors.New("no tracks to summarize")

// Spread describes one measure over all tracks.
type Spread struct {
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
}

// ArtistCount is how many of the tracks an artist appears on.
type ArtistCount struct {
	Name   string
	Tracks int
}

// Summary describes a list of top tracks.
type Summary struct {
	Tracks     int
	Popularity Spread
	// Duration is in seconds.
	Duration Spread
	// P90Duration is the 90th percentile track length.
	P90Duration time.Duration
	// Explicit is the share of explicit tracks, between 0 and 1.
	Explicit float64
	// TopArtists are the artists appearing on the most tracks, most first, at most five.
	TopArtists []ArtistCount
}

// Summarize computes a Summary of tracks.
func Summarize(tracks []storage.Track) (Summary, error) {
	if len(tracks) == 0 {
		return Summary{}, ErrNoTracks
	}

	popularity := make(stats.Float64Data, 0, len(tracks))
	duration := make(stats.Float64Data, 0, len(tracks))
	explicit := 0
	byArtist := map[string]int{}
	for _, t := range tracks {
		popularity = append(popularity, float64(t.Popularity))
		duration = append(duration, float64(t.DurationMS)/1000)
		if t.Explicit {
			explicit++
		}
		for _, a := range t.Artists {
			byArtist[a]++
		}
	}

	s := Summary{
		Tracks:     len(tracks),
		Explicit:   float64(explicit) / float64(len(tracks)),
		TopArtists: topArtists(byArtist, 5),
	}
	var err error
	if s.Popularity, err = spread(popularity); err != nil {
		return Summary{}, fmt.Errorf("popularity: %w", err)
	}
	if s.Duration, err = spread(duration); err != nil {
		return Summary{}, fmt.Errorf("duration: %w", err)
	}
	p90, err := duration.Percentile(90)
	if err != nil {
		return Summary{}, fmt.Errorf("duration percentile: %w", err)
	}
	s.P90Duration = time.Duration(p90 * float64(time.Second))
	return s, nil
}

func spread(data stats.Float64Data) (Spread, error) {
	var s Spread
	var err error
	if s.Mean, err = data.Mean(); err != nil {
		return Spread{}, err
	}
	if s.Median, err = data.Median(); err != nil {
		return Spread{}, err
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return Spread{}, err
	}
	if s.Min, err = data.Min(); err != nil {
		return Spread{}, err
	}
	if s.Max, err = data.Max(); err != nil {
		return Spread{}, err
	}
	return s, nil
}

func topArtists(counts map[string]int, n int) []ArtistCount {
	out := make([]ArtistCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, ArtistCount{Name: name, Tracks: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tracks != out[j].Tracks {
			return out[i].Tracks > out[j].Tracks
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
