// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package storage

import "fmt"

// TimeRange is the listening window of a top tracks or top artists partition.
type TimeRange string

const (
	// ShortTerm is roughly the last four weeks.
	ShortTerm TimeRange = "short_term"
	// MediumTerm is roughly the last six months.
	MediumTerm TimeRange = "medium_term"
	// LongTerm is several years of history.
	LongTerm TimeRange = "long_term"
)

// Validate returns an error if r is not a known TimeRange.
func (r TimeRange) Validate() error {
	switch r {
	case ShortTerm, MediumTerm, LongTerm:
		return nil
	}
	return fmt.Errorf("unknown time range %q", string(r))
}

// ProfilePartition is the partition the single profile row is stored under.
const ProfilePartition = ""

// Track is a cached top track.
type Track struct {
	Meta
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists,omitempty"`
	Album      string   `json:"album,omitempty"`
	DurationMS int      `json:"duration_ms"`
	Popularity int      `json:"popularity"`
	Explicit   bool     `json:"explicit,omitempty"`
	URI        string   `json:"uri,omitempty"`
}

// Key implements Record.Key().
func (t Track) Key() string { return t.ID }

// Artist is a cached top artist.
type Artist struct {
	Meta
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres,omitempty"`
	Popularity int      `json:"popularity"`
	Followers  int      `json:"followers"`
	ImageURL   string   `json:"image_url,omitempty"`
	URI        string   `json:"uri,omitempty"`
}

// Key implements Record.Key().
func (a Artist) Key() string { return a.ID }

// Release is a cached new album release.
type Release struct {
	Meta
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AlbumType   string   `json:"album_type,omitempty"`
	Artists     []string `json:"artists,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	TotalTracks int      `json:"total_tracks"`
	ImageURL    string   `json:"image_url,omitempty"`
	URI         string   `json:"uri,omitempty"`
}

// Key implements Record.Key().
func (r Release) Key() string { return r.ID }

// Profile is the signed in user.
type Profile struct {
	Meta
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Country     string `json:"country,omitempty"`
	Product     string `json:"product,omitempty"`
	Followers   int    `json:"followers"`
	ImageURL    string `json:"image_url,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// Key implements Record.Key().
func (p Profile) Key() string { return p.ID }
