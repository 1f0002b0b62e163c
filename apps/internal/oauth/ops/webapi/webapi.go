// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package webapi exposes a REST client for the data endpoints of the Web API: the user's
profile, their top tracks and artists, and new album releases.

These calls are GETs returning JSON. Lists come back in pages of the form
{"items": [...], "next": "<url>", "total": n}; the client follows next links until it has
the number of items the caller asked for.
*/
package webapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultBase is the root of the Web API.
	DefaultBase = "https://api.spotify.com/v1"
	// DefaultLimit is the number of items returned when a caller does not ask for more.
	DefaultLimit = 20
	// MaxPageSize is the largest page the Web API returns.
	MaxPageSize = 50
)

type jsonCaller interface {
	JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) error
}

// Client represents the REST calls to the Web API data endpoints.
type Client struct {
	// Comm provides the HTTP transport client. It signs requests with the user's access token.
	Comm jsonCaller
	// Base is the root URL of the Web API. DefaultBase is used when empty.
	Base string
}

// Image is artwork of an album, artist or user.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Followers holds the follower count of an artist or user.
type Followers struct {
	Total int `json:"total"`
}

// SimpleArtist is an artist as embedded in tracks and albums.
type SimpleArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SimpleAlbum is an album as embedded in a track.
type SimpleAlbum struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

// Track is a track object.
type Track struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Artists    []SimpleArtist `json:"artists"`
	Album      SimpleAlbum    `json:"album"`
	DurationMS int            `json:"duration_ms"`
	Popularity int            `json:"popularity"`
	Explicit   bool           `json:"explicit"`
	URI        string         `json:"uri"`
}

// Artist is an artist object.
type Artist struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Genres     []string  `json:"genres"`
	Popularity int       `json:"popularity"`
	Followers  Followers `json:"followers"`
	Images     []Image   `json:"images"`
	URI        string    `json:"uri"`
}

// Album is an album object as listed by the new releases endpoint.
type Album struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	AlbumType   string         `json:"album_type"`
	Artists     []SimpleArtist `json:"artists"`
	ReleaseDate string         `json:"release_date"`
	TotalTracks int            `json:"total_tracks"`
	Images      []Image        `json:"images"`
	URI         string         `json:"uri"`
}

// User is the current user's profile.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Country     string    `json:"country"`
	Product     string    `json:"product"`
	Followers   Followers `json:"followers"`
	Images      []Image   `json:"images"`
	URI         string    `json:"uri"`
}

// Page is one page of a list endpoint.
type Page[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next"`
	Total int    `json:"total"`
}

type albumsEnvelope struct {
	Albums Page[Album] `json:"albums"`
}

// TopTracks returns up to limit of the user's top tracks over timeRange, most listened first.
func (c Client) TopTracks(ctx context.Context, timeRange string, limit int) ([]Track, error) {
	qv := url.Values{}
	qv.Set("time_range", timeRange)
	return collect(ctx, c, "/me/top/tracks", qv, limit, func(ctx context.Context, endpoint string, qv url.Values) (Page[Track], error) {
		var p Page[Track]
		err := c.Comm.JSONCall(ctx, endpoint, nil, qv, nil, &p)
		return p, err
	})
}

// TopArtists returns up to limit of the user's top artists over timeRange, most listened first.
func (c Client) TopArtists(ctx context.Context, timeRange string, limit int) ([]Artist, error) {
	qv := url.Values{}
	qv.Set("time_range", timeRange)
	return collect(ctx, c, "/me/top/artists", qv, limit, func(ctx context.Context, endpoint string, qv url.Values) (Page[Artist], error) {
		var p Page[Artist]
		err := c.Comm.JSONCall(ctx, endpoint, nil, qv, nil, &p)
		return p, err
	})
}

// NewReleases returns up to limit newly released albums. market is an ISO 3166-1 alpha-2
// country code; an empty market lists releases from any market.
func (c Client) NewReleases(ctx context.Context, market string, limit int) ([]Album, error) {
	qv := url.Values{}
	if market != "" {
		qv.Set("country", market)
	}
	return collect(ctx, c, "/browse/new-releases", qv, limit, func(ctx context.Context, endpoint string, qv url.Values) (Page[Album], error) {
		var e albumsEnvelope
		err := c.Comm.JSONCall(ctx, endpoint, nil, qv, nil, &e)
		return e.Albums, err
	})
}

// Me returns the profile of the user the access token belongs to.
func (c Client) Me(ctx context.Context) (User, error) {
	var u User
	if err := c.Comm.JSONCall(ctx, c.endpoint("/me"), nil, nil, nil, &u); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		return User{}, fmt.Errorf("profile reply has no user id")
	}
	return u, nil
}

func (c Client) endpoint(path string) string {
	base := c.Base
	if base == "" {
		base = DefaultBase
	}
	return strings.TrimSuffix(base, "/") + path
}

type getPage[T any] func(ctx context.Context, endpoint string, qv url.Values) (Page[T], error)

// collect reads pages starting at path until limit items are gathered or the list ends.
func collect[T any](ctx context.Context, c Client, path string, qv url.Values, limit int, get getPage[T]) ([]T, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	qv.Set("limit", strconv.Itoa(min(limit, MaxPageSize)))

	endpoint := c.endpoint(path)
	var items []T
	for {
		p, err := get(ctx, endpoint, qv)
		if err != nil {
			return nil, err
		}
		items = append(items, p.Items...)
		if len(items) >= limit || p.Next == "" || len(p.Items) == 0 {
			break
		}

		// next carries its own query. comm re-encodes qv onto the endpoint, so split them.
		u, err := url.Parse(p.Next)
		if err != nil {
			return nil, fmt.Errorf("page link %q is not a URL: %w", p.Next, err)
		}
		qv = u.Query()
		u.RawQuery = ""
		endpoint = u.String()
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
