// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/webapi"
	"github.com/tunelens/tunelens-go/apps/internal/resource"
	"github.com/tunelens/tunelens-go/apps/internal/storage"
)

// WebAPI is the part of the Web API the repositories fetch from.
type WebAPI interface {
	TopTracks(ctx context.Context, timeRange string, limit int) ([]webapi.Track, error)
	TopArtists(ctx context.Context, timeRange string, limit int) ([]webapi.Artist, error)
	NewReleases(ctx context.Context, market string, limit int) ([]webapi.Album, error)
	Me(ctx context.Context) (webapi.User, error)
}

// Windows are how long each kind of record is served before it is fetched again.
type Windows struct {
	Tracks   time.Duration
	Artists  time.Duration
	Releases time.Duration
	Profile  time.Duration
}

// DefaultWindows returns the windows used unless the caller sets their own.
func DefaultWindows() Windows {
	return Windows{
		Tracks:   time.Hour,
		Artists:  time.Hour,
		Releases: 6 * time.Hour,
		Profile:  24 * time.Hour,
	}
}

// Tracks is the user's top tracks, partitioned by storage.TimeRange.
type Tracks = Repository[storage.Track, []webapi.Track]

// Artists is the user's top artists, partitioned by storage.TimeRange.
type Artists = Repository[storage.Artist, []webapi.Artist]

// Releases is new album releases, partitioned by market.
type Releases = Repository[storage.Release, []webapi.Album]

// NewTracks returns the top tracks repository.
func NewTracks(table storage.Table[storage.Track], api WebAPI, window time.Duration, options ...Option) *Tracks {
	fetch := func(ctx context.Context, partition string, limit int) ([]webapi.Track, error) {
		if err := storage.TimeRange(partition).Validate(); err != nil {
			return nil, err
		}
		return api.TopTracks(ctx, partition, limit)
	}
	return New[storage.Track, []webapi.Track]("tracks", table, fetch, TrackRecords, window, options...)
}

// NewArtists returns the top artists repository.
func NewArtists(table storage.Table[storage.Artist], api WebAPI, window time.Duration, options ...Option) *Artists {
	fetch := func(ctx context.Context, partition string, limit int) ([]webapi.Artist, error) {
		if err := storage.TimeRange(partition).Validate(); err != nil {
			return nil, err
		}
		return api.TopArtists(ctx, partition, limit)
	}
	return New[storage.Artist, []webapi.Artist]("artists", table, fetch, ArtistRecords, window, options...)
}

// NewReleases returns the new releases repository.
func NewReleases(table storage.Table[storage.Release], api WebAPI, window time.Duration, options ...Option) *Releases {
	return New[storage.Release, []webapi.Album]("releases", table, api.NewReleases, ReleaseRecords, window, options...)
}

// TrackRecords maps top tracks to records ranked in list order.
func TrackRecords(tracks []webapi.Track, at time.Time) []storage.Track {
	out := make([]storage.Track, 0, len(tracks))
	for i, t := range tracks {
		out = append(out, storage.Track{
			Meta:       storage.Meta{Rank: i, LastFetched: at},
			ID:         t.ID,
			Name:       t.Name,
			Artists:    artistNames(t.Artists),
			Album:      t.Album.Name,
			DurationMS: t.DurationMS,
			Popularity: t.Popularity,
			Explicit:   t.Explicit,
			URI:        t.URI,
		})
	}
	return out
}

// ArtistRecords maps top artists to records ranked in list order.
func ArtistRecords(artists []webapi.Artist, at time.Time) []storage.Artist {
	out := make([]storage.Artist, 0, len(artists))
	for i, a := range artists {
		out = append(out, storage.Artist{
			Meta:       storage.Meta{Rank: i, LastFetched: at},
			ID:         a.ID,
			Name:       a.Name,
			Genres:     a.Genres,
			Popularity: a.Popularity,
			Followers:  a.Followers.Total,
			ImageURL:   imageURL(a.Images),
			URI:        a.URI,
		})
	}
	return out
}

// ReleaseRecords maps new releases to records ranked in list order.
func ReleaseRecords(albums []webapi.Album, at time.Time) []storage.Release {
	out := make([]storage.Release, 0, len(albums))
	for i, a := range albums {
		out = append(out, storage.Release{
			Meta:        storage.Meta{Rank: i, LastFetched: at},
			ID:          a.ID,
			Name:        a.Name,
			AlbumType:   a.AlbumType,
			Artists:     artistNames(a.Artists),
			ReleaseDate: a.ReleaseDate,
			TotalTracks: a.TotalTracks,
			ImageURL:    imageURL(a.Images),
			URI:         a.URI,
		})
	}
	return out
}

func artistNames(artists []webapi.SimpleArtist) []string {
	if len(artists) == 0 {
		return nil
	}
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return names
}

// imageURL picks the first image, which the Web API lists widest first.
func imageURL(images []webapi.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

// Profile is the signed in user's profile. It is a single record under
// storage.ProfilePartition.
type Profile struct {
	repo *Repository[storage.Profile, webapi.User]
}

// NewProfile returns the profile repository.
func NewProfile(table storage.Table[storage.Profile], api WebAPI, window time.Duration, options ...Option) *Profile {
	fetch := func(ctx context.Context, partition string, limit int) (webapi.User, error) {
		return api.Me(ctx)
	}
	return &Profile{repo: New[storage.Profile, webapi.User]("profile", table, fetch, profileRecords, window, options...)}
}

func profileRecords(u webapi.User, at time.Time) []storage.Profile {
	return []storage.Profile{{
		Meta:        storage.Meta{LastFetched: at},
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Country:     u.Country,
		Product:     u.Product,
		Followers:   u.Followers.Total,
		ImageURL:    imageURL(u.Images),
		URI:         u.URI,
	}}
}

// Get streams the cached profile and refetches it when stale. Nothing is emitted until a
// profile is known.
func (p *Profile) Get(ctx context.Context) <-chan resource.Outcome[*storage.Profile] {
	in := p.repo.Get(ctx, storage.ProfilePartition, 1)
	out := make(chan resource.Outcome[*storage.Profile])
	go func() {
		defer close(out)
		for o := range in {
			var po resource.Outcome[*storage.Profile]
			switch {
			case !o.OK():
				po = resource.Failure[*storage.Profile](o.Err)
			case len(o.Value) == 0:
				continue
			default:
				v := o.Value[0]
				po = resource.Success(&v)
			}
			select {
			case <-ctx.Done():
				return
			case out <- po:
			}
		}
	}()
	return out
}

// Current returns the profile, fetching it first when the cached one is stale. If that
// fetch fails, the cached profile is returned with the error. The profile is nil if none
// is known.
func (p *Profile) Current(ctx context.Context) (*storage.Profile, error) {
	records, err := p.repo.Current(ctx, storage.ProfilePartition, 1)
	if len(records) == 0 {
		return nil, err
	}
	return &records[0], err
}

// ForceRefresh fetches the profile whatever its age.
func (p *Profile) ForceRefresh(ctx context.Context) error {
	if err := p.repo.ForceRefresh(ctx, storage.ProfilePartition, 1); err != nil {
		return fmt.Errorf("refresh profile: %w", err)
	}
	return nil
}
