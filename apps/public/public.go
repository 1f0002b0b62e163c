// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package public provides a client of the music streaming Web API for applications that run
on a user's own device.

A Client signs the user in with the authorization code flow, keeps their tokens in a token
store and serves their profile and listening statistics from a local cache. Reads return
a channel of Outcomes: the cached value comes first, and when it is stale the client
fetches a fresh copy and emits that too. A failed fetch is emitted as a Failure while the
cached value stays in place.

	client, err := public.New("client_id", public.WithRedirectURI("http://127.0.0.1:8888/callback"))
	if err != nil {
		// TODO: handle error
	}
	if _, err := client.AcquireTokenInteractive(ctx); err != nil {
		// TODO: handle error
	}
	for o := range client.TopTracks(ctx, public.ShortTerm, 10) {
		...
	}
*/
package public

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tunelens/tunelens-go/apps/internal/local"
	"github.com/tunelens/tunelens-go/apps/internal/logger"
	"github.com/tunelens/tunelens-go/apps/internal/oauth"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/authority"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/webapi"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/renewal"
	"github.com/tunelens/tunelens-go/apps/internal/repository"
	"github.com/tunelens/tunelens-go/apps/internal/resource"
	"github.com/tunelens/tunelens-go/apps/internal/stats"
	"github.com/tunelens/tunelens-go/apps/internal/storage"
	"github.com/tunelens/tunelens-go/apps/internal/storage/memory"
	"github.com/tunelens/tunelens-go/apps/internal/storage/sqlite"
	"github.com/tunelens/tunelens-go/apps/tokenstore"
)

const (
	// DefaultRedirectURI is where the accounts service sends the user back to.
	DefaultRedirectURI = "http://127.0.0.1:8888/callback"
	// DefaultAPIBase is the root of the Web API.
	DefaultAPIBase = webapi.DefaultBase
)

// DefaultScopes are the scopes requested unless WithScopes is used.
var DefaultScopes = []string{"user-top-read", "user-read-private", "user-read-email"}

type (
	// Outcome is one emission of a resource stream. It is a Success when Err is nil.
	Outcome[T any] = resource.Outcome[T]

	// Store is a local cache of Web API records.
	Store = storage.Store
	// TimeRange is the listening window of top tracks and artists.
	TimeRange = storage.TimeRange

	Track   = storage.Track
	Artist  = storage.Artist
	Release = storage.Release
	Profile = storage.Profile

	// Windows are how long each kind of record is served before it is fetched again.
	Windows = repository.Windows

	// Summary describes a list of top tracks.
	Summary = stats.Summary
)

const (
	ShortTerm  = storage.ShortTerm
	MediumTerm = storage.MediumTerm
	LongTerm   = storage.LongTerm
)

// DefaultWindows returns the cache windows used unless WithCacheWindows is set.
func DefaultWindows() Windows {
	return repository.DefaultWindows()
}

// OpenCache opens or creates a SQLite cache file at path for use with WithStore.
func OpenCache(ctx context.Context, path string) (Store, error) {
	s, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AuthResult holds the result of a sign in.
type AuthResult struct {
	ExpiresOn     time.Time
	GrantedScopes []string
}

// Options configures the Client's behavior.
type Options struct {
	// ClientSecret makes the Client confidential. Without it the Client is public and
	// proves its authorization codes with PKCE.
	ClientSecret string
	// RedirectURI is registered with the application. It is DefaultRedirectURI by default.
	RedirectURI string
	// Scopes are requested at sign in. They are DefaultScopes by default.
	Scopes []string
	// Authority is the accounts service. It is https://accounts.spotify.com by default.
	Authority string
	// APIBase is the root of the Web API. It is DefaultAPIBase by default.
	APIBase string

	// TokenStore keeps the user's credentials. It is in memory by default.
	TokenStore tokenstore.Store
	// Store caches records. It is in memory by default.
	Store Store
	// Windows are the cache windows. They are DefaultWindows() by default.
	Windows Windows

	HTTPClient     ops.HTTPClient
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	// LoggedOut is called after a rejected renewal ended the session.
	LoggedOut func()
}

func (o *Options) validate() error {
	if o.RedirectURI != "" {
		u, err := url.Parse(o.RedirectURI)
		if err != nil {
			return fmt.Errorf("redirect URI %q cannot be URL parsed: %w", o.RedirectURI, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("redirect URI %q must be absolute", o.RedirectURI)
		}
	}
	if o.APIBase != "" {
		u, err := url.Parse(o.APIBase)
		if err != nil {
			return fmt.Errorf("API base %q cannot be URL parsed: %w", o.APIBase, err)
		}
		if u.Scheme != "https" && u.Hostname() != "127.0.0.1" && u.Hostname() != "localhost" {
			return fmt.Errorf("API base(%s) did not start with https://", u.String())
		}
	}
	return nil
}

// Option is an optional argument to the New constructor.
type Option func(o *Options)

// WithClientSecret makes the Client authenticate to the token endpoint with secret.
func WithClientSecret(secret string) Option {
	return func(o *Options) {
		o.ClientSecret = secret
	}
}

// WithRedirectURI sets the redirect URI registered for the application.
func WithRedirectURI(uri string) Option {
	return func(o *Options) {
		o.RedirectURI = uri
	}
}

// WithScopes sets the scopes requested at sign in.
func WithScopes(scopes ...string) Option {
	return func(o *Options) {
		o.Scopes = scopes
	}
}

// WithAuthority allows for a custom accounts service to be set. This must be a valid https url.
func WithAuthority(authority string) Option {
	return func(o *Options) {
		o.Authority = authority
	}
}

// WithAPIBase sets the root of the Web API.
func WithAPIBase(base string) Option {
	return func(o *Options) {
		o.APIBase = base
	}
}

// WithTokenStore sets where the user's credentials are kept.
func WithTokenStore(s tokenstore.Store) Option {
	return func(o *Options) {
		o.TokenStore = s
	}
}

// WithStore sets the local cache. The caller closes it.
func WithStore(s Store) Option {
	return func(o *Options) {
		o.Store = s
	}
}

// WithCacheWindows sets how long records are served before they are fetched again.
func WithCacheWindows(w Windows) Option {
	return func(o *Options) {
		o.Windows = w
	}
}

// WithHTTPClient allows for a custom HTTP client to be set.
func WithHTTPClient(httpClient ops.HTTPClient) Option {
	return func(o *Options) {
		o.HTTPClient = httpClient
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithTracerProvider sets where spans go. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// WithLoggedOutHook sets a function called after a rejected renewal ended the session.
// It may run on any goroutine.
func WithLoggedOutHook(hook func()) Option {
	return func(o *Options) {
		o.LoggedOut = hook
	}
}

// Client is a client of the Web API for one user.
type Client struct {
	oauth      *oauth.Client
	tokens     tokenstore.Store
	cache      Store
	ownsCache  bool
	httpClient ops.HTTPClient
	log        *logger.Logger
	scopes     []string

	tracks   *repository.Tracks
	artists  *repository.Artists
	releases *repository.Releases
	profile  *repository.Profile
}

// New is the constructor for Client.
func New(clientID string, options ...Option) (*Client, error) {
	if clientID == "" {
		return nil, errors.New("client id is required")
	}
	opts := Options{
		RedirectURI: DefaultRedirectURI,
		Scopes:      DefaultScopes,
		Authority:   authority.DefaultAuthority,
		APIBase:     DefaultAPIBase,
		Windows:     DefaultWindows(),
	}
	for _, o := range options {
		o(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	endpoints, err := authority.NewEndpoints(opts.Authority)
	if err != nil {
		return nil, err
	}
	authParams := authority.NewAuthParams(clientID, endpoints)
	authParams.Redirecturi = opts.RedirectURI
	authParams.Scopes = opts.Scopes

	c := &Client{
		tokens:     opts.TokenStore,
		cache:      opts.Store,
		httpClient: opts.HTTPClient,
		log:        logger.Discard(),
		scopes:     opts.Scopes,
	}
	if opts.Logger != nil {
		c.log = logger.New(opts.Logger)
	}
	if c.tokens == nil {
		c.tokens = &tokenstore.Memory{}
	}
	if c.cache == nil {
		c.cache = memory.New()
		c.ownsCache = true
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	rest := ops.New(c.httpClient, ops.WithLogger(c.log), ops.WithTracerProvider(opts.TracerProvider))
	c.oauth = oauth.New(authParams, opts.ClientSecret, rest)
	auth := renewal.New(c.tokens, c.oauth,
		renewal.WithLogger(c.log),
		renewal.WithTracerProvider(opts.TracerProvider),
		renewal.WithLoggedOutHook(opts.LoggedOut),
	)
	api := rest.WebAPI(opts.APIBase, auth)

	ropts := []repository.Option{repository.WithLogger(c.log)}
	c.tracks = repository.NewTracks(c.cache.Tracks(), api, opts.Windows.Tracks, ropts...)
	c.artists = repository.NewArtists(c.cache.Artists(), api, opts.Windows.Artists, ropts...)
	c.releases = repository.NewReleases(c.cache.Releases(), api, opts.Windows.Releases, ropts...)
	c.profile = repository.NewProfile(c.cache.Profiles(), api, opts.Windows.Profile, ropts...)
	return c, nil
}

// AuthCodeURL creates a URL used to acquire an authorization code. challenge is the PKCE
// S256 challenge, required for public clients. Empty scopes use the Client's scopes.
func (c *Client) AuthCodeURL(state, challenge string, scopes []string) (string, error) {
	return c.oauth.AuthCodeURL(state, challenge, scopes)
}

// AcquireTokenByAuthCode exchanges an authorization code for tokens and stores them.
// verifier is the PKCE verifier the code's challenge was made from.
func (c *Client) AcquireTokenByAuthCode(ctx context.Context, code, verifier string) (AuthResult, error) {
	return c.acquireByAuthCode(ctx, c.oauth, code, verifier)
}

func (c *Client) acquireByAuthCode(ctx context.Context, oc *oauth.Client, code, verifier string) (AuthResult, error) {
	tr, err := oc.AuthCode(ctx, code, verifier)
	if err != nil {
		return AuthResult{}, err
	}
	creds := tokenstore.Credentials{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, ExpiresOn: tr.ExpiresOn}
	if err := c.tokens.Set(ctx, creds); err != nil {
		return AuthResult{}, fmt.Errorf("store credentials: %w", err)
	}
	c.log.Log(ctx, logger.Info, "signed in", logger.Field("scopes", tr.GrantedScopes))
	return AuthResult{ExpiresOn: tr.ExpiresOn, GrantedScopes: tr.GrantedScopes}, nil
}

// InteractiveOption is an optional argument to AcquireTokenInteractive.
type InteractiveOption func(o *interactiveOptions)

type interactiveOptions struct {
	scopes     []string
	showDialog bool
}

// WithInteractiveScopes requests scopes instead of the Client's scopes.
func WithInteractiveScopes(scopes ...string) InteractiveOption {
	return func(o *interactiveOptions) {
		o.scopes = scopes
	}
}

// WithShowDialog makes the accounts service ask for consent even if it was given before.
func WithShowDialog() InteractiveOption {
	return func(o *interactiveOptions) {
		o.showDialog = true
	}
}

// browserOpenURL is assigned to browser.OpenURL and replaced in tests.
var browserOpenURL = func(authURL string) error {
	return browser.OpenURL(authURL)
}

// AcquireTokenInteractive signs the user in with their browser. A loopback server on the
// port of the redirect URI receives the authorization code. ctx bounds the whole sign in.
func (c *Client) AcquireTokenInteractive(ctx context.Context, options ...InteractiveOption) (AuthResult, error) {
	var o interactiveOptions
	for _, opt := range options {
		opt(&o)
	}

	redirect, err := url.Parse(c.oauth.AuthParams().Redirecturi)
	if err != nil {
		return AuthResult{}, err
	}
	if redirect.Scheme != "http" || (redirect.Hostname() != "127.0.0.1" && redirect.Hostname() != "localhost") {
		return AuthResult{}, fmt.Errorf("interactive sign in needs a loopback redirect URI, got %s", redirect)
	}
	port := 0
	if p := redirect.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return AuthResult{}, fmt.Errorf("redirect URI port %q: %w", p, err)
		}
	}

	verifier, challenge, err := authority.CodeVerifier()
	if err != nil {
		return AuthResult{}, err
	}
	state := uuid.New().String()

	srv, err := local.New(state, port, redirect.Path)
	if err != nil {
		return AuthResult{}, err
	}
	defer srv.Shutdown()

	oc := c.oauth.WithRedirectURI(srv.RedirectURI())
	if o.showDialog {
		oc = oc.WithShowDialog()
	}
	authURL, err := oc.AuthCodeURL(state, challenge, o.scopes)
	if err != nil {
		return AuthResult{}, err
	}
	if err := browserOpenURL(authURL); err != nil {
		return AuthResult{}, fmt.Errorf("open the browser: %w", err)
	}

	res := srv.Result(ctx)
	if res.Err != nil {
		return AuthResult{}, res.Err
	}
	return c.acquireByAuthCode(ctx, oc, res.Code, verifier)
}

// LoggedIn reports if credentials are stored.
func (c *Client) LoggedIn(ctx context.Context) (bool, error) {
	creds, err := c.tokens.Get(ctx)
	if err != nil {
		return false, err
	}
	return creds.LoggedIn(), nil
}

// Logout removes the stored credentials and every cached record.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	if err := c.cache.Purge(ctx); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	c.log.Log(ctx, logger.Info, "signed out")
	return nil
}

// TopTracks streams the user's top limit tracks over timeRange until ctx is done.
func (c *Client) TopTracks(ctx context.Context, timeRange TimeRange, limit int) <-chan Outcome[[]Track] {
	return c.tracks.Get(ctx, string(timeRange), limit)
}

// TopArtists streams the user's top limit artists over timeRange until ctx is done.
func (c *Client) TopArtists(ctx context.Context, timeRange TimeRange, limit int) <-chan Outcome[[]Artist] {
	return c.artists.Get(ctx, string(timeRange), limit)
}

// NewReleases streams limit new album releases in market until ctx is done. An empty
// market lists releases from any market.
func (c *Client) NewReleases(ctx context.Context, market string, limit int) <-chan Outcome[[]Release] {
	return c.releases.Get(ctx, market, limit)
}

// Profile streams the user's profile until ctx is done.
func (c *Client) Profile(ctx context.Context) <-chan Outcome[*Profile] {
	return c.profile.Get(ctx)
}

// CurrentTopTracks returns the user's top limit tracks over timeRange, fetching them first
// when the cache is stale. If that fetch fails, the cached tracks are returned with the error.
func (c *Client) CurrentTopTracks(ctx context.Context, timeRange TimeRange, limit int) ([]Track, error) {
	return c.tracks.Current(ctx, string(timeRange), limit)
}

// CurrentTopArtists is CurrentTopTracks for artists.
func (c *Client) CurrentTopArtists(ctx context.Context, timeRange TimeRange, limit int) ([]Artist, error) {
	return c.artists.Current(ctx, string(timeRange), limit)
}

// CurrentNewReleases is CurrentTopTracks for new releases in market.
func (c *Client) CurrentNewReleases(ctx context.Context, market string, limit int) ([]Release, error) {
	return c.releases.Current(ctx, market, limit)
}

// CurrentProfile returns the user's profile, fetching it first when the cache is stale.
// The profile is nil if none is known.
func (c *Client) CurrentProfile(ctx context.Context) (*Profile, error) {
	return c.profile.Current(ctx)
}

// RefreshTopTracks fetches the user's top tracks whatever the age of the cache.
func (c *Client) RefreshTopTracks(ctx context.Context, timeRange TimeRange, limit int) error {
	return c.tracks.ForceRefresh(ctx, string(timeRange), limit)
}

// RefreshTopArtists fetches the user's top artists whatever the age of the cache.
func (c *Client) RefreshTopArtists(ctx context.Context, timeRange TimeRange, limit int) error {
	return c.artists.ForceRefresh(ctx, string(timeRange), limit)
}

// RefreshNewReleases fetches new releases whatever the age of the cache.
func (c *Client) RefreshNewReleases(ctx context.Context, market string, limit int) error {
	return c.releases.ForceRefresh(ctx, market, limit)
}

// RefreshProfile fetches the user's profile whatever the age of the cache.
func (c *Client) RefreshProfile(ctx context.Context) error {
	return c.profile.ForceRefresh(ctx)
}

// RefreshAll fetches the top tracks, top artists and profile at the same time. The first
// error cancels the other fetches and is returned.
func (c *Client) RefreshAll(ctx context.Context, timeRange TimeRange, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.RefreshTopTracks(gctx, timeRange, limit) })
	g.Go(func() error { return c.RefreshTopArtists(gctx, timeRange, limit) })
	g.Go(func() error { return c.RefreshProfile(gctx) })
	return g.Wait()
}

// Summary summarizes the cached top tracks over timeRange, fetching them if none are cached.
func (c *Client) Summary(ctx context.Context, timeRange TimeRange) (Summary, error) {
	if err := timeRange.Validate(); err != nil {
		return Summary{}, err
	}
	tracks, err := c.cache.Tracks().Read(ctx, string(timeRange))
	if err != nil {
		return Summary{}, err
	}
	if len(tracks) == 0 {
		if err := c.RefreshTopTracks(ctx, timeRange, webapi.MaxPageSize); err != nil {
			return Summary{}, err
		}
		if tracks, err = c.cache.Tracks().Read(ctx, string(timeRange)); err != nil {
			return Summary{}, err
		}
	}
	return stats.Summarize(tracks)
}

// Close releases the client's idle connections, and its cache unless it came from WithStore.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	if c.ownsCache {
		return c.cache.Close()
	}
	return nil
}
