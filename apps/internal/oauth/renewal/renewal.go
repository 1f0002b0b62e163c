// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package renewal keeps the bearer credential of Web API calls fresh.

An Authenticator hands out the stored access token when a request is built. When the Web
API rejects a request, the HTTP client calls Authenticate from the goroutine that made the
request. If another request already replaced the rejected token, the stored token is
returned and no renewal is made. Otherwise one refresh token grant is made for every
caller holding the same rejected token, and they all retry with its result.

A rejected renewal clears the stored credentials. The session is over at that point and
callers see an authorization error.
*/
package renewal

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tunelens/tunelens-go/apps/internal/logger"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/accesstokens"
	"github.com/tunelens/tunelens-go/apps/tokenstore"
)

const tracerName = "github.com/tunelens/tunelens-go/renewal"

// Refresher makes the refresh token grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (accesstokens.TokenResponse, error)
}

// Authenticator signs requests with the stored access token and renews it when rejected.
// It is safe for concurrent use.
type Authenticator struct {
	store     tokenstore.Store
	refresher Refresher
	group     singleflight.Group

	log         *logger.Logger
	tracer      trace.Tracer
	onLoggedOut func()
	timeout     time.Duration
	skew        time.Duration
	now         func() time.Time
}

// Option is an optional argument to New.
type Option func(a *Authenticator)

// WithLogger sets the logger. The default discards.
func WithLogger(l *logger.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithTracerProvider sets where spans go. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Authenticator) {
		if tp != nil {
			a.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithLoggedOutHook sets a function called after a failed renewal cleared the session.
func WithLoggedOutHook(hook func()) Option {
	return func(a *Authenticator) {
		a.onLoggedOut = hook
	}
}

// WithTimeout bounds one renewal. It defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New returns an Authenticator reading and writing credentials in store.
func New(store tokenstore.Store, refresher Refresher, options ...Option) *Authenticator {
	if store == nil || refresher == nil {
		panic("renewal.New() needs a token store and a refresher")
	}
	a := &Authenticator{
		store:     store,
		refresher: refresher,
		log:       logger.Discard(),
		tracer:    otel.Tracer(tracerName),
		timeout:   30 * time.Second,
		skew:      30 * time.Second,
		now:       time.Now,
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Credential returns the access token to sign a request with. An access token that is
// missing or about to expire is renewed first. "" means no user is signed in.
func (a *Authenticator) Credential(ctx context.Context) (string, error) {
	c, err := a.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	if c.RefreshToken != "" && (c.AccessToken == "" || a.expired(c)) {
		return a.renew(ctx, c.AccessToken)
	}
	return c.AccessToken, nil
}

// Authenticate returns the credential to retry a request that was rejected while carrying
// rejected. "" means the request must not be retried.
func (a *Authenticator) Authenticate(ctx context.Context, rejected string) (string, error) {
	c, err := a.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	if c.AccessToken != rejected {
		// Someone else already renewed, or logged out.
		return c.AccessToken, nil
	}
	return a.renew(ctx, rejected)
}

func (a *Authenticator) expired(c tokenstore.Credentials) bool {
	return !c.ExpiresOn.IsZero() && a.now().Add(a.skew).After(c.ExpiresOn)
}

// renew joins or starts the renewal of rejected. The renewal does not stop when ctx is
// cancelled since other callers may be waiting on it.
func (a *Authenticator) renew(ctx context.Context, rejected string) (string, error) {
	ch := a.group.DoChan(rejected, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.doRenew(rctx, rejected)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (a *Authenticator) doRenew(ctx context.Context, rejected string) (token string, err error) {
	ctx, span := a.tracer.Start(ctx, "renewal.Renew")
	defer func() {
		span.SetAttributes(attribute.Bool("renewal.renewed", token != "" && token != rejected))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c, err := a.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	if c.AccessToken != rejected {
		return c.AccessToken, nil
	}
	if c.RefreshToken == "" {
		a.log.Log(ctx, logger.Warn, "access token rejected and there is no refresh token")
		return "", nil
	}

	tr, err := a.refresher.Refresh(ctx, c.RefreshToken)
	if err != nil {
		a.log.Log(ctx, logger.Err, "refresh token rejected, ending the session", logger.Field("error", err.Error()))
		if cerr := a.store.Clear(ctx); cerr != nil {
			return "", fmt.Errorf("clear credentials after a failed renewal: %w", cerr)
		}
		if a.onLoggedOut != nil {
			a.onLoggedOut()
		}
		return "", nil
	}

	next := tokenstore.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresOn:    tr.ExpiresOn,
	}
	if tr.HasRefreshToken() {
		next.RefreshToken = tr.RefreshToken
	}
	if err := a.store.Set(ctx, next); err != nil {
		return "", fmt.Errorf("store renewed credentials: %w", err)
	}
	a.log.Log(ctx, logger.Debug, "access token renewed", logger.Field("rotated", tr.HasRefreshToken()), logger.Field("expires_on", tr.ExpiresOn))
	return next.AccessToken, nil
}
