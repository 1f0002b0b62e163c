// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package ops provides operations to talk to the accounts service and the Web API. It wires
the shared HTTP transport into the token grants and the data endpoints.
*/
package ops

import (
	"github.com/tunelens/tunelens-go/apps/internal/logger"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/accesstokens"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/internal/comm"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/webapi"
	"go.opentelemetry.io/otel/trace"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient = comm.HTTPClient

// Authenticator supplies and renews the bearer credential of Web API calls.
type Authenticator = comm.Authenticator

// REST provides REST clients for communicating with the backends.
type REST struct {
	httpClient HTTPClient
	log        *logger.Logger
	tp         trace.TracerProvider
	client     *comm.Client
}

// Option is an optional argument to New.
type Option func(r *REST)

// WithLogger sets the logger of every client made by REST.
func WithLogger(l *logger.Logger) Option {
	return func(r *REST) {
		r.log = l
	}
}

// WithTracerProvider sets where spans go.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *REST) {
		r.tp = tp
	}
}

// New is the constructor for REST.
func New(httpClient HTTPClient, options ...Option) *REST {
	r := &REST{httpClient: httpClient}
	for _, o := range options {
		o(r)
	}
	r.client = comm.New(httpClient, r.commOptions()...)
	return r
}

func (r *REST) commOptions(extra ...comm.Option) []comm.Option {
	return append([]comm.Option{comm.WithLogger(r.log), comm.WithTracerProvider(r.tp)}, extra...)
}

// AccessTokens returns a client that can be used to get tokens from the token endpoint.
// Its calls are never signed by an Authenticator.
func (r *REST) AccessTokens() accesstokens.Client {
	return accesstokens.Client{Comm: r.client}
}

// WebAPI returns a client for the data endpoints rooted at base. Calls are signed with
// credentials from auth, which also handles 401 replies.
func (r *REST) WebAPI(base string, auth Authenticator) webapi.Client {
	return webapi.Client{
		Comm: comm.New(r.httpClient, r.commOptions(comm.WithAuthenticator(auth))...),
		Base: base,
	}
}
