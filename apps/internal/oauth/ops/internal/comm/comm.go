// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package comm provides helpers for communicating with HTTP backends.
package comm

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tunelens/tunelens-go/apps/errors"
	"github.com/tunelens/tunelens-go/apps/internal/logger"
)

const (
	// Version is sent in the X-Client-Ver header.
	Version = "0.4.0"
	sku     = "tunelens.Go"

	tracerName = "github.com/tunelens/tunelens-go/comm"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)

	// CloseIdleConnections closes any idle connections in a "keep-alive" state.
	CloseIdleConnections()
}

// Authenticator supplies the bearer credential for JSONCall.
type Authenticator interface {
	// Credential returns the access token to send. "" means there is no session.
	Credential(ctx context.Context) (string, error)
	// Authenticate is called once when the server rejected the credential rejected. It returns
	// the credential to retry with, or "" if the call must not be retried.
	Authenticate(ctx context.Context, rejected string) (string, error)
}

// Client provides a wrapper to our *http.Client that handles compression and serialization needs.
type Client struct {
	client HTTPClient
	auth   Authenticator
	log    *logger.Logger
	tracer trace.Tracer
}

// Option is an optional argument to New.
type Option func(c *Client)

// WithAuthenticator signs JSONCall requests with credentials from a.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) {
		c.auth = a
	}
}

// WithLogger sets the logger. The default discards.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTracerProvider sets where spans go. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// New returns a new Client object.
func New(httpClient HTTPClient, options ...Option) *Client {
	if httpClient == nil {
		panic("http.Client cannot == nil")
	}

	c := &Client{
		client: httpClient,
		log:    logger.Discard(),
		tracer: otel.Tracer(tracerName),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// JSONCall connects to the REST endpoint passing the HTTP query values, headers and JSON conversion
// of body in the HTTP body. It automatically handles compression and decompression with gzip. The response is JSON
// unmarshalled into resp. resp must be a pointer to a struct. If the body struct contains a field called
// "AdditionalFields" we use a custom marshal/unmarshal engine.
//
// A nil body sends a GET, otherwise a POST. With an Authenticator the request carries a bearer
// credential, and a 401 reply is retried once with the credential Authenticate returns.
func (c *Client) JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "comm.JSONCall", trace.WithSpanKind(trace.SpanKindClient))
	defer func() { endSpan(span, err) }()

	if qv == nil {
		qv = url.Values{}
	}
	if err := checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse path URL(%s): %w", endpoint, err)
	}
	u.RawQuery = qv.Encode()

	method := http.MethodGet
	var data []byte
	if body != nil {
		method = http.MethodPost
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bug: conn.Call(): could not marshal the body object: %w", err)
		}
	}
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", u.String()),
	)

	newReq := func(credential string) *http.Request {
		h := addStdHeaders(headers)
		req := &http.Request{Method: method, URL: u, Header: h}
		if data != nil {
			req.Body = io.NopCloser(bytes.NewReader(data))
			req.ContentLength = int64(len(data))
			h.Set("Content-Type", "application/json; charset=utf-8")
		}
		if credential != "" {
			h.Set("Authorization", "Bearer "+credential)
		}
		return req
	}

	var credential string
	if c.auth != nil {
		credential, err = c.auth.Credential(ctx)
		if err != nil {
			return fmt.Errorf("could not read the access token: %w", err)
		}
		if credential == "" {
			return errors.ErrLoggedOut
		}
	}

	reply, err := c.do(ctx, newReq(credential))
	if err != nil {
		if c.auth == nil || errors.StatusCode(err) != http.StatusUnauthorized {
			return err
		}

		c.log.Log(ctx, logger.Warn, "access token rejected", logger.Field("url", u.Path))
		retry, aerr := c.auth.Authenticate(ctx, credential)
		switch {
		case aerr != nil:
			return fmt.Errorf("could not renew the access token: %w", aerr)
		case retry == "":
			return err
		}
		span.AddEvent("retry with renewed credential")
		if reply, err = c.do(ctx, newReq(retry)); err != nil {
			return err
		}
	}

	if err := json.Unmarshal(reply, resp); err != nil {
		return fmt.Errorf("json decode error: %w\njson message bytes were: %s", err, string(reply))
	}
	return nil
}

// URLFormCall is used to make a call where we need to send application/x-www-form-urlencoded data
// to the backend and receive JSON back. qv will be encoded into the request body. It never uses
// the Authenticator; callers authenticate through headers.
func (c *Client) URLFormCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, resp interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "comm.URLFormCall", trace.WithSpanKind(trace.SpanKindClient))
	defer func() { endSpan(span, err) }()

	if len(qv) == 0 {
		return fmt.Errorf("URLFormCall() requires qv to have non-zero length")
	}
	if err := checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse path URL(%s): %w", endpoint, err)
	}
	span.SetAttributes(
		attribute.String("http.request.method", http.MethodPost),
		attribute.String("url.full", u.String()),
	)

	h := addStdHeaders(headers)
	h.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	enc := qv.Encode()
	req := &http.Request{
		Method:        http.MethodPost,
		URL:           u,
		Header:        h,
		ContentLength: int64(len(enc)),
		Body:          io.NopCloser(strings.NewReader(enc)),
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("json decode error: %w\nraw message was: %s", err, string(data))
	}
	return nil
}

// do makes the HTTP call to the server and returns the contents of the body.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	reply, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("server response error:\n %w", err)
	}
	defer reply.Body.Close()

	data, err := readBody(reply)
	if err != nil {
		return nil, err
	}

	if reply.StatusCode < 200 || reply.StatusCode > 299 {
		sd := strings.TrimSpace(string(data))
		if sd != "" {
			// We probably have the error in the body.
			reply.Body = io.NopCloser(strings.NewReader(sd))
		}
		cause := fmt.Errorf("http call(%s)(%s) error: reply status code was %d:\n%s", req.URL.String(), req.Method, reply.StatusCode, sd)
		if reply.StatusCode == http.StatusUnauthorized {
			cause = fmt.Errorf("%w: %w", errors.ErrUnauthorized, cause)
		}
		return nil, errors.CallErr{Req: req, Resp: reply, Err: cause}
	}
	c.log.Log(ctx, logger.Debug, "http call", logger.Field("method", req.Method), logger.Field("path", req.URL.Path), logger.Field("status", reply.StatusCode))
	return data, nil
}

// checkResp checks a response object o make sure it is a pointer to a struct.
func checkResp(v reflect.Value) error {
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("bug: resp argument must a *struct, was %T", v.Interface())
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("bug: resp argument must be a *struct, was %T", v.Interface())
	}
	return nil
}

// readBody reads the body out of an *http.Response. It supports gzip encoded responses.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "":
		// Do nothing
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("could not open gzip reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	default:
		return nil, fmt.Errorf("bug: comm.Client.JSONCall(): content was send with unsupported content-encoding %s", resp.Header.Get("Content-Encoding"))
	}
	return io.ReadAll(reader)
}

var testID string

// addStdHeaders returns a copy of headers with the headers sent on every call.
func addStdHeaders(headers http.Header) http.Header {
	h := headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Accept", "application/json")
	h.Set("Accept-Encoding", "gzip")
	// This sets a unique ID so the server side can correlate logs for a call.
	if testID == "" {
		h.Set("X-Request-Id", uuid.New().String())
	} else {
		h.Set("X-Request-Id", testID)
	}
	h.Set("X-Client-Sku", sku)
	h.Set("X-Client-Ver", Version)
	return h
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
