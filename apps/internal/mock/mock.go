// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package mock provides an HTTPClient that replays canned responses.
package mock

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

type response struct {
	body     []byte
	callback func(*http.Request)
	code     int
	headers  http.Header
}

// Option configures a response appended with AppendResponse.
type Option func(*response)

// WithBody sets the HTTP response's body to the specified value.
func WithBody(b []byte) Option {
	return func(r *response) {
		r.body = b
	}
}

// WithCallback sets a callback to invoke before returning the response.
func WithCallback(callback func(*http.Request)) Option {
	return func(r *response) {
		r.callback = callback
	}
}

// WithHTTPStatusCode sets the HTTP statusCode of response to the specified value.
func WithHTTPStatusCode(statusCode int) Option {
	return func(r *response) {
		r.code = statusCode
	}
}

// Client is a mock HTTP client that returns a sequence of responses. Use AppendResponse to specify the sequence.
type Client struct {
	mu   sync.Mutex
	resp []response
	reqs []*http.Request
}

// NewClient returns a Client with no responses.
func NewClient() *Client {
	return &Client{}
}

func (c *Client) AppendResponse(opts ...Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := response{code: http.StatusOK, headers: http.Header{}}
	for _, o := range opts {
		o(&r)
	}
	c.resp = append(c.resp, r)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.resp) == 0 {
		panic(fmt.Sprintf(`no response for "%s"`, req.URL.String()))
	}
	c.reqs = append(c.reqs, req)
	resp := c.resp[0]
	c.resp = c.resp[1:]
	if resp.callback != nil {
		resp.callback(req)
	}
	res := http.Response{Header: resp.headers, StatusCode: resp.code, Request: req}
	res.Body = io.NopCloser(bytes.NewReader(resp.body))
	return &res, nil
}

// Requests returns the requests Do received, oldest first.
func (c *Client) Requests() []*http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Request(nil), c.reqs...)
}

// Pending returns how many appended responses were not used.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resp)
}

// CloseIdleConnections implements the comm.HTTPClient interface
func (*Client) CloseIdleConnections() {}

// GetAccessTokenBody returns a token endpoint reply. An empty refreshToken is left out.
func GetAccessTokenBody(accessToken, refreshToken string, expiresIn int) []byte {
	body := fmt.Sprintf(
		`{"access_token": "%s","expires_in": %d,"token_type": "Bearer","scope": "user-read-private user-top-read"`,
		accessToken, expiresIn,
	)
	if refreshToken != "" {
		body += fmt.Sprintf(`, "refresh_token": "%s"`, refreshToken)
	}
	body += "}"
	return []byte(body)
}

// GetTokenErrorBody returns an OAuth error reply from the token endpoint.
func GetTokenErrorBody(code, description string) []byte {
	return []byte(fmt.Sprintf(`{"error": "%s", "error_description": "%s"}`, code, description))
}

// GetAPIErrorBody returns a Web API error reply.
func GetAPIErrorBody(status int, message string) []byte {
	return []byte(fmt.Sprintf(`{"error": {"status": %d, "message": "%s"}}`, status, message))
}
