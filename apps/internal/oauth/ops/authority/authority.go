// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package authority describes the authorization server: where users sign in, where tokens
// are issued and what a client sends along with its requests.
package authority

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// DefaultAuthority is the accounts service of the Web API.
const DefaultAuthority = "https://accounts.spotify.com"

// OAuthResponseBase is the error part of a token endpoint reply.
// https://datatracker.ietf.org/doc/html/rfc6749#section-5.2
type OAuthResponseBase struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Endpoints consists of the endpoints of the authorization server.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
}

// NewEndpoints returns the endpoints of the authority at authorityURI, which must be an https
// URL. Plain http is accepted for loopback hosts so tests can use a local server.
func NewEndpoints(authorityURI string) (Endpoints, error) {
	u, err := url.Parse(strings.TrimSuffix(authorityURI, "/"))
	if err != nil {
		return Endpoints{}, fmt.Errorf("authority URI %q is not a URL: %w", authorityURI, err)
	}
	switch {
	case u.Host == "":
		return Endpoints{}, fmt.Errorf("authority URI %q has no host", authorityURI)
	case u.Scheme == "https":
	case u.Scheme == "http" && isLoopback(u.Hostname()):
	default:
		return Endpoints{}, fmt.Errorf("authority URI %q must use https", authorityURI)
	}
	u.RawQuery, u.Fragment = "", ""

	return Endpoints{
		AuthorizationEndpoint: u.String() + "/authorize",
		TokenEndpoint:         u.String() + "/api/token",
	}, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// AuthParams represents the parameters used for authorization for token acquisition.
type AuthParams struct {
	ClientID    string
	Redirecturi string
	Scopes      []string
	Endpoints   Endpoints
	// ShowDialog forces the consent page even if the user already approved the app.
	ShowDialog bool
}

// NewAuthParams creates an authorization parameters object.
func NewAuthParams(clientID string, endpoints Endpoints) AuthParams {
	return AuthParams{
		ClientID:  clientID,
		Endpoints: endpoints,
	}
}

// AuthCodeURL returns the URL a user visits to grant access. challenge is the PKCE S256 code
// challenge; it is left out when empty.
func (p AuthParams) AuthCodeURL(state, challenge string) (string, error) {
	if p.ClientID == "" {
		return "", fmt.Errorf("client id is required")
	}
	if p.Redirecturi == "" {
		return "", fmt.Errorf("redirect uri is required")
	}
	u, err := url.Parse(p.Endpoints.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("authorization endpoint %q is not a URL: %w", p.Endpoints.AuthorizationEndpoint, err)
	}

	v := url.Values{}
	v.Set("client_id", p.ClientID)
	v.Set("response_type", "code")
	v.Set("redirect_uri", p.Redirecturi)
	if len(p.Scopes) > 0 {
		v.Set("scope", strings.Join(p.Scopes, " "))
	}
	if state != "" {
		v.Set("state", state)
	}
	if challenge != "" {
		v.Set("code_challenge_method", "S256")
		v.Set("code_challenge", challenge)
	}
	if p.ShowDialog {
		v.Set("show_dialog", "true")
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// CodeVerifier returns a random PKCE verifier and its S256 challenge.
// https://datatracker.ietf.org/doc/html/rfc7636#section-4.1
func CodeVerifier() (verifier, challenge string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("could not generate a code verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	return verifier, Challenge(verifier), nil
}

// Challenge returns the S256 code challenge for verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
