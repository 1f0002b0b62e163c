// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package oauth signs users in with the authorization code flow and keeps their tokens
// fresh with the refresh token grant.
package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/accesstokens"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/authority"
)

// accessTokens contains the methods for fetching tokens from the token endpoint.
type accessTokens interface {
	FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error)
	FromRefreshToken(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error)
}

// Client provides tokens for a single application.
type Client struct {
	authParams   authority.AuthParams
	appType      accesstokens.AppType
	cred         *accesstokens.Credential
	accessTokens accessTokens
}

// New is the constructor for Client. A non-empty secret makes the Client confidential,
// otherwise it is a public client that proves its codes with PKCE.
func New(authParams authority.AuthParams, secret string, rest *ops.REST) *Client {
	c := &Client{
		authParams:   authParams,
		appType:      accesstokens.Public,
		accessTokens: rest.AccessTokens(),
	}
	if secret != "" {
		c.appType = accesstokens.Confidential
		c.cred = &accesstokens.Credential{Secret: secret}
	}
	return c
}

// AuthParams returns the parameters requests are made with.
func (c *Client) AuthParams() authority.AuthParams {
	return c.authParams
}

// WithRedirectURI returns a copy of c that sends uri as the redirect of its requests.
func (c *Client) WithRedirectURI(uri string) *Client {
	cp := *c
	cp.authParams.Redirecturi = uri
	return &cp
}

// WithShowDialog returns a copy of c whose sign in URLs force the consent page.
func (c *Client) WithShowDialog() *Client {
	cp := *c
	cp.authParams.ShowDialog = true
	return &cp
}

// AuthCodeURL returns the URL to send the user to. scopes replace the Client's scopes when set.
func (c *Client) AuthCodeURL(state, challenge string, scopes []string) (string, error) {
	p := c.authParams
	if len(scopes) > 0 {
		p.Scopes = scopes
	}
	if c.appType == accesstokens.Public && challenge == "" {
		return "", errors.New("public clients must send a PKCE code challenge")
	}
	return p.AuthCodeURL(state, challenge)
}

// AuthCode returns a token based on an authorization code.
func (c *Client) AuthCode(ctx context.Context, code, verifier string) (accesstokens.TokenResponse, error) {
	req, err := accesstokens.NewCodeChallengeRequest(c.authParams, c.appType, c.cred, code, verifier)
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}
	tr, err := c.accessTokens.FromAuthCode(ctx, req)
	if err != nil {
		return accesstokens.TokenResponse{}, fmt.Errorf("could not retrieve token from auth code: %w", err)
	}
	if !tr.HasRefreshToken() {
		return accesstokens.TokenResponse{}, errors.New("token response for the auth code has no refresh token")
	}
	return tr, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token in the
// response is empty unless the server rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (accesstokens.TokenResponse, error) {
	tr, err := c.accessTokens.FromRefreshToken(ctx, c.appType, c.authParams, c.cred, refreshToken)
	if err != nil {
		return accesstokens.TokenResponse{}, fmt.Errorf("could not refresh the access token: %w", err)
	}
	return tr, nil
}
