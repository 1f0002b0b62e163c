// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package fake provides fakes for all the OAuth clients used in testing.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/accesstokens"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/authority"
)

// AccessTokens is a fake implementation of the token grants. It is safe for concurrent use.
type AccessTokens struct {
	// Err set to true makes every call fail.
	Err bool
	// AccessToken is the token handed out. The refresh token is "rt" unless NoRefreshToken.
	AccessToken    string
	NoRefreshToken bool

	mu           sync.Mutex
	authCodes    int
	refreshes    int
	refreshToken string
}

func (f *AccessTokens) FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCodes++
	return f.resp()
}

func (f *AccessTokens) FromRefreshToken(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.refreshToken = refreshToken
	return f.resp()
}

func (f *AccessTokens) resp() (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, errors.New("error")
	}
	tr := accesstokens.TokenResponse{AccessToken: f.AccessToken, RefreshToken: "rt"}
	if tr.AccessToken == "" {
		tr.AccessToken = "at"
	}
	if f.NoRefreshToken {
		tr.RefreshToken = ""
	}
	return tr, nil
}

// Calls returns how many auth code and refresh token grants were made.
func (f *AccessTokens) Calls() (authCodes, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCodes, f.refreshes
}

// LastRefreshToken is the refresh token of the most recent refresh grant.
func (f *AccessTokens) LastRefreshToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshToken
}
