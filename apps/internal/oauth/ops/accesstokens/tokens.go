// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package accesstokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/authority"
)

// TokenResponseJSONPayload is the JSON reply of the token endpoint.
type TokenResponseJSONPayload struct {
	authority.OAuthResponseBase

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// TokenResponse is the information that is returned from a token endpoint during a token acquisition flow.
type TokenResponse struct {
	AccessToken string
	// RefreshToken is empty when the server did not rotate it.
	RefreshToken  string
	TokenType     string
	GrantedScopes []string
	ExpiresOn     time.Time
}

// HasAccessToken checks if the TokenResponse has an access token.
func (tr TokenResponse) HasAccessToken() bool {
	return len(tr.AccessToken) > 0
}

// HasRefreshToken checks if the TokenResponse has an refresh token.
func (tr TokenResponse) HasRefreshToken() bool {
	return len(tr.RefreshToken) > 0
}

// NewTokenResponse creates a TokenResponse instance from the response from the token endpoint.
func NewTokenResponse(authParameters authority.AuthParams, payload TokenResponseJSONPayload) (TokenResponse, error) {
	if payload.Error != "" {
		return TokenResponse{}, fmt.Errorf("%s: %s", payload.Error, payload.ErrorDescription)
	}

	if payload.AccessToken == "" {
		// Access token is required in a token response
		return TokenResponse{}, errors.New("response is missing access_token")
	}

	var grantedScopes []string
	if len(payload.Scope) == 0 {
		// Per OAuth spec, if no scopes are returned, the response should be treated as if all scopes were granted
		// Link to spec: https://tools.ietf.org/html/rfc6749#section-3.3
		grantedScopes = authParameters.Scopes
	} else {
		grantedScopes = strings.Fields(payload.Scope)
	}

	return TokenResponse{
		AccessToken:   payload.AccessToken,
		RefreshToken:  payload.RefreshToken,
		TokenType:     payload.TokenType,
		GrantedScopes: grantedScopes,
		ExpiresOn:     time.Now().Add(time.Second * time.Duration(payload.ExpiresIn)),
	}, nil
}
