// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

/*
Package accesstokens exposes a REST client for querying the token endpoint of the
authorization server.

These calls are of type "application/x-www-form-urlencoded".  This means we use url.Values to
represent arguments and then encode them into the POST body message.  We receive JSON in
return for the requests.  The request definition is defined in https://tools.ietf.org/html/rfc6749#section-4.1.3 .
*/
package accesstokens

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/authority"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/internal/grant"
)

const (
	grantType    = "grant_type"
	clientID     = "client_id"
	code         = "code"
	codeVerifier = "code_verifier"
	redirectURI  = "redirect_uri"
	refreshToken = "refresh_token"
)

// AppType is whether token requests are made by a public or a confidential client.
type AppType int

const (
	UnknownApp AppType = iota
	// Public clients send their client id in the body and prove the auth code with PKCE.
	Public
	// Confidential clients authenticate with HTTP Basic auth using their secret.
	Confidential
)

func (a AppType) String() string {
	switch a {
	case Public:
		return "Public"
	case Confidential:
		return "Confidential"
	}
	return fmt.Sprintf("AppType(%d)", int(a))
}

type urlFormCaller interface {
	URLFormCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, resp interface{}) error
}

// Credential is the secret of a confidential client.
type Credential struct {
	Secret string
}

// header returns the Basic auth header for clientID.
// https://datatracker.ietf.org/doc/html/rfc6749#section-2.3.1
func (c *Credential) header(clientID string) (http.Header, error) {
	if c == nil || c.Secret == "" {
		return nil, errors.New("confidential token request without a client secret")
	}
	raw := url.QueryEscape(clientID) + ":" + url.QueryEscape(c.Secret)
	return http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(raw))}}, nil
}

// Client represents the REST calls to get tokens from token generator backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm urlFormCaller
}

// AuthCodeRequest stores the values required to request a token from the authority using an authorization code
type AuthCodeRequest struct {
	AuthParams authority.AuthParams
	Code       string
	// CodeVerifier is the PKCE verifier whose challenge was sent with the authorization request.
	CodeVerifier string
	Credential   *Credential
	AppType      AppType
}

// NewCodeChallengeRequest returns a request
func NewCodeChallengeRequest(params authority.AuthParams, appType AppType, cc *Credential, code, verifier string) (AuthCodeRequest, error) {
	if appType == UnknownApp {
		return AuthCodeRequest{}, fmt.Errorf("bug: NewCodeChallengeRequest() called with AppType == UnknownApp")
	}
	return AuthCodeRequest{
		AuthParams:   params,
		AppType:      appType,
		Code:         code,
		CodeVerifier: verifier,
		Credential:   cc,
	}, nil
}

// FromAuthCode uses an authorization code to retrieve an access token.
func (c Client) FromAuthCode(ctx context.Context, req AuthCodeRequest) (TokenResponse, error) {
	if req.Code == "" {
		return TokenResponse{}, errors.New("authorization code is required")
	}
	qv := url.Values{}
	qv.Set(grantType, grant.AuthCode)
	qv.Set(code, req.Code)
	qv.Set(redirectURI, req.AuthParams.Redirecturi)
	if req.CodeVerifier != "" {
		qv.Set(codeVerifier, req.CodeVerifier)
	}

	headers, err := prepAuth(qv, req.AppType, req.AuthParams, req.Credential)
	if err != nil {
		return TokenResponse{}, err
	}
	if req.AppType == Public && req.CodeVerifier == "" {
		return TokenResponse{}, errors.New("public clients must send a PKCE code verifier")
	}
	return c.doTokenResp(ctx, req.AuthParams, headers, qv)
}

// FromRefreshToken uses a refresh token (for refreshing credentials) to get a new access token.
func (c Client) FromRefreshToken(ctx context.Context, appType AppType, authParams authority.AuthParams, cc *Credential, rt string) (TokenResponse, error) {
	if rt == "" {
		return TokenResponse{}, errors.New("refresh token is required")
	}
	qv := url.Values{}
	qv.Set(grantType, grant.RefreshToken)
	qv.Set(refreshToken, rt)

	headers, err := prepAuth(qv, appType, authParams, cc)
	if err != nil {
		return TokenResponse{}, err
	}
	return c.doTokenResp(ctx, authParams, headers, qv)
}

func (c Client) doTokenResp(ctx context.Context, authParams authority.AuthParams, headers http.Header, qv url.Values) (TokenResponse, error) {
	resp := TokenResponseJSONPayload{}
	err := c.Comm.URLFormCall(ctx, authParams.Endpoints.TokenEndpoint, headers, qv, &resp)
	if err != nil {
		return TokenResponse{}, err
	}
	return NewTokenResponse(authParams, resp)
}

// prepAuth adds client authentication to a token request. Confidential clients get a Basic
// auth header, public clients put their id in the body.
func prepAuth(qv url.Values, appType AppType, authParams authority.AuthParams, cc *Credential) (http.Header, error) {
	if authParams.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	switch appType {
	case Confidential:
		return cc.header(authParams.ClientID)
	case Public:
		qv.Set(clientID, authParams.ClientID)
		return nil, nil
	}
	return nil, fmt.Errorf("bug: token request received AppType == %v, which we do not recognize", appType)
}
