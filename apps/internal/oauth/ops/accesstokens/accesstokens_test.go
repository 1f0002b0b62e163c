// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package accesstokens

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/authority"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/internal/grant"
)

var testAuthorityEndpoints = authority.Endpoints{
	AuthorizationEndpoint: "https://accounts.example.com/authorize",
	TokenEndpoint:         "https://accounts.example.com/api/token",
}

type fakeURLCaller struct {
	err     bool
	payload TokenResponseJSONPayload

	gotEndpoint string
	gotHeaders  http.Header
	gotQV       url.Values
}

func (f *fakeURLCaller) URLFormCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, resp interface{}) error {
	if f.err {
		return errors.New("error")
	}
	f.gotEndpoint = endpoint
	f.gotHeaders = headers
	f.gotQV = qv
	*resp.(*TokenResponseJSONPayload) = f.payload
	return nil
}

func (f *fakeURLCaller) compare(endpoint string, headers http.Header, qv url.Values) error {
	if f.gotEndpoint != endpoint {
		return fmt.Errorf("got endpoint == %s, want endpoint == %s", f.gotEndpoint, endpoint)
	}
	if diff := pretty.Compare(headers, f.gotHeaders); diff != "" {
		return fmt.Errorf("headers -want/+got:\n%s", diff)
	}
	if diff := pretty.Compare(qv, f.gotQV); diff != "" {
		return fmt.Errorf("qv -want/+got:\n%s", diff)
	}
	return nil
}

func basic(id, secret string) http.Header {
	return http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))}}
}

var okPayload = TokenResponseJSONPayload{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", ExpiresIn: 3600}

func TestFromAuthCode(t *testing.T) {
	authParams := authority.NewAuthParams("clientID", testAuthorityEndpoints)
	authParams.Redirecturi = "http://127.0.0.1:8888/callback"

	tests := []struct {
		desc    string
		req     AuthCodeRequest
		commErr bool
		err     bool
		headers http.Header
		qv      url.Values
	}{
		{
			desc:    "Error: comm returns error",
			req:     AuthCodeRequest{AuthParams: authParams, Code: "code", AppType: Confidential, Credential: &Credential{Secret: "secret"}},
			commErr: true,
			err:     true,
		},
		{
			desc: "Error: no code",
			req:  AuthCodeRequest{AuthParams: authParams, AppType: Confidential, Credential: &Credential{Secret: "secret"}},
			err:  true,
		},
		{
			desc: "Error: confidential without a secret",
			req:  AuthCodeRequest{AuthParams: authParams, Code: "code", AppType: Confidential},
			err:  true,
		},
		{
			desc: "Error: public without a verifier",
			req:  AuthCodeRequest{AuthParams: authParams, Code: "code", AppType: Public},
			err:  true,
		},
		{
			desc: "Error: unknown app type",
			req:  AuthCodeRequest{AuthParams: authParams, Code: "code", CodeVerifier: "verifier"},
			err:  true,
		},
		{
			desc:    "Success: confidential",
			req:     AuthCodeRequest{AuthParams: authParams, Code: "code", AppType: Confidential, Credential: &Credential{Secret: "secret"}},
			headers: basic("clientID", "secret"),
			qv: url.Values{
				grantType:   {grant.AuthCode},
				code:        {"code"},
				redirectURI: {authParams.Redirecturi},
			},
		},
		{
			desc: "Success: public with PKCE",
			req:  AuthCodeRequest{AuthParams: authParams, Code: "code", CodeVerifier: "verifier", AppType: Public},
			qv: url.Values{
				grantType:    {grant.AuthCode},
				code:         {"code"},
				redirectURI:  {authParams.Redirecturi},
				codeVerifier: {"verifier"},
				clientID:     {"clientID"},
			},
		},
	}

	for _, test := range tests {
		fake := &fakeURLCaller{err: test.commErr, payload: okPayload}
		client := Client{Comm: fake}

		tr, err := client.FromAuthCode(context.Background(), test.req)
		switch {
		case err == nil && test.err:
			t.Errorf("TestFromAuthCode(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestFromAuthCode(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if err := fake.compare(testAuthorityEndpoints.TokenEndpoint, test.headers, test.qv); err != nil {
			t.Errorf("TestFromAuthCode(%s): %s", test.desc, err)
		}
		if tr.AccessToken != "at" || tr.RefreshToken != "rt" {
			t.Errorf("TestFromAuthCode(%s): got tokens (%q, %q), want (at, rt)", test.desc, tr.AccessToken, tr.RefreshToken)
		}
	}
}

func TestFromRefreshToken(t *testing.T) {
	authParams := authority.NewAuthParams("clientID", testAuthorityEndpoints)

	tests := []struct {
		desc    string
		appType AppType
		cred    *Credential
		rt      string
		commErr bool
		err     bool
		headers http.Header
		qv      url.Values
	}{
		{
			desc:    "Error: comm returns error",
			appType: Confidential,
			cred:    &Credential{Secret: "secret"},
			rt:      "rt",
			commErr: true,
			err:     true,
		},
		{
			desc:    "Error: no refresh token",
			appType: Confidential,
			cred:    &Credential{Secret: "secret"},
			err:     true,
		},
		{
			desc:    "Success: confidential",
			appType: Confidential,
			cred:    &Credential{Secret: "secret"},
			rt:      "rt",
			headers: basic("clientID", "secret"),
			qv: url.Values{
				grantType:    {grant.RefreshToken},
				refreshToken: {"rt"},
			},
		},
		{
			desc:    "Success: public",
			appType: Public,
			rt:      "rt",
			qv: url.Values{
				grantType:    {grant.RefreshToken},
				refreshToken: {"rt"},
				clientID:     {"clientID"},
			},
		},
	}

	for _, test := range tests {
		fake := &fakeURLCaller{err: test.commErr, payload: okPayload}
		client := Client{Comm: fake}

		_, err := client.FromRefreshToken(context.Background(), test.appType, authParams, test.cred, test.rt)
		switch {
		case err == nil && test.err:
			t.Errorf("TestFromRefreshToken(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestFromRefreshToken(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if err := fake.compare(testAuthorityEndpoints.TokenEndpoint, test.headers, test.qv); err != nil {
			t.Errorf("TestFromRefreshToken(%s): %s", test.desc, err)
		}
	}
}

func TestNewTokenResponse(t *testing.T) {
	authParams := authority.AuthParams{Scopes: []string{"user-top-read", "user-read-email"}}

	tests := []struct {
		desc    string
		payload TokenResponseJSONPayload
		want    TokenResponse
		err     bool
	}{
		{
			desc: "Error: error in payload",
			payload: TokenResponseJSONPayload{
				OAuthResponseBase: authority.OAuthResponseBase{Error: "invalid_grant", ErrorDescription: "Refresh token revoked"},
			},
			err: true,
		},
		{
			desc:    "Error: no access token",
			payload: TokenResponseJSONPayload{RefreshToken: "rt", ExpiresIn: 3600},
			err:     true,
		},
		{
			desc:    "Success: scopes granted",
			payload: TokenResponseJSONPayload{AccessToken: "at", TokenType: "Bearer", ExpiresIn: 3600, Scope: "user-top-read"},
			want:    TokenResponse{AccessToken: "at", TokenType: "Bearer", GrantedScopes: []string{"user-top-read"}},
		},
		{
			desc:    "Success: no scope means everything requested",
			payload: TokenResponseJSONPayload{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600},
			want:    TokenResponse{AccessToken: "at", RefreshToken: "rt", GrantedScopes: authParams.Scopes},
		},
	}

	for _, test := range tests {
		before := time.Now()
		got, err := NewTokenResponse(authParams, test.payload)
		switch {
		case err == nil && test.err:
			t.Errorf("TestNewTokenResponse(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestNewTokenResponse(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		wantExpiry := before.Add(time.Duration(test.payload.ExpiresIn) * time.Second)
		if got.ExpiresOn.Before(wantExpiry) || got.ExpiresOn.After(wantExpiry.Add(time.Minute)) {
			t.Errorf("TestNewTokenResponse(%s): ExpiresOn == %v, want about %v", test.desc, got.ExpiresOn, wantExpiry)
		}
		got.ExpiresOn = time.Time{}
		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Errorf("TestNewTokenResponse(%s): -want/+got:\n%s", test.desc, diff)
		}
		if !got.HasAccessToken() {
			t.Errorf("TestNewTokenResponse(%s): HasAccessToken() == false", test.desc)
		}
	}
}
