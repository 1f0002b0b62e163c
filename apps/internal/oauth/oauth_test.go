// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

package oauth

// NOTE: These tests cover that we handle errors from other lower level modules.
// The token grants themselves are tested in accesstokens.

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/tunelens/tunelens-go/apps/internal/oauth/fake"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/accesstokens"
	"github.com/tunelens/tunelens-go/apps/internal/oauth/ops/authority"
)

var testParams = authority.AuthParams{
	ClientID:    "clientID",
	Redirecturi: "http://127.0.0.1:8888/callback",
	Scopes:      []string{"user-top-read"},
	Endpoints: authority.Endpoints{
		AuthorizationEndpoint: "https://accounts.example.com/authorize",
		TokenEndpoint:         "https://accounts.example.com/api/token",
	},
}

func TestAuthCode(t *testing.T) {
	tests := []struct {
		desc    string
		appType accesstokens.AppType
		at      *fake.AccessTokens
		err     bool
	}{
		{
			desc:    "Error: unknown app type",
			appType: accesstokens.UnknownApp,
			at:      &fake.AccessTokens{},
			err:     true,
		},
		{
			desc:    "Error: REST access token error",
			appType: accesstokens.Confidential,
			at:      &fake.AccessTokens{Err: true},
			err:     true,
		},
		{
			desc:    "Error: no refresh token",
			appType: accesstokens.Confidential,
			at:      &fake.AccessTokens{NoRefreshToken: true},
			err:     true,
		},
		{
			desc:    "Success",
			appType: accesstokens.Confidential,
			at:      &fake.AccessTokens{},
		},
	}

	for _, test := range tests {
		token := &Client{authParams: testParams, appType: test.appType, accessTokens: test.at}

		_, err := token.AuthCode(context.Background(), "code", "verifier")
		switch {
		case err == nil && test.err:
			t.Errorf("TestAuthCode(%s): got err == nil, want err != nil", test.desc)
		case err != nil && !test.err:
			t.Errorf("TestAuthCode(%s): got err == %s, want err == nil", test.desc, err)
		}
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		desc string
		at   *fake.AccessTokens
		err  bool
	}{
		{
			desc: "Error: REST access token error",
			at:   &fake.AccessTokens{Err: true},
			err:  true,
		},
		{
			desc: "Success",
			at:   &fake.AccessTokens{AccessToken: "fresh"},
		},
	}

	for _, test := range tests {
		token := &Client{authParams: testParams, appType: accesstokens.Public, accessTokens: test.at}

		tr, err := token.Refresh(context.Background(), "old")
		switch {
		case err == nil && test.err:
			t.Errorf("TestRefresh(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestRefresh(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}
		if tr.AccessToken != "fresh" {
			t.Errorf("TestRefresh(%s): got access token %q, want %q", test.desc, tr.AccessToken, "fresh")
		}
		if got := test.at.LastRefreshToken(); got != "old" {
			t.Errorf("TestRefresh(%s): refresh grant used %q, want %q", test.desc, got, "old")
		}
	}
}

func TestAuthCodeURL(t *testing.T) {
	rest := ops.New(http.DefaultClient)

	public := New(testParams, "", rest)
	if _, err := public.AuthCodeURL("state", "", nil); err == nil {
		t.Errorf("TestAuthCodeURL(public without challenge): got err == nil, want err != nil")
	}

	confidential := New(testParams, "secret", rest)
	got, err := confidential.AuthCodeURL("state", "", []string{"user-read-email", "user-top-read"})
	if err != nil {
		t.Fatalf("TestAuthCodeURL(confidential): got err == %s, want err == nil", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if s := u.Query().Get("scope"); s != "user-read-email user-top-read" {
		t.Errorf("TestAuthCodeURL(confidential): got scope %q, want %q", s, "user-read-email user-top-read")
	}
	if u.Query().Has("code_challenge") {
		t.Errorf("TestAuthCodeURL(confidential): sent a code challenge that was not asked for")
	}
}

func TestWithRedirectURI(t *testing.T) {
	c := New(testParams, "secret", ops.New(http.DefaultClient))
	other := c.WithRedirectURI("http://127.0.0.1:5555/cb")

	if got := other.AuthParams().Redirecturi; got != "http://127.0.0.1:5555/cb" {
		t.Errorf("TestWithRedirectURI: got %q, want %q", got, "http://127.0.0.1:5555/cb")
	}
	if got := c.AuthParams().Redirecturi; got != testParams.Redirecturi {
		t.Errorf("TestWithRedirectURI: the original client changed to %q", got)
	}
}
