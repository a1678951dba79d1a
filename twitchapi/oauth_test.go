package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		state       string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read chat:edit",
			state:       "random-state",
			wantParts:   []string{"client_id=test-client-id", "state=random-state", "scope="},
		},
		{
			name:        "empty client ID",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read",
			state:       "state",
			wantErr:     true,
		},
		{
			name:     "empty redirect URI",
			clientID: "client",
			scopes:   "chat:read",
			state:    "state",
			wantErr:  true,
		},
		{
			name:        "comma separated scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read,chat:edit",
			wantParts:   []string{"client_id=client-id", "scope=chat%3Aread+chat%3Aedit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &AuthClient{ClientID: tt.clientID, ClientSecret: "secret"}
			u, err := c.BuildAuthorizeURL(tt.redirectURI, tt.scopes, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildAuthorizeURL: %v", err)
			}
			if !strings.HasPrefix(u, defaultAuthorizeURL+"?") {
				t.Errorf("url = %q, want %s prefix", u, defaultAuthorizeURL)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(u, part) {
					t.Errorf("url %q missing %q", u, part)
				}
			}
		})
	}
}

// tokenServer fakes the identity token endpoint and records the last form.
func tokenServer(t *testing.T, status int, grant TokenGrant) (*httptest.Server, *map[string]string) {
	t.Helper()
	seen := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		for k := range r.PostForm {
			seen[k] = r.PostForm.Get(k)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(grant)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestExchangeAuthCode(t *testing.T) {
	srv, seen := tokenServer(t, http.StatusOK, TokenGrant{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		Scope:        []string{"chat:read"},
		ExpiresIn:    3600,
	})
	c := &AuthClient{ClientID: "cid", ClientSecret: "csecret", TokenURL: srv.URL, HTTPClient: srv.Client()}

	res, err := c.ExchangeAuthCode(context.Background(), "the-code", "http://localhost/callback")
	if err != nil {
		t.Fatalf("ExchangeAuthCode: %v", err)
	}
	if res.AccessToken != "access-1" || res.RefreshToken != "refresh-1" || res.ExpiresIn != 3600 {
		t.Errorf("grant = %+v", res)
	}
	form := *seen
	if form["grant_type"] != "authorization_code" || form["code"] != "the-code" {
		t.Errorf("form = %v", form)
	}
	if form["client_id"] != "cid" || form["client_secret"] != "csecret" {
		t.Errorf("credentials missing from form: %v", form)
	}
	if form["redirect_uri"] != "http://localhost/callback" {
		t.Errorf("redirect_uri = %q", form["redirect_uri"])
	}
}

func TestExchangeAuthCodeMissingParams(t *testing.T) {
	c := &AuthClient{ClientID: "cid", ClientSecret: "csecret"}
	if _, err := c.ExchangeAuthCode(context.Background(), "", "http://localhost/callback"); err == nil {
		t.Error("empty code accepted")
	}
	if _, err := c.ExchangeAuthCode(context.Background(), "code", ""); err == nil {
		t.Error("empty redirect accepted")
	}
	if _, err := (&AuthClient{}).ExchangeAuthCode(context.Background(), "code", "uri"); err == nil {
		t.Error("missing client credentials accepted")
	}
}

func TestRefreshToken(t *testing.T) {
	srv, seen := tokenServer(t, http.StatusOK, TokenGrant{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		Scope:        []string{"chat:read", "chat:edit"},
		ExpiresIn:    14400,
	})
	c := &AuthClient{ClientID: "cid", ClientSecret: "csecret", TokenURL: srv.URL, HTTPClient: srv.Client()}

	res, err := c.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if res.AccessToken != "access-2" || len(res.Scope) != 2 {
		t.Errorf("grant = %+v", res)
	}
	form := *seen
	if form["grant_type"] != "refresh_token" || form["refresh_token"] != "old-refresh" {
		t.Errorf("form = %v", form)
	}
}

func TestRefreshTokenServerError(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusBadRequest, TokenGrant{})
	c := &AuthClient{ClientID: "cid", ClientSecret: "csecret", TokenURL: srv.URL, HTTPClient: srv.Client()}
	if _, err := c.RefreshToken(context.Background(), "bad-refresh"); err == nil {
		t.Fatal("expected error on 400 response")
	}
}

func TestComputeExpiry(t *testing.T) {
	now := time.Now()
	if exp := ComputeExpiry(3600); exp.Sub(now) < 59*time.Minute || exp.Sub(now) > 61*time.Minute {
		t.Errorf("expiry = %v", exp.Sub(now))
	}
	// Unknown lifetime defaults to one hour.
	if exp := ComputeExpiry(0); exp.Sub(now) < 59*time.Minute || exp.Sub(now) > 61*time.Minute {
		t.Errorf("default expiry = %v", exp.Sub(now))
	}
}
