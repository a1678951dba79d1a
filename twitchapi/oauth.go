package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthorizeURL = "https://id.twitch.tv/oauth2/authorize"
	defaultTokenURL     = "https://id.twitch.tv/oauth2/token"
)

// AuthClient drives the user-token OAuth flows (authorization code grant and
// refresh) against the Twitch identity service. Zero endpoints and HTTPClient
// use the production defaults; tests point them at a fake server.
type AuthClient struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	AuthorizeURL string
	TokenURL     string
}

func (c *AuthClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *AuthClient) authorizeURL() string {
	if c.AuthorizeURL != "" {
		return c.AuthorizeURL
	}
	return defaultAuthorizeURL
}

func (c *AuthClient) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return defaultTokenURL
}

// TokenGrant is the identity service's response to a token request, shared by
// the code-exchange and refresh grants.
type TokenGrant struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth code grant.
func (c *AuthClient) BuildAuthorizeURL(redirectURI, scopes, state string) (string, error) {
	if c.ClientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", c.ClientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return c.authorizeURL() + "?" + v.Encode(), nil
}

// ExchangeAuthCode exchanges an authorization code for access and refresh tokens.
func (c *AuthClient) ExchangeAuthCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return c.postToken(ctx, "auth code exchange", form)
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *AuthClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.postToken(ctx, "refresh", form)
}

func (c *AuthClient) postToken(ctx context.Context, grant string, form url.Values) (*TokenGrant, error) {
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch %s failed: %s: %s", grant, resp.Status, string(b))
	}
	var res TokenGrant
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
