package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/dropwatch/config"
	"github.com/onnwee/dropwatch/links"
	"github.com/onnwee/dropwatch/monitor"
	"github.com/onnwee/dropwatch/scrape"
)

type fakeScraper struct{ products []scrape.Product }

func (f *fakeScraper) Scrape(ctx context.Context, link string) ([]scrape.Product, error) {
	return f.products, nil
}

type nopAnnouncer struct{}

func (nopAnnouncer) Announce(ctx context.Context, products []scrape.Product) error { return nil }

func testDeps(t *testing.T) Deps {
	t.Helper()
	matcher, err := links.NewMatcher("https://www.example.se/kampanj/*")
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	ledger := links.NewLedger(time.UTC, time.Now())
	coord := scrape.NewCoordinator(
		&fakeScraper{products: []scrape.Product{{ID: "p1", Name: "Widget", NewPrice: 99}}},
		nopAnnouncer{}, ledger, nil)
	mon := monitor.New(monitor.Config{
		Matcher:          matcher,
		Ledger:           ledger,
		Coordinator:      coord,
		RescrapeInterval: time.Hour,
	})
	return Deps{
		Cfg: &config.Config{
			TwitchClientID:     "cid",
			TwitchClientSecret: "csecret",
			TwitchRedirectURI:  "http://localhost:8080/auth/twitch/callback",
			TwitchScopes:       "chat:read chat:edit",
		},
		Monitor: mon,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if corr := rec.Header().Get("X-Correlation-ID"); corr == "" {
		t.Error("missing X-Correlation-ID header")
	}
}

func TestCorrelationHeaderReused(t *testing.T) {
	h := NewMux(testDeps(t))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("correlation id = %q, want abc-123", got)
	}
}

func TestReadyzWithoutDatabase(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var s monitor.Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.LinkPattern != "https://www.example.se/kampanj/*" {
		t.Errorf("link pattern = %q", s.LinkPattern)
	}
	if rec2 := doRequest(t, h, http.MethodPost, "/status", ""); rec2.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", rec2.Code)
	}
}

func TestProductsEndpoint(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/products", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var products []scrape.Product
	if err := json.NewDecoder(rec.Body).Decode(&products); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("products = %+v, want none before any scrape", products)
	}
}

func TestSubscribersUnconfigured(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/subscribers", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestVideosEndpoint(t *testing.T) {
	h := NewMux(testDeps(t))

	rec := doRequest(t, h, http.MethodPost, "/videos", `{"video_id":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty video_id = %d, want 400", rec.Code)
	}

	// No YouTube chat configured in the test monitor.
	rec = doRequest(t, h, http.MethodPost, "/videos", `{"video_id":"abc123"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("video_id without youtube = %d, want 503", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/videos", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /videos = %d, want 405", rec.Code)
	}
}

func TestTwitchOAuthStartRedirects(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/auth/twitch/start?state=xyz", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if loc.Host != "id.twitch.tv" {
		t.Errorf("redirect host = %q", loc.Host)
	}
	q := loc.Query()
	if q.Get("client_id") != "cid" || q.Get("state") != "xyz" {
		t.Errorf("redirect query = %v", q)
	}
}

func TestTwitchOAuthCallbackMissingCode(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/auth/twitch/callback", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestYouTubeOAuthUnconfigured(t *testing.T) {
	h := NewMux(testDeps(t))
	if rec := doRequest(t, h, http.MethodGet, "/auth/youtube/start", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("start = %d, want 503", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/auth/youtube/callback?code=x", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("callback = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(testDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
