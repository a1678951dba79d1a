package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/dropwatch/db"
	"github.com/onnwee/dropwatch/monitor"
	"github.com/onnwee/dropwatch/telemetry"
	"github.com/onnwee/dropwatch/twitchapi"
)

type handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only when the database answers a ping.
func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.deps.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	if err := h.deps.DB.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse extends the monitor snapshot with the subscriber count when
// the store is available.
type statusResponse struct {
	monitor.Status
	SubscriberCount *int `json:"subscriber_count,omitempty"`
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := statusResponse{Status: h.deps.Monitor.Status()}
	if h.deps.Subscribers != nil {
		if targets, err := h.deps.Subscribers.ListTargets(r.Context()); err == nil {
			n := len(targets)
			resp.SubscriberCount = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProducts returns the products discovered since the last daily reset.
func (h *handlers) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Monitor.Products())
}

// handleSubscribers serves the notification target list.
// GET lists targets, POST adds one, DELETE removes one.
func (h *handlers) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	if h.deps.Subscribers == nil {
		writeError(w, http.StatusServiceUnavailable, "subscriptions not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		targets, err := h.deps.Subscribers.ListTargets(r.Context())
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Warn("list subscribers", "err", err)
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		if targets == nil {
			targets = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
	case http.MethodPost:
		target, ok := h.decodeTarget(w, r)
		if !ok {
			return
		}
		if err := h.deps.Subscribers.Add(r.Context(), target); err != nil {
			telemetry.LoggerWithCorr(r.Context()).Warn("add subscriber", "err", err)
			writeError(w, http.StatusInternalServerError, "add failed")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"target": target})
	case http.MethodDelete:
		target, ok := h.decodeTarget(w, r)
		if !ok {
			return
		}
		removed, err := h.deps.Subscribers.Remove(r.Context(), target)
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Warn("remove subscriber", "err", err)
			writeError(w, http.StatusInternalServerError, "remove failed")
			return
		}
		if !removed {
			writeError(w, http.StatusNotFound, "unknown target")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"target": target})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// decodeTarget reads {"target": "..."} from the body, falling back to the
// target query parameter.
func (h *handlers) decodeTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Target string `json:"target"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	target := strings.TrimSpace(body.Target)
	if target == "" {
		target = strings.TrimSpace(r.URL.Query().Get("target"))
	}
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing target")
		return "", false
	}
	return target, true
}

// handleVideos adds a YouTube video id to the tracked set by hand, for streams
// the live search does not surface.
func (h *handlers) handleVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		VideoID string `json:"video_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	videoID := strings.TrimSpace(body.VideoID)
	if videoID == "" {
		videoID = strings.TrimSpace(r.URL.Query().Get("video_id"))
	}
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "missing video_id")
		return
	}
	if !h.deps.Monitor.TrackVideo(videoID) {
		writeError(w, http.StatusServiceUnavailable, "youtube not configured")
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("video tracked manually", "video_id", videoID)
	writeJSON(w, http.StatusAccepted, map[string]string{"video_id": videoID})
}

func (h *handlers) twitchAuth() *twitchapi.AuthClient {
	return &twitchapi.AuthClient{
		ClientID:     h.deps.Cfg.TwitchClientID,
		ClientSecret: h.deps.Cfg.TwitchClientSecret,
	}
}

func (h *handlers) handleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	u, err := h.twitchAuth().BuildAuthorizeURL(h.deps.Cfg.TwitchRedirectURI, h.deps.Cfg.TwitchScopes, r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "twitch oauth not configured")
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (h *handlers) handleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}
	res, err := h.twitchAuth().ExchangeAuthCode(r.Context(), code, h.deps.Cfg.TwitchRedirectURI)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("twitch code exchange", "err", err)
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}
	expiry := twitchapi.ComputeExpiry(res.ExpiresIn)
	scope := strings.Join(res.Scope, " ")
	if err := db.UpsertOAuthToken(r.Context(), h.deps.DB, "twitch", res.AccessToken, res.RefreshToken, expiry, scope); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("persist twitch token", "err", err)
		writeError(w, http.StatusInternalServerError, "token persist failed")
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("twitch token stored", "expires_at", expiry)
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "provider": "twitch"})
}

func (h *handlers) handleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.YouTube == nil {
		writeError(w, http.StatusServiceUnavailable, "youtube not configured")
		return
	}
	http.Redirect(w, r, h.deps.YouTube.AuthCodeURL(r.URL.Query().Get("state")), http.StatusFound)
}

func (h *handlers) handleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.YouTube == nil {
		writeError(w, http.StatusServiceUnavailable, "youtube not configured")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}
	if _, err := h.deps.YouTube.Exchange(r.Context(), code); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("youtube code exchange", "err", err)
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "provider": "youtube"})
}
