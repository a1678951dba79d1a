// Package server exposes the HTTP API: health, status, metrics, subscription
// management, manual video tracking, and the OAuth flows for the chat
// credentials. It injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/dropwatch/config"
	"github.com/onnwee/dropwatch/db"
	"github.com/onnwee/dropwatch/monitor"
	"github.com/onnwee/dropwatch/telemetry"
	"github.com/onnwee/dropwatch/youtubeapi"
)

// Deps carries everything the handlers need. YouTube is optional; when nil the
// YouTube OAuth endpoints report that the platform is not configured.
type Deps struct {
	DB          *sql.DB
	Cfg         *config.Config
	Monitor     *monitor.Monitor
	Subscribers *db.SubscriberStore
	YouTube     *youtubeapi.Service
}

// NewMux returns the HTTP handler with all routes.
func NewMux(deps Deps) http.Handler {
	h := &handlers{deps: deps}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/products", h.handleProducts)

	mux.HandleFunc("/subscribers", h.handleSubscribers)
	mux.HandleFunc("/videos", h.handleVideos)

	mux.HandleFunc("/auth/twitch/start", h.handleTwitchOAuthStart)
	mux.HandleFunc("/auth/twitch/callback", h.handleTwitchOAuthCallback)
	mux.HandleFunc("/auth/youtube/start", h.handleYouTubeOAuthStart)
	mux.HandleFunc("/auth/youtube/callback", h.handleYouTubeOAuthCallback)

	// Wrap with correlation ID injector and tracing middleware.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		} else {
			telemetry.SetSpanSuccess(span)
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
