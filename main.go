// Command dropwatch watches live-stream chats for retailer campaign links,
// scrapes the campaign pages for products, and announces new products to
// subscribed webhook targets. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts a watcher per configured platform (Twitch chat over IRC, YouTube
//     live chat over the Data API) plus the OAuth token refreshers.
//   - Exposes an HTTP server with health, status, subscription, and OAuth
//     endpoints and Prometheus metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/dropwatch/config"
	"github.com/onnwee/dropwatch/db"
	"github.com/onnwee/dropwatch/links"
	"github.com/onnwee/dropwatch/monitor"
	"github.com/onnwee/dropwatch/notify"
	"github.com/onnwee/dropwatch/oauth"
	"github.com/onnwee/dropwatch/scrape"
	"github.com/onnwee/dropwatch/server"
	"github.com/onnwee/dropwatch/telemetry"
	"github.com/onnwee/dropwatch/twitchapi"
	"github.com/onnwee/dropwatch/watch"
	"github.com/onnwee/dropwatch/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("dropwatch", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	slog.Info("telemetry ready", slog.Bool("tracing", telemetry.IsTracingEnabled()))

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Campaign tracking core: matcher, daily ledger, scraper, fanout.
	matcher, err := links.NewMatcher(cfg.LinkPattern)
	if err != nil {
		slog.Error("invalid LINK_PATTERN", slog.Any("err", err))
		os.Exit(1)
	}
	ledger := links.NewLedger(cfg.ResetLocation, time.Now())
	subscribers := &db.SubscriberStore{DB: database}
	fanout := notify.NewFanout(&notify.WebhookSink{}, subscribers)
	coordinator := scrape.NewCoordinator(
		&scrape.SiteScraper{},
		fanout,
		ledger,
		&db.ProductStoreAdapter{DB: database},
	)

	// Chat sinks are installed before the monitor exists; they only fire once
	// the watchers run.
	var mon *monitor.Monitor
	sink := func(texts []string) { mon.ChatSink(texts) }

	var watchers []*watch.Watcher

	// Twitch watcher: Helix liveness probe plus IRC chat with the stored bot
	// user token.
	if err := cfg.ValidateTwitchReady(); err == nil {
		appToken := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		helix := &twitchapi.HelixClient{AppTokenSource: appToken, ClientID: cfg.TwitchClientID}
		tokenFn := func(tctx context.Context) (string, error) {
			access, _, _, _, err := db.GetOAuthToken(tctx, database, "twitch")
			if err != nil {
				return "", err
			}
			if access == "" {
				return "", fmt.Errorf("no twitch bot token stored; authorize via /auth/twitch/start")
			}
			return access, nil
		}
		twitchChat := watch.NewTwitchChat(cfg.TwitchBotUsername, cfg.TwitchChannel, tokenFn, sink)
		prober := &watch.TwitchProber{Helix: helix, Channel: cfg.TwitchChannel}
		watchers = append(watchers, watch.NewWatcher("twitch", prober, twitchChat, cfg.TwitchLiveInterval))

		oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute,
			oauth.TwitchRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret))
	} else {
		slog.Info("twitch watcher disabled", slog.Any("reason", err))
	}

	// YouTube watcher: live search probe feeding the adaptive chat poller.
	var ytService *youtubeapi.Service
	var ytChat *watch.YouTubeChat
	if err := cfg.ValidateYouTubeReady(); err == nil {
		ytService = youtubeapi.New(cfg, &db.TokenStoreAdapter{DB: database})
		ytChat = watch.NewYouTubeChat(ytService, watch.ScheduleConfig{
			ActiveInterval: cfg.YTChatActive,
			IdleInterval:   cfg.YTChatIdle,
			IdleAfter:      cfg.YTChatIdleAfter,
		}, sink)
		prober := &watch.YouTubeProber{API: ytService, OnLive: ytChat.TrackMany}
		watchers = append(watchers, watch.NewWatcher("youtube", prober, ytChat, cfg.YTLiveInterval))

		oauth.StartRefresher(ctx, database, "youtube", 10*time.Minute, 20*time.Minute,
			oauth.YouTubeRefreshFunc(cfg.YTClientID, cfg.YTClientSecret, cfg.YTRedirectURI))
	} else {
		slog.Info("youtube watcher disabled", slog.Any("reason", err))
	}

	if len(watchers) == 0 {
		slog.Warn("no platform watchers configured; only the HTTP API will run")
	}

	mon = monitor.New(monitor.Config{
		Matcher:          matcher,
		Ledger:           ledger,
		Coordinator:      coordinator,
		Watchers:         watchers,
		YouTubeChat:      ytChat,
		RescrapeInterval: cfg.RescrapeInterval,
		DB:               database,
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/subscriptions/oauth)
	go func() {
		deps := server.Deps{
			DB:          database,
			Cfg:         cfg,
			Monitor:     mon,
			Subscribers: subscribers,
			YouTube:     ytService,
		}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Blocks until shutdown signal.
	mon.Run(ctx)
	slog.Info("shutting down")
}
