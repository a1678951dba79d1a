// Package monitor is the orchestration core: it runs the platform watchers,
// owns the daily ledger and the scrape coordinator, and services link
// submissions, the daily reset, and the periodic rescrape from a single tick
// loop.
package monitor

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/dropwatch/db"
	"github.com/onnwee/dropwatch/links"
	"github.com/onnwee/dropwatch/scrape"
	"github.com/onnwee/dropwatch/telemetry"
	"github.com/onnwee/dropwatch/watch"
)

// How often the tick loop checks for a crossed midnight boundary.
const resetCheckInterval = time.Minute

const linkQueueSize = 64

// Config wires the monitor's collaborators.
type Config struct {
	Matcher     *links.Matcher
	Ledger      *links.Ledger
	Coordinator *scrape.Coordinator
	Watchers    []*watch.Watcher
	// YouTubeChat, when present, serves manual video tracking and the
	// status surface.
	YouTubeChat      *watch.YouTubeChat
	RescrapeInterval time.Duration
	// DB, when present, records a rescrape heartbeat in the kv table.
	DB *sql.DB
}

// Monitor runs everything. Watchers push chat text through ChatSink; the
// extracted links cross into the tick loop over a buffered channel, so the
// shared ledger and coordinator are driven from one place.
type Monitor struct {
	cfg    Config
	linkCh chan string
}

func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg, linkCh: make(chan string, linkQueueSize)}
}

// ChatSink is the callback installed on every chat reader. It extracts
// campaign links from a batch of raw chat texts and queues them for the tick
// loop. Safe to call from any goroutine.
func (m *Monitor) ChatSink(texts []string) {
	for _, link := range m.cfg.Matcher.Extract(texts) {
		m.Submit(link)
	}
}

// Submit queues one campaign link without blocking the caller. A full queue
// drops the link; chat will almost certainly repeat it.
func (m *Monitor) Submit(link string) {
	select {
	case m.linkCh <- link:
	default:
		slog.Warn("monitor: link queue full; dropping", slog.String("link", link))
	}
}

// TrackVideo adds a YouTube video id to the chat poller's tracked set.
// Returns false when no YouTube watcher is configured.
func (m *Monitor) TrackVideo(videoID string) bool {
	if m.cfg.YouTubeChat == nil {
		return false
	}
	m.cfg.YouTubeChat.Track(videoID)
	return true
}

// Run starts the watchers and drives the tick loop until ctx is cancelled.
// Shutdown waits for the watchers, which disconnect their chat sessions on
// the way out.
func (m *Monitor) Run(ctx context.Context) {
	done := make(chan struct{}, len(m.cfg.Watchers))
	for _, w := range m.cfg.Watchers {
		go func(w *watch.Watcher) {
			w.Run(ctx)
			done <- struct{}{}
		}(w)
	}

	resetTicker := time.NewTicker(resetCheckInterval)
	defer resetTicker.Stop()
	rescrapeTicker := time.NewTicker(m.cfg.RescrapeInterval)
	defer rescrapeTicker.Stop()
	slog.Info("monitor: started",
		slog.Int("watchers", len(m.cfg.Watchers)),
		slog.Duration("rescrape_interval", m.cfg.RescrapeInterval),
		slog.Time("ledger_reset_at", m.cfg.Ledger.Boundary()))

	for {
		select {
		case <-ctx.Done():
			for range m.cfg.Watchers {
				<-done
			}
			slog.Info("monitor: stopped")
			return

		case link := <-m.linkCh:
			cctx := telemetry.WithCorrelation(ctx, uuid.NewString())
			if err := m.cfg.Coordinator.SubmitLink(cctx, link); err != nil {
				telemetry.LoggerWithCorr(cctx).Warn("monitor: link submission failed",
					"link", link, "err", err)
			}

		case now := <-resetTicker.C:
			if m.cfg.Ledger.ResetIfNewDay(now) {
				m.cfg.Coordinator.ResetDay()
				slog.Info("monitor: daily reset",
					slog.Time("next_reset", m.cfg.Ledger.Boundary()))
			}
			m.publishWatcherState()

		case <-rescrapeTicker.C:
			cctx := telemetry.WithCorrelation(ctx, uuid.NewString())
			m.cfg.Coordinator.RescrapeAll(cctx)
			m.heartbeat(ctx)
		}
	}
}

func (m *Monitor) publishWatcherState() {
	for _, w := range m.cfg.Watchers {
		telemetry.SetWatcherLive(w.Platform(), w.Status() == watch.StatusLive)
	}
}

func (m *Monitor) heartbeat(ctx context.Context) {
	if m.cfg.DB == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.SetKV(hctx, m.cfg.DB, "last_rescrape_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("monitor: heartbeat", slog.Any("err", err))
	}
}

// Status is a point-in-time snapshot for the HTTP status surface.
type Status struct {
	Platforms     map[string]string    `json:"platforms"`
	TrackedVideos []string             `json:"tracked_videos,omitempty"`
	Campaigns     []scrape.PageStatus  `json:"campaigns"`
	ProductCount  int                  `json:"product_count"`
	LedgerResetAt time.Time            `json:"ledger_reset_at"`
	LinkPattern   string               `json:"link_pattern"`
}

func (m *Monitor) Status() Status {
	s := Status{
		Platforms:     make(map[string]string, len(m.cfg.Watchers)),
		Campaigns:     m.cfg.Coordinator.Pages(),
		ProductCount:  m.cfg.Coordinator.ProductCount(),
		LedgerResetAt: m.cfg.Ledger.Boundary(),
		LinkPattern:   m.cfg.Matcher.Template(),
	}
	for _, w := range m.cfg.Watchers {
		s.Platforms[w.Platform()] = w.Status().String()
	}
	if m.cfg.YouTubeChat != nil {
		s.TrackedVideos = m.cfg.YouTubeChat.Tracked()
	}
	return s
}

// Products exposes today's seen products for the HTTP surface.
func (m *Monitor) Products() []scrape.Product {
	return m.cfg.Coordinator.Products()
}
