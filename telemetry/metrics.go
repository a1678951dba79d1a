// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LinksDiscovered     prometheus.Counter
	ScrapesSucceeded    prometheus.Counter
	ScrapesFailed       prometheus.Counter
	ProductsDiscovered  prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
	RescrapeCycles      prometheus.Counter

	// Histograms (seconds)
	ScrapeDuration prometheus.Observer

	// Gauges
	WatcherLive            *prometheus.GaugeVec // 1=live,0=offline per platform
	TrackedCampaignsGauge  prometheus.Gauge
	TrackedProductsGauge   prometheus.Gauge
	SubscribedTargetsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LinksDiscovered = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_links_discovered_total", Help: "Number of unique campaign links discovered in chat"})
		ScrapesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_scrapes_succeeded_total", Help: "Number of campaign page scrapes succeeded"})
		ScrapesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_scrapes_failed_total", Help: "Number of campaign page scrapes failed"})
		ProductsDiscovered = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_products_discovered_total", Help: "Number of new products discovered"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_notifications_sent_total", Help: "Number of per-target notification deliveries succeeded"})
		NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_notifications_failed_total", Help: "Number of per-target notification deliveries failed"})
		RescrapeCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_rescrape_cycles_total", Help: "Number of periodic rescrape passes"})
		ScrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "dropwatch_scrape_duration_seconds", Help: "Campaign page scrape duration seconds", Buckets: prometheus.DefBuckets})
		WatcherLive = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "dropwatch_watcher_live", Help: "Watcher state live=1 offline=0"}, []string{"platform"})
		TrackedCampaignsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "dropwatch_tracked_campaigns", Help: "Campaign pages tracked today"})
		TrackedProductsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "dropwatch_tracked_products", Help: "Products seen today"})
		SubscribedTargetsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "dropwatch_subscribed_targets", Help: "Currently subscribed notification targets"})
	})
}

// IncLinksDiscovered counts one newly discovered campaign link.
func IncLinksDiscovered() {
	if LinksDiscovered != nil {
		LinksDiscovered.Inc()
	}
}

// ObserveScrape records one scrape outcome and its duration.
func ObserveScrape(ok bool, d time.Duration) {
	if ok {
		if ScrapesSucceeded != nil {
			ScrapesSucceeded.Inc()
		}
	} else if ScrapesFailed != nil {
		ScrapesFailed.Inc()
	}
	if ScrapeDuration != nil {
		ScrapeDuration.Observe(d.Seconds())
	}
}

// AddProductsDiscovered counts n newly discovered products.
func AddProductsDiscovered(n int) {
	if ProductsDiscovered != nil && n > 0 {
		ProductsDiscovered.Add(float64(n))
	}
}

// IncNotification records one per-target delivery outcome.
func IncNotification(ok bool) {
	if ok {
		if NotificationsSent != nil {
			NotificationsSent.Inc()
		}
	} else if NotificationsFailed != nil {
		NotificationsFailed.Inc()
	}
}

// IncRescrapeCycle counts one periodic rescrape pass.
func IncRescrapeCycle() {
	if RescrapeCycles != nil {
		RescrapeCycles.Inc()
	}
}

// SetWatcherLive records a platform's live state.
func SetWatcherLive(platform string, live bool) {
	if WatcherLive == nil {
		return
	}
	v := 0.0
	if live {
		v = 1
	}
	WatcherLive.WithLabelValues(platform).Set(v)
}

// SetTrackedCounts records today's campaign page and product counts.
func SetTrackedCounts(campaigns, products int) {
	if TrackedCampaignsGauge != nil {
		TrackedCampaignsGauge.Set(float64(campaigns))
	}
	if TrackedProductsGauge != nil {
		TrackedProductsGauge.Set(float64(products))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
