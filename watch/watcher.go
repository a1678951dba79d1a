// Package watch runs the per-platform live/offline state machines. A Watcher
// owns one platform: it polls liveness on a fixed interval, connects a chat
// reader when the channel goes live, and tears the session down when the
// channel goes offline or the session dies. Chat text itself flows through
// sinks installed on the platform chat readers, not through the Watcher.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the watcher's view of the channel.
type Status int

const (
	StatusOffline Status = iota
	StatusConnecting
	StatusLive
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	default:
		return "unknown"
	}
}

// Prober answers whether the channel is currently broadcasting.
type Prober interface {
	IsLive(ctx context.Context) (bool, error)
}

// ChatReader is one chat session. Connect establishes the session (applying
// its own handshake timeout), Disconnect tears it down, and Done is closed
// when the session ends on its own.
type ChatReader interface {
	Connect(ctx context.Context) error
	Disconnect()
	Done() <-chan struct{}
}

// Liveness probe failures tolerated before forcing Offline. Transient API
// errors keep the previous state; only a sustained outage tears the session
// down so the watcher never polls a dead session indefinitely.
const maxProbeFailures = 3

const probeTimeout = 15 * time.Second

type Watcher struct {
	platform string
	prober   Prober
	chat     ChatReader
	interval time.Duration

	mu       sync.Mutex
	status   Status
	failures int
}

func NewWatcher(platform string, prober Prober, chat ChatReader, interval time.Duration) *Watcher {
	return &Watcher{
		platform: platform,
		prober:   prober,
		chat:     chat,
		interval: interval,
	}
}

// Platform returns the platform name this watcher was built for.
func (w *Watcher) Platform() string { return w.platform }

// Status returns the current state. Safe for concurrent use.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Run drives the state machine until ctx is cancelled. It probes immediately
// on start and then on every interval tick.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("watcher: started", slog.String("platform", w.platform), slog.Duration("interval", w.interval))

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			if w.Status() != StatusOffline {
				w.chat.Disconnect()
				w.setStatus(StatusOffline)
			}
			slog.Info("watcher: stopped", slog.String("platform", w.platform))
			return
		case <-w.sessionDone():
			if w.Status() == StatusLive {
				slog.Info("watcher: chat session ended", slog.String("platform", w.platform))
				w.chat.Disconnect()
				w.setStatus(StatusOffline)
			}
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// sessionDone returns the live session's done channel, or a nil channel
// (blocks forever) when no session is up.
func (w *Watcher) sessionDone() <-chan struct{} {
	if w.Status() != StatusLive {
		return nil
	}
	return w.chat.Done()
}

func (w *Watcher) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	live, err := w.prober.IsLive(probeCtx)
	cancel()
	if err != nil {
		w.failures++
		slog.Warn("watcher: liveness check failed",
			slog.String("platform", w.platform),
			slog.Int("consecutive", w.failures),
			slog.Any("err", err))
		if w.failures >= maxProbeFailures && w.Status() != StatusOffline {
			slog.Warn("watcher: forcing offline after repeated liveness failures",
				slog.String("platform", w.platform))
			w.chat.Disconnect()
			w.setStatus(StatusOffline)
		}
		return
	}
	w.failures = 0

	switch {
	case live && w.Status() == StatusOffline:
		w.setStatus(StatusConnecting)
		slog.Info("watcher: channel live; connecting chat", slog.String("platform", w.platform))
		if err := w.chat.Connect(ctx); err != nil {
			slog.Warn("watcher: chat connect failed",
				slog.String("platform", w.platform), slog.Any("err", err))
			w.setStatus(StatusOffline)
			return
		}
		w.setStatus(StatusLive)
		slog.Info("watcher: chat connected", slog.String("platform", w.platform))
	case !live && w.Status() != StatusOffline:
		slog.Info("watcher: channel went offline", slog.String("platform", w.platform))
		w.chat.Disconnect()
		w.setStatus(StatusOffline)
	}
}
