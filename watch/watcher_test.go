package watch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptedProber replays a fixed sequence of liveness answers, repeating the
// last one once the script runs out.
type scriptedProber struct {
	mu     sync.Mutex
	script []probeStep
	idx    int
}

type probeStep struct {
	live bool
	err  error
}

func (p *scriptedProber) IsLive(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := p.script[p.idx]
	if p.idx < len(p.script)-1 {
		p.idx++
	}
	return step.live, step.err
}

type fakeChat struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	failConnect bool
	done        chan struct{}
}

func (c *fakeChat) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.failConnect {
		return fmt.Errorf("connect refused")
	}
	c.done = make(chan struct{})
	return nil
}

func (c *fakeChat) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeChat) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *fakeChat) endSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		close(c.done)
	}
}

func (c *fakeChat) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects
}

func waitForStatus(t *testing.T, w *Watcher, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", w.Status(), want)
}

func TestWatcherGoesLiveDespiteTransientProbeError(t *testing.T) {
	// live, error, live, live: the interleaved error must not force offline
	// because the failure count resets on every success.
	prober := &scriptedProber{script: []probeStep{
		{live: false},
		{err: fmt.Errorf("api timeout")},
		{live: true},
		{live: true},
	}}
	chat := &fakeChat{}
	w := NewWatcher("twitch", prober, chat, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitForStatus(t, w, StatusLive)
	if _, disconnects := chat.counts(); disconnects != 0 {
		t.Errorf("unexpected disconnects: %d", disconnects)
	}
}

func TestWatcherForcesOfflineAfterThreeFailures(t *testing.T) {
	prober := &scriptedProber{script: []probeStep{
		{live: true},
		{err: fmt.Errorf("boom")},
	}}
	chat := &fakeChat{}
	w := NewWatcher("twitch", prober, chat, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitForStatus(t, w, StatusLive)
	// All subsequent probes fail; the third consecutive failure must tear the
	// session down.
	waitForStatus(t, w, StatusOffline)
	if _, disconnects := chat.counts(); disconnects == 0 {
		t.Error("expected the chat session to be disconnected")
	}
}

func TestWatcherDisconnectsWhenStreamEnds(t *testing.T) {
	prober := &scriptedProber{script: []probeStep{
		{live: true},
		{live: true},
		{live: false},
	}}
	chat := &fakeChat{}
	w := NewWatcher("youtube", prober, chat, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitForStatus(t, w, StatusLive)
	waitForStatus(t, w, StatusOffline)
	if _, disconnects := chat.counts(); disconnects == 0 {
		t.Error("expected disconnect on live to offline transition")
	}
}

func TestWatcherHandlesTerminalChatDisconnect(t *testing.T) {
	prober := &scriptedProber{script: []probeStep{
		{live: true},
	}}
	chat := &fakeChat{}
	w := NewWatcher("twitch", prober, chat, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitForStatus(t, w, StatusLive)
	chat.endSession()
	waitForStatus(t, w, StatusOffline)
}

func TestWatcherRetriesFailedConnect(t *testing.T) {
	prober := &scriptedProber{script: []probeStep{
		{live: true},
	}}
	chat := &fakeChat{failConnect: true}
	w := NewWatcher("twitch", prober, chat, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Connect keeps failing: the watcher falls back to offline each tick and
	// tries again on the next liveness poll.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if connects, _ := chat.counts(); connects >= 2 {
			if s := w.Status(); s == StatusLive {
				t.Fatalf("status = %v with failing connect", s)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("connect was not retried")
}

func TestWatcherShutdownTearsDownSession(t *testing.T) {
	prober := &scriptedProber{script: []probeStep{{live: true}}}
	chat := &fakeChat{}
	w := NewWatcher("twitch", prober, chat, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitForStatus(t, w, StatusLive)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	if _, disconnects := chat.counts(); disconnects == 0 {
		t.Error("expected disconnect on shutdown")
	}
	if w.Status() != StatusOffline {
		t.Errorf("status after shutdown = %v, want offline", w.Status())
	}
}
