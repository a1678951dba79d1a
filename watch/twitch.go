package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/dropwatch/twitchapi"
)

// TwitchProber checks channel liveness through the Helix streams endpoint.
type TwitchProber struct {
	Helix   *twitchapi.HelixClient
	Channel string
}

func (p *TwitchProber) IsLive(ctx context.Context) (bool, error) {
	streams, err := p.Helix.GetStreams(ctx, p.Channel)
	if err != nil {
		return false, err
	}
	return len(streams) > 0, nil
}

const twitchHandshakeTimeout = 20 * time.Second

// TwitchChat is a push chat session over IRC. Each Connect builds a fresh
// client; messages are handed to the sink one batch per IRC message.
type TwitchChat struct {
	username string
	channel  string
	token    func(ctx context.Context) (string, error)
	sink     func(texts []string)

	mu     sync.Mutex
	client *twitch.Client
	done   chan struct{}
}

// NewTwitchChat builds the session factory. token is read on every Connect so
// a refreshed bot token is picked up without a restart.
func NewTwitchChat(username, channel string, token func(ctx context.Context) (string, error), sink func(texts []string)) *TwitchChat {
	return &TwitchChat{username: username, channel: channel, token: token, sink: sink}
}

func (c *TwitchChat) Connect(ctx context.Context) error {
	tok, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("twitch chat token: %w", err)
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}

	client := twitch.NewClient(c.username, tok)
	done := make(chan struct{})
	var connectedOnce sync.Once
	connected := make(chan struct{})

	client.OnConnect(func() {
		connectedOnce.Do(func() { close(connected) })
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		c.sink([]string{msg.Message})
	})
	client.Join(c.channel)

	go func() {
		if err := client.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			slog.Warn("twitch chat: connection closed", slog.Any("err", err))
		}
		close(done)
	}()

	timer := time.NewTimer(twitchHandshakeTimeout)
	defer timer.Stop()
	select {
	case <-connected:
		c.mu.Lock()
		c.client = client
		c.done = done
		c.mu.Unlock()
		return nil
	case <-done:
		return fmt.Errorf("twitch chat: connection closed before welcome")
	case <-timer.C:
		client.Disconnect()
		return fmt.Errorf("twitch chat: handshake timeout")
	case <-ctx.Done():
		client.Disconnect()
		return ctx.Err()
	}
}

func (c *TwitchChat) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		if err := client.Disconnect(); err != nil {
			slog.Debug("twitch chat: disconnect", slog.Any("err", err))
		}
	}
}

func (c *TwitchChat) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
