package watch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/dropwatch/youtubeapi"
)

// YouTubeLiveAPI is the liveness slice of the YouTube client.
type YouTubeLiveAPI interface {
	LiveVideoIDs(ctx context.Context) ([]string, error)
}

// YouTubeProber checks channel liveness through the live broadcast search.
// Discovered video ids are handed to OnLive so the chat reader can start
// tracking them before the watcher transitions to connecting.
type YouTubeProber struct {
	API    YouTubeLiveAPI
	OnLive func(ids []string)
}

func (p *YouTubeProber) IsLive(ctx context.Context) (bool, error) {
	ids, err := p.API.LiveVideoIDs(ctx)
	if err != nil {
		return false, err
	}
	if len(ids) > 0 && p.OnLive != nil {
		p.OnLive(ids)
	}
	return len(ids) > 0, nil
}

// YouTubeChatAPI is the chat polling slice of the YouTube client.
type YouTubeChatAPI interface {
	LiveChatID(ctx context.Context, videoID string) (string, error)
	PollChat(ctx context.Context, liveChatID, pageToken string) (*youtubeapi.ChatPage, error)
}

const ytCallTimeout = 15 * time.Second

// YouTubeChat polls the live chats of all tracked videos, one goroutine per
// video, each rescheduling itself relative to when its previous poll finished.
// Ids that the API reports as not found are remembered as dead and never
// tracked again for the lifetime of the process.
type YouTubeChat struct {
	api  YouTubeChatAPI
	cfg  ScheduleConfig
	sink func(texts []string)

	mu      sync.Mutex
	session context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	ended   bool // done already closed; cleared on Connect/Disconnect
	videos  map[string]struct{} // currently polled
	pending map[string]struct{} // tracked while disconnected
	dead    map[string]struct{} // invalid ids, never retried
	wg      sync.WaitGroup
}

func NewYouTubeChat(api YouTubeChatAPI, cfg ScheduleConfig, sink func(texts []string)) *YouTubeChat {
	return &YouTubeChat{
		api:     api,
		cfg:     cfg,
		sink:    sink,
		videos:  make(map[string]struct{}),
		pending: make(map[string]struct{}),
		dead:    make(map[string]struct{}),
	}
}

// Track adds a video id to the tracked set. While a session is up the poll
// loop starts immediately; otherwise the id waits for the next Connect.
// Dead and already-tracked ids are ignored.
func (c *YouTubeChat) Track(videoID string) {
	if videoID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, bad := c.dead[videoID]; bad {
		return
	}
	if _, ok := c.videos[videoID]; ok {
		return
	}
	// No session, or a session whose done channel already closed: park the id
	// until the next Connect.
	if c.session == nil || c.ended {
		c.pending[videoID] = struct{}{}
		return
	}
	c.startLocked(videoID)
}

// TrackMany is Track over a probe result batch.
func (c *YouTubeChat) TrackMany(ids []string) {
	for _, id := range ids {
		c.Track(id)
	}
}

// Tracked returns the currently or soon-to-be polled video ids, sorted.
func (c *YouTubeChat) Tracked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.videos)+len(c.pending))
	for id := range c.videos {
		out = append(out, id)
	}
	for id := range c.pending {
		if _, ok := c.videos[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Connect starts poll loops for every pending video. The session lives until
// Disconnect or until every tracked video's chat has ended.
func (c *YouTubeChat) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	c.session, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.done = make(chan struct{})
	c.ended = false
	for id := range c.pending {
		delete(c.pending, id)
		c.startLocked(id)
	}
	return nil
}

// startLocked spawns the poll loop for videoID. Caller holds c.mu and has
// checked dead/duplicate.
func (c *YouTubeChat) startLocked(videoID string) {
	c.videos[videoID] = struct{}{}
	c.wg.Add(1)
	go c.pollVideo(c.session, c.done, videoID)
}

func (c *YouTubeChat) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.session = nil
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.mu.Lock()
	c.videos = make(map[string]struct{})
	c.done = nil
	c.ended = false
	c.mu.Unlock()
}

func (c *YouTubeChat) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// remove drops videoID from the session, optionally marking it dead, and
// closes the session's done channel when the last video is gone. The closed
// channel stays in place until Disconnect so the watcher observes the end of
// session no matter when it next selects on Done.
func (c *YouTubeChat) remove(videoID string, sessionDone chan struct{}, markDead bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.videos, videoID)
	if markDead {
		c.dead[videoID] = struct{}{}
	}
	if len(c.videos) == 0 && c.done == sessionDone && sessionDone != nil && !c.ended {
		close(sessionDone)
		c.ended = true
	}
}

func (c *YouTubeChat) pollVideo(ctx context.Context, sessionDone chan struct{}, videoID string) {
	defer c.wg.Done()

	idCtx, cancel := context.WithTimeout(ctx, ytCallTimeout)
	chatID, err := c.api.LiveChatID(idCtx, videoID)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, youtubeapi.ErrVideoNotFound):
			slog.Warn("youtube chat: video not found; dropping permanently", slog.String("video_id", videoID))
			c.remove(videoID, sessionDone, true)
		case errors.Is(err, youtubeapi.ErrChatEnded):
			slog.Info("youtube chat: no active chat", slog.String("video_id", videoID))
			c.remove(videoID, sessionDone, false)
		default:
			slog.Warn("youtube chat: chat id lookup failed", slog.String("video_id", videoID), slog.Any("err", err))
			c.remove(videoID, sessionDone, false)
		}
		return
	}

	slog.Info("youtube chat: polling started", slog.String("video_id", videoID))
	activity := NewActivity(time.Now(), c.cfg)
	pageToken := ""
	for {
		pollCtx, cancel := context.WithTimeout(ctx, ytCallTimeout)
		page, err := c.api.PollChat(pollCtx, chatID, pageToken)
		cancel()

		wait := activity.Interval
		switch {
		case err == nil:
			pageToken = page.NextPageToken
			if len(page.Messages) > 0 {
				c.sink(page.Messages)
			}
			activity = NextInterval(activity, len(page.Messages), time.Now(), c.cfg)
			wait = activity.Interval
			// The API's own minimum wins when it is longer.
			if page.PollingInterval > wait {
				wait = page.PollingInterval
			}
		case errors.Is(err, youtubeapi.ErrVideoNotFound):
			slog.Warn("youtube chat: chat gone; dropping video permanently", slog.String("video_id", videoID))
			c.remove(videoID, sessionDone, true)
			return
		case errors.Is(err, youtubeapi.ErrChatEnded):
			slog.Info("youtube chat: chat ended", slog.String("video_id", videoID))
			c.remove(videoID, sessionDone, false)
			return
		case ctx.Err() != nil:
			c.remove(videoID, sessionDone, false)
			return
		default:
			slog.Warn("youtube chat: poll failed", slog.String("video_id", videoID), slog.Any("err", err))
		}

		select {
		case <-ctx.Done():
			c.remove(videoID, sessionDone, false)
			return
		case <-time.After(wait):
		}
	}
}
