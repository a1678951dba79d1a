// Package youtubeapi wraps the YouTube Data API v3 for live broadcast discovery
// and live chat polling. It authenticates with a plain API key when configured,
// falling back to a stored OAuth token persisted via the TokenStore interface so
// it can be refreshed and reused across restarts.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/dropwatch/config"
)

const provider = "youtube"

// Sentinel errors for chat polling. ErrVideoNotFound marks an id that should
// never be retried; ErrChatEnded marks a stream that finished normally.
var (
	ErrVideoNotFound = errors.New("youtube: video not found")
	ErrChatEnded     = errors.New("youtube: live chat ended")
)

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, err error)
}

type Service struct {
	channelID string
	apiKey    string
	db        TokenStore
	oauth     *oauth2.Config

	// Endpoint and HTTPClient override the API base and transport in tests.
	Endpoint   string
	HTTPClient *http.Client
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube.readonly"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		fields := strings.Fields(s)
		if len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{channelID: cfg.YTChannelID, apiKey: cfg.YTAPIKey, db: ts, oauth: oauth}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	_ = s.db.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	return tok, nil
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, err := s.db.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errors.New("no youtube token stored")
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return tok, err
	}
	_ = s.db.UpsertOAuthToken(ctx, provider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry)
	return newTok, nil
}

// Client builds a YouTube API client. API-key auth wins when configured;
// otherwise the stored OAuth token is used (and refreshed if stale).
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	opts := []option.ClientOption{}
	switch {
	case s.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(s.HTTPClient))
	case s.apiKey != "":
		opts = append(opts, option.WithAPIKey(s.apiKey))
	default:
		tok, err := s.refreshIfNeeded(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithHTTPClient(s.oauth.Client(ctx, tok)))
	}
	if s.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.Endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// LiveVideoIDs returns the ids of the channel's currently live broadcasts.
// An empty slice means the channel is offline.
func (s *Service) LiveVideoIDs(ctx context.Context) ([]string, error) {
	if s.channelID == "" {
		return nil, fmt.Errorf("channel id empty")
	}
	svc, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Search.List([]string{"id"}).
		ChannelId(s.channelID).
		EventType("live").
		Type("video").
		MaxResults(5).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube live search: %w", err)
	}
	var ids []string
	for _, item := range res.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	return ids, nil
}

// LiveChatID resolves a video id to its active live chat id. Returns
// ErrVideoNotFound for an unknown id and ErrChatEnded for a broadcast whose
// chat is no longer active.
func (s *Service) LiveChatID(ctx context.Context, videoID string) (string, error) {
	svc, err := s.Client(ctx)
	if err != nil {
		return "", err
	}
	res, err := svc.Videos.List([]string{"liveStreamingDetails"}).
		Id(videoID).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube video lookup %s: %w", videoID, err)
	}
	if len(res.Items) == 0 {
		return "", ErrVideoNotFound
	}
	details := res.Items[0].LiveStreamingDetails
	if details == nil || details.ActiveLiveChatId == "" {
		return "", ErrChatEnded
	}
	return details.ActiveLiveChatId, nil
}

// ChatPage is one page of live chat messages plus the polling hints needed to
// schedule the next request.
type ChatPage struct {
	Messages        []string
	NextPageToken   string
	PollingInterval time.Duration
}

// PollChat fetches the next page of live chat messages. The returned
// NextPageToken must be passed back on the following call so only new
// messages are seen.
func (s *Service) PollChat(ctx context.Context, liveChatID, pageToken string) (*ChatPage, error) {
	svc, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	call := svc.LiveChatMessages.List(liveChatID, []string{"snippet"}).MaxResults(200)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classifyChatError(err)
	}
	page := &ChatPage{
		NextPageToken:   res.NextPageToken,
		PollingInterval: time.Duration(res.PollingIntervalMillis) * time.Millisecond,
	}
	for _, item := range res.Items {
		if item.Snippet != nil && item.Snippet.DisplayMessage != "" {
			page.Messages = append(page.Messages, item.Snippet.DisplayMessage)
		}
	}
	return page, nil
}

// classifyChatError maps API errors onto the sentinel errors the watcher
// reacts to. Anything else passes through as transient.
func classifyChatError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("youtube chat poll: %w", err)
	}
	for _, e := range gerr.Errors {
		if e.Reason == "liveChatEnded" || e.Reason == "liveChatDisabled" {
			return ErrChatEnded
		}
		if e.Reason == "liveChatNotFound" {
			return ErrVideoNotFound
		}
	}
	if gerr.Code == http.StatusNotFound {
		return ErrVideoNotFound
	}
	return fmt.Errorf("youtube chat poll: %w", err)
}
