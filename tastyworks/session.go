package tastyworks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Freshness is how long a validated session or a fetched streamer token is
// trusted before it is checked again.
const Freshness = 60 * time.Second

// Session is an authenticated API session. It is safe for concurrent use
// and may be shared by several streamers.
type Session struct {
	client *Client

	mu          sync.Mutex
	token       string
	validatedAt time.Time
	now         func() time.Time
}

// StreamerData describes the quote streamer endpoint for a session.
type StreamerData struct {
	Token        string `json:"token"`
	WebsocketURL string `json:"websocket-url"`
	Level        string `json:"level"`
}

// CometdURL returns the websocket URL of the cometd endpoint. The API hands
// out an http(s) origin; the feed listens on /cometd of the same host.
func (d StreamerData) CometdURL() string {
	u := d.WebsocketURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "wss://"), strings.HasPrefix(u, "ws://"):
	default:
		u = "wss://" + u
	}
	u = strings.TrimSuffix(u, "/")
	if !strings.HasSuffix(u, "/cometd") {
		u += "/cometd"
	}
	return u
}

// NewSession wraps an existing session token.
func NewSession(c *Client, token string) *Session {
	return &Session{client: c, token: token, now: time.Now}
}

// Login creates a session for the given credentials and validates it.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	body := map[string]string{
		"login":    username,
		"password": password,
	}
	var data struct {
		SessionToken string `json:"session-token"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, body, http.StatusCreated, &data); err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	if data.SessionToken == "" {
		return nil, fmt.Errorf("logging in: %w: empty session token", ErrSessionInvalid)
	}

	s := NewSession(c, data.SessionToken)
	if err := s.Validate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Token returns the current session token, empty once the session has been
// invalidated.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// AuthHeader returns the headers authenticating a request.
func (s *Session) AuthHeader() http.Header {
	h := make(http.Header)
	h.Set("Authorization", s.Token())
	return h
}

// Validate checks the session with the API unless it was validated within
// Freshness. A session the API rejects is cleared and ErrSessionInvalid
// returned; transport failures and server errors leave it intact.
func (s *Session) Validate(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	fresh := !s.validatedAt.IsZero() && s.now().Sub(s.validatedAt) < Freshness
	s.mu.Unlock()

	if token == "" {
		return ErrSessionInvalid
	}
	if fresh {
		return nil
	}

	err := s.client.do(ctx, http.MethodPost, "/sessions/validate", s.AuthHeader(), nil, http.StatusCreated, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.validatedAt = s.now()
		return nil
	case rejected(err):
		s.token = ""
		s.validatedAt = time.Time{}
		return fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	default:
		return fmt.Errorf("validating session: %w", err)
	}
}

// rejected reports whether err is the API refusing the token, as opposed to
// the API being unreachable or failing.
func rejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return true
	case apiErr.StatusCode >= http.StatusInternalServerError:
		return false
	}
	return apiErr.Code != ""
}

// IsActive reports whether the session is still valid.
func (s *Session) IsActive(ctx context.Context) bool {
	return s.Validate(ctx) == nil
}

// QuoteStreamerTokens fetches the quote streamer endpoint and its token.
func (s *Session) QuoteStreamerTokens(ctx context.Context) (*StreamerData, error) {
	if s.Token() == "" {
		return nil, ErrSessionInvalid
	}
	var data StreamerData
	if err := s.client.do(ctx, http.MethodGet, "/quote-streamer-tokens", s.AuthHeader(), nil, http.StatusOK, &data); err != nil {
		return nil, fmt.Errorf("could not get quote streamer data: %w", err)
	}
	return &data, nil
}
