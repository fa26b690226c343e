package streamer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NotVinay/tastystream/dxfeed"
	"github.com/NotVinay/tastystream/tastyworks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// received is a message seen by the fake feed together with the number of
// the connection it arrived on.
type received struct {
	conn int
	at   time.Time
	msg  dxfeed.Message
}

type feedConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *feedConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

// fakeFeed is a minimal cometd endpoint mounted at /cometd.
type fakeFeed struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	rejectHandshake bool
	silent          bool
	adviceTimeout   int64

	connCount atomic.Int32
	mu        sync.Mutex
	conns     []*feedConn
	msgs      []received
}

// newFakeFeed starts the feed after applying opts.
func newFakeFeed(t *testing.T, opts ...func(*fakeFeed)) *fakeFeed {
	t.Helper()
	f := &fakeFeed{
		t:             t,
		adviceTimeout: 60000,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/cometd", f.handle)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFeed) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}
	n := int(f.connCount.Add(1))
	fc := &feedConn{ws: ws}
	f.mu.Lock()
	f.conns = append(f.conns, fc)
	f.mu.Unlock()
	defer ws.Close()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msgs, err := dxfeed.DecodeFrame(frame)
		if err != nil {
			f.t.Errorf("client sent a malformed frame: %s", frame)
			return
		}
		for _, msg := range msgs {
			f.mu.Lock()
			f.msgs = append(f.msgs, received{conn: n, at: time.Now(), msg: msg})
			f.mu.Unlock()

			switch msg.Channel {
			case dxfeed.ChannelHandshake:
				switch {
				case f.silent:
				case f.rejectHandshake:
					fc.write(`[{"channel":"/meta/handshake","successful":false,"error":"403::Unauthorized"}]`)
				default:
					fc.write(fmt.Sprintf(`[{"channel":"/meta/handshake","successful":true,"clientId":"client-%d","version":"1.0","advice":{"timeout":%d,"interval":0,"reconnect":"retry"}}]`, n, f.adviceTimeout))
				}
			case dxfeed.ChannelConnect:
				fc.write(fmt.Sprintf(`[{"channel":"/meta/connect","successful":true,"clientId":"client-%d","id":%q}]`, n, msg.ID))
			}
		}
	}
}

// push sends a frame on the most recent connection.
func (f *fakeFeed) push(frame string) {
	f.t.Helper()
	f.mu.Lock()
	fc := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	if err := fc.write(frame); err != nil {
		f.t.Fatalf("push failed: %v", err)
	}
}

// drop closes the most recent connection from the server side.
func (f *fakeFeed) drop() {
	f.mu.Lock()
	fc := f.conns[len(f.conns)-1]
	f.mu.Unlock()
	fc.ws.Close()
}

// messages returns the received messages on channel.
func (f *fakeFeed) messages(channel string) []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []received
	for _, r := range f.msgs {
		if r.msg.Channel == channel {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeFeed) session() *fakeSession {
	return &fakeSession{url: f.server.URL}
}

type fakeSession struct {
	url     string
	invalid bool
	fetches atomic.Int32

	// unreachable is how many upcoming Validate calls fail as if the API
	// were down.
	unreachable atomic.Int32
	validations atomic.Int32
}

func (s *fakeSession) Validate(ctx context.Context) error {
	s.validations.Add(1)
	if s.invalid {
		return tastyworks.ErrSessionInvalid
	}
	if s.unreachable.Add(-1) >= 0 {
		return fmt.Errorf("validating session: %w", &tastyworks.APIError{StatusCode: http.StatusBadGateway, Message: "bad gateway"})
	}
	s.unreachable.Store(0)
	return nil
}

func (s *fakeSession) QuoteStreamerTokens(ctx context.Context) (*tastyworks.StreamerData, error) {
	s.fetches.Add(1)
	return &tastyworks.StreamerData{Token: "streamer-tok", WebsocketURL: s.url, Level: "api"}, nil
}

func (s *fakeSession) Token() string {
	return "session-tok"
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dial(t *testing.T, f *fakeFeed, opts ...Option) *Streamer {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	s, err := Dial(context.Background(), f.session(), opts...)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	waitFor(t, "streaming state", func() bool { return s.State() == Streaming })
	return s
}

func subscriptionData(t *testing.T, msg dxfeed.Message) dxfeed.SubscriptionData {
	t.Helper()
	var data dxfeed.SubscriptionData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("bad subscription data %s: %v", msg.Data, err)
	}
	return data
}
