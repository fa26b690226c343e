package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/NotVinay/tastystream/dxfeed"
	"github.com/NotVinay/tastystream/streamer"
)

// fakeStreamer records subscription calls in a registry.
type fakeStreamer struct {
	registry *streamer.Registry
	state    streamer.State
	err      error
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{registry: streamer.NewRegistry(), state: streamer.Streaming}
}

func (f *fakeStreamer) Subscribe(ctx context.Context, eventType string, symbols ...string) error {
	if f.err != nil {
		return f.err
	}
	f.registry.Add(eventType, symbols...)
	return nil
}

func (f *fakeStreamer) Unsubscribe(ctx context.Context, eventType string, symbols ...string) error {
	if f.err != nil {
		return f.err
	}
	f.registry.Remove(eventType, symbols...)
	return nil
}

func (f *fakeStreamer) Subscriptions() map[string][]string { return f.registry.Snapshot() }
func (f *fakeStreamer) State() streamer.State               { return f.state }

// setupHandler returns a handler wired to a fake streamer and an empty store,
// served by a mux.
func setupHandler(t *testing.T) (*apiHandler, *fakeStreamer, http.Handler) {
	t.Helper()
	fs := newFakeStreamer()
	handler := newAPIHandler(fs, newSnapshotStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	handler.routes(mux, []string{"http://localhost:4200"})
	return handler, fs, mux
}

func TestHandleHealth(t *testing.T) {
	testCases := []struct {
		name       string
		state      streamer.State
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Streaming",
			state:      streamer.Streaming,
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"tastystream is running","status":"healthy","streamer":"streaming"}`,
		},
		{
			name:       "Faulted",
			state:      streamer.Faulted,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"message":"tastystream is running","status":"degraded","streamer":"faulted"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, fs, mux := setupHandler(t)
			fs.state = tc.state

			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if status := rr.Code; status != tc.wantStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", status, tc.wantStatus)
			}
			if diff := cmp.Diff(tc.wantBody, strings.TrimSpace(rr.Body.String())); diff != "" {
				t.Errorf("handler returned unexpected body: (-want +got)\n%s", diff)
			}
		})
	}
}

func TestHandleEvent(t *testing.T) {
	handler, _, mux := setupHandler(t)
	handler.store.put(&dxfeed.Quote{
		Symbol:   "SPY",
		BidPrice: decimal.RequireFromString("415.72"),
		AskPrice: decimal.RequireFromString("415.78"),
	})
	handler.store.put(&dxfeed.Greeks{Symbol: ".SPY210419P410", Delta: decimal.RequireFromString("-0.0439")})

	testCases := []struct {
		name          string
		method        string
		path          string
		wantStatus    int
		wantBody      string
		checkBodyJSON func(t *testing.T, body []byte)
	}{
		{
			name:       "Quote",
			method:     http.MethodGet,
			path:       "/api/v1/events/Quote/SPY",
			wantStatus: http.StatusOK,
			checkBodyJSON: func(t *testing.T, body []byte) {
				var q dxfeed.Quote
				if err := json.Unmarshal(body, &q); err != nil {
					t.Fatalf("could not decode response: %v", err)
				}
				if q.Symbol != "SPY" || !q.BidPrice.Equal(decimal.RequireFromString("415.72")) {
					t.Errorf("unexpected quote %+v", q)
				}
			},
		},
		{
			name:       "Option Greeks",
			method:     http.MethodGet,
			path:       "/api/v1/events/Greeks/.SPY210419P410",
			wantStatus: http.StatusOK,
			checkBodyJSON: func(t *testing.T, body []byte) {
				var g dxfeed.Greeks
				if err := json.Unmarshal(body, &g); err != nil {
					t.Fatalf("could not decode response: %v", err)
				}
				if !g.Delta.Equal(decimal.RequireFromString("-0.0439")) {
					t.Errorf("delta = %s, want -0.0439", g.Delta)
				}
			},
		},
		{
			name:       "Not Found",
			method:     http.MethodGet,
			path:       "/api/v1/events/Quote/QQQ",
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"Not Found","message":"No event received for Quote QQQ"}`,
		},
		{
			name:       "Missing Symbol",
			method:     http.MethodGet,
			path:       "/api/v1/events/Quote",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Bad Request","message":"Event type and symbol are required"}`,
		},
		{
			name:       "Method Not Allowed",
			method:     http.MethodPost,
			path:       "/api/v1/events/Quote/SPY",
			wantStatus: http.StatusMethodNotAllowed,
			wantBody:   `{"error":"Method Not Allowed","message":"Method not allowed"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if status := rr.Code; status != tc.wantStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", status, tc.wantStatus)
			}

			if tc.checkBodyJSON != nil {
				tc.checkBodyJSON(t, rr.Body.Bytes())
			} else if tc.wantBody != "" {
				if diff := cmp.Diff(tc.wantBody, strings.TrimSpace(rr.Body.String())); diff != "" {
					t.Errorf("handler returned unexpected body: (-want +got)\n%s", diff)
				}
			}
		})
	}
}

func TestHandleSubscriptions(t *testing.T) {
	testCases := []struct {
		name       string
		method     string
		body       string
		streamErr  error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Add",
			method:     http.MethodPost,
			body:       `{"action":"add","type":"Quote","symbols":["SPY","QQQ"]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"Quote":["QQQ","SPY"],"Trade":["AAPL"]}`,
		},
		{
			name:       "Remove",
			method:     http.MethodPost,
			body:       `{"action":"remove","type":"Trade","symbols":["AAPL"]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{}`,
		},
		{
			name:       "List",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantBody:   `{"Trade":["AAPL"]}`,
		},
		{
			name:       "Bad Action",
			method:     http.MethodPost,
			body:       `{"action":"replace","type":"Quote","symbols":["SPY"]}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Bad Request","message":"Action must be add or remove"}`,
		},
		{
			name:       "Missing Symbols",
			method:     http.MethodPost,
			body:       `{"type":"Quote"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Bad Request","message":"Event type and symbols are required"}`,
		},
		{
			name:       "Invalid Body",
			method:     http.MethodPost,
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Bad Request","message":"Invalid request body"}`,
		},
		{
			name:       "Not Connected",
			method:     http.MethodPost,
			body:       `{"type":"Quote","symbols":["SPY"]}`,
			streamErr:  fmt.Errorf("subscribing: %w", streamer.ErrNotConnected),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"Service Unavailable","message":"Streamer is not connected"}`,
		},
		{
			name:       "Method Not Allowed",
			method:     http.MethodDelete,
			wantStatus: http.StatusMethodNotAllowed,
			wantBody:   `{"error":"Method Not Allowed","message":"Method not allowed"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, fs, mux := setupHandler(t)
			fs.registry.Add("Trade", "AAPL")
			fs.err = tc.streamErr

			req := httptest.NewRequest(tc.method, "/api/v1/subscriptions", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if status := rr.Code; status != tc.wantStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", status, tc.wantStatus)
			}
			if diff := cmp.Diff(tc.wantBody, strings.TrimSpace(rr.Body.String())); diff != "" {
				t.Errorf("handler returned unexpected body: (-want +got)\n%s", diff)
			}
		})
	}
}

func TestHandleAccountEvents(t *testing.T) {
	handler, _, mux := setupHandler(t)
	for i := 0; i < maxAccountEvents+5; i++ {
		handler.store.putAccount(streamer.AccountEvent{Type: "Order", Timestamp: int64(i)})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/events", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var events []streamer.AccountEvent
	if err := json.Unmarshal(rr.Body.Bytes(), &events); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if len(events) != maxAccountEvents {
		t.Fatalf("expected %d events, got %d", maxAccountEvents, len(events))
	}
	if events[0].Timestamp != 5 {
		t.Errorf("expected the oldest events to be evicted, first timestamp %d", events[0].Timestamp)
	}
}

func TestCORS(t *testing.T) {
	_, _, mux := setupHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/subscriptions", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("preflight status = %v, want %v", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Access-Control-Allow-Origin %q for unlisted origin", got)
	}
}

func TestSnapshotStore_Consume(t *testing.T) {
	store := newSnapshotStore()
	events := make(chan dxfeed.Event, 4)
	events <- &dxfeed.Quote{Symbol: "SPY", BidPrice: decimal.RequireFromString("415.70")}
	events <- &dxfeed.Unknown{Type: "Candle"}
	events <- &dxfeed.Quote{Symbol: "SPY", BidPrice: decimal.RequireFromString("415.72")}
	close(events)

	store.consume(events)

	ev, ok := store.get("Quote", "SPY")
	if !ok {
		t.Fatal("expected a quote for SPY")
	}
	if bid := ev.(*dxfeed.Quote).BidPrice; !bid.Equal(decimal.RequireFromString("415.72")) {
		t.Errorf("latest bid = %s, want 415.72", bid)
	}
	if _, ok := store.get("Candle", ""); ok {
		t.Error("events without a symbol should not be stored")
	}
}
