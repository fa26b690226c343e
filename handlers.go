package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/NotVinay/tastystream/streamer"
)

// subscriber is the part of the quote streamer the handlers use.
type subscriber interface {
	Subscribe(ctx context.Context, eventType string, symbols ...string) error
	Unsubscribe(ctx context.Context, eventType string, symbols ...string) error
	Subscriptions() map[string][]string
	State() streamer.State
}

// apiHandler holds dependencies for HTTP handlers.
type apiHandler struct {
	streamer subscriber
	store    *snapshotStore
	log      *slog.Logger
}

// newAPIHandler creates a new apiHandler with its dependencies.
func newAPIHandler(s subscriber, store *snapshotStore, log *slog.Logger) *apiHandler {
	return &apiHandler{streamer: s, store: store, log: log}
}

// Response structure for API responses
type Response struct {
	Message  string `json:"message"`
	Status   string `json:"status"`
	Streamer string `json:"streamer"`
}

// ErrorResponse represents an error API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// subscriptionRequest is the body of POST /api/v1/subscriptions.
type subscriptionRequest struct {
	Action  string   `json:"action"`
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// sendJSON sends a JSON response.
func (h *apiHandler) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("encoding JSON response", "error", err)
	}
}

// sendError sends an error response.
func (h *apiHandler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// routes registers the API on mux.
func (h *apiHandler) routes(mux *http.ServeMux, allowedOrigins []string) {
	cors := corsMiddleware(allowedOrigins)
	mux.HandleFunc("/api/health", cors(h.handleHealth))
	mux.HandleFunc("/api/v1/events/", cors(h.handleEvent))
	mux.HandleFunc("/api/v1/subscriptions", cors(h.handleSubscriptions))
	mux.HandleFunc("/api/v1/accounts/events", cors(h.handleAccountEvents))
}

// corsMiddleware handles CORS for the listed origins; "*" allows any.
func corsMiddleware(allowedOrigins []string) func(http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed["*"] {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}
}

// handleHealth handles GET /api/health
func (h *apiHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.streamer.State()
	resp := Response{
		Message:  "tastystream is running",
		Status:   "healthy",
		Streamer: state.String(),
	}
	status := http.StatusOK
	if state != streamer.Streaming {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	h.sendJSON(w, status, resp)
}

// handleEvent handles GET /api/v1/events/{type}/{symbol}
// Returns the latest event received for the symbol.
func (h *apiHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract event type and symbol from URL path.
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	eventType, symbol, ok := strings.Cut(path, "/")
	if !ok || eventType == "" || symbol == "" {
		h.sendError(w, http.StatusBadRequest, "Event type and symbol are required")
		return
	}

	ev, ok := h.store.get(eventType, symbol)
	if !ok {
		h.sendError(w, http.StatusNotFound, "No event received for "+eventType+" "+symbol)
		return
	}
	h.sendJSON(w, http.StatusOK, ev)
}

// handleSubscriptions handles GET and POST /api/v1/subscriptions
func (h *apiHandler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.sendJSON(w, http.StatusOK, h.streamer.Subscriptions())
		return
	case http.MethodPost:
	default:
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" || len(req.Symbols) == 0 {
		h.sendError(w, http.StatusBadRequest, "Event type and symbols are required")
		return
	}

	var err error
	switch req.Action {
	case "", "add":
		err = h.streamer.Subscribe(r.Context(), req.Type, req.Symbols...)
	case "remove":
		err = h.streamer.Unsubscribe(r.Context(), req.Type, req.Symbols...)
	default:
		h.sendError(w, http.StatusBadRequest, "Action must be add or remove")
		return
	}
	if err != nil {
		h.log.Error("updating subscriptions", "action", req.Action, "type", req.Type, "error", err)
		if errors.Is(err, streamer.ErrNotConnected) || errors.Is(err, streamer.ErrClosed) {
			h.sendError(w, http.StatusServiceUnavailable, "Streamer is not connected")
			return
		}
		h.sendError(w, http.StatusInternalServerError, "Failed to update subscriptions")
		return
	}

	h.sendJSON(w, http.StatusOK, h.streamer.Subscriptions())
}

// handleAccountEvents handles GET /api/v1/accounts/events
// Returns the most recent account events, oldest first.
func (h *apiHandler) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	h.sendJSON(w, http.StatusOK, h.store.accountEvents())
}
