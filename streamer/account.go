package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAccountURL is the account streamer endpoint.
	DefaultAccountURL = "wss://streamer.tastyworks.com"
	// Heartbeat period of the account streamer unless WithKeepAlive is given.
	defaultHeartbeat = 20 * time.Second
)

// Account streamer actions.
const (
	ActionHeartbeat        = "heartbeat"
	ActionAccountSubscribe = "account-subscribe"
)

// AccountSession is what the account streamer needs from a session.
// *tastyworks.Session implements it.
type AccountSession interface {
	Validate(ctx context.Context) error
	Token() string
}

// AccountEvent is a message from the account streamer. Action replies carry
// Action and Status; change notifications carry Type, Data and Timestamp.
type AccountEvent struct {
	Action    string          `json:"action,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	RequestID string          `json:"request-id,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`

	Type      string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// IsChange reports whether the event notifies a change such as an Order or
// an AccountBalance update.
func (e AccountEvent) IsChange() bool {
	return e.Type != ""
}

// Time returns the change timestamp, sent in milliseconds.
func (e AccountEvent) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp).UTC()
}

type accountAction struct {
	Action    string `json:"action"`
	RequestID string `json:"request-id"`
	AuthToken string `json:"auth-token"`
	Value     any    `json:"value,omitempty"`
}

// AccountStreamer delivers order, balance and position changes of accounts.
type AccountStreamer struct {
	session AccountSession
	ws      *websocket.Conn
	log     *slog.Logger
	metrics *Metrics

	// mu serializes writes to ws.
	mu sync.Mutex

	events    chan AccountEvent
	done      chan struct{}
	cancel    context.CancelFunc
	g         *errgroup.Group
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// DialAccount connects to the account streamer at url, or DefaultAccountURL
// when url is empty, and starts the heartbeat.
func DialAccount(ctx context.Context, session AccountSession, url string, opts ...Option) (*AccountStreamer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if url == "" {
		url = DefaultAccountURL
	}
	if err := session.Validate(ctx); err != nil {
		return nil, err
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancelDial()
	ws, _, err := o.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: dialing %s", ErrHandshakeTimeout, url)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	a := &AccountStreamer{
		session: session,
		ws:      ws,
		log:     o.log.With("component", "account_streamer"),
		metrics: o.metrics,
		events:  make(chan AccountEvent, o.eventBuffer),
		done:    make(chan struct{}),
	}
	a.log.Info("connected to account streamer", "url", url)

	period := o.keepAlive
	if period <= 0 {
		period = defaultHeartbeat
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.g, runCtx = errgroup.WithContext(runCtx)
	a.g.Go(func() error { return a.heartbeat(runCtx, period) })
	go a.readLoop(runCtx)
	return a, nil
}

// Subscribe asks for change notifications of the given accounts and returns
// the request id of the subscription.
func (a *AccountStreamer) Subscribe(ctx context.Context, accounts ...string) (string, error) {
	if len(accounts) == 0 {
		return "", errors.New("no accounts given")
	}
	id := uuid.NewString()
	if err := a.send(ctx, ActionAccountSubscribe, id, accounts); err != nil {
		return "", fmt.Errorf("subscribing to accounts %v: %w", accounts, err)
	}
	a.log.Debug("subscribed to accounts", "accounts", accounts, "request_id", id)
	return id, nil
}

func (a *AccountStreamer) send(ctx context.Context, action, requestID string, value any) error {
	select {
	case <-a.done:
		return ErrClosed
	default:
	}
	msg := accountAction{
		Action:    action,
		RequestID: requestID,
		AuthToken: a.session.Token(),
		Value:     value,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	a.ws.SetWriteDeadline(deadline)
	return a.ws.WriteJSON(msg)
}

func (a *AccountStreamer) heartbeat(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.send(ctx, ActionHeartbeat, uuid.NewString(), nil); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				err = fmt.Errorf("%w: sending heartbeat: %v", ErrTransportFault, err)
				a.setErr(err)
				a.ws.Close()
				return err
			}
			a.metrics.keepAliveSent()
		}
	}
}

// readLoop delivers decoded events until the transport closes. Heartbeat
// replies are not delivered.
func (a *AccountStreamer) readLoop(ctx context.Context) {
	defer close(a.done)
	defer close(a.events)

	for {
		_, frame, err := a.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.setErr(fmt.Errorf("%w: %v", ErrTransportFault, err))
				a.log.Error("account streamer stopped", "error", err)
				a.cancel()
			}
			return
		}

		var ev AccountEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			a.log.Warn("dropping account message", "error", err)
			continue
		}
		switch {
		case ev.Action == ActionHeartbeat:
			a.log.Debug("heartbeat acknowledged", "status", ev.Status)
			continue
		case ev.Action == "" && ev.Type == "":
			a.log.Warn("dropping account message of unknown shape", "frame", string(frame))
			continue
		}

		kind := "action"
		if ev.IsChange() {
			kind = ev.Type
		}
		select {
		case a.events <- ev:
			a.metrics.accountEvent(kind)
		case <-ctx.Done():
			return
		}
	}
}

func (a *AccountStreamer) setErr(err error) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

// Events returns the account event stream, closed when the streamer stops.
func (a *AccountStreamer) Events() <-chan AccountEvent {
	return a.events
}

// Err returns the fault that stopped the streamer, or nil.
func (a *AccountStreamer) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// Close stops the heartbeat, closes the transport and waits for the read
// loop to finish.
func (a *AccountStreamer) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		if err := a.g.Wait(); err != nil {
			a.setErr(err)
		}
		a.mu.Lock()
		a.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		a.mu.Unlock()
		a.ws.Close()
		<-a.done
	})
	return nil
}
