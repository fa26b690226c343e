package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NotVinay/tastystream/dxfeed"
	"github.com/NotVinay/tastystream/tastyworks"
)

// Streamer is a live quote feed connection. Create one with Dial and release
// it with Close.
type Streamer struct {
	opts     options
	log      *slog.Logger
	metrics  *Metrics
	endpoint *endpointCache
	registry *Registry

	events    chan dxfeed.Event
	done      chan struct{}
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once

	mu       sync.RWMutex
	state    State
	writer   *writer
	clientID string
	err      error
}

// Dial resolves the feed endpoint for session, connects and completes the
// handshake. Setup failures are returned synchronously: an expired session
// as tastyworks.ErrSessionInvalid, a refused handshake as
// ErrHandshakeRejected and a silent server as ErrHandshakeTimeout.
func Dial(ctx context.Context, session Session, opts ...Option) (*Streamer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Streamer{
		opts:     o,
		log:      o.log.With("component", "streamer"),
		metrics:  o.metrics,
		endpoint: newEndpointCache(session),
		registry: NewRegistry(),
		events:   make(chan dxfeed.Event, o.eventBuffer),
		done:     make(chan struct{}),
	}
	s.opts.log = s.log
	s.setState(Disconnected)

	c, err := s.connect(ctx)
	if err != nil {
		s.setState(Closed)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	w := s.attach(c)
	go s.run(runCtx, c, w)
	return s, nil
}

// attach makes c the connection Subscribe and friends write to. Requests
// queue on the writer until serve starts it.
func (s *Streamer) attach(c *conn) *writer {
	w := newWriter(c)
	s.setLink(w, c.clientID)
	return w
}

// connect opens a new connection and brings it to the point where it can
// stream.
func (s *Streamer) connect(ctx context.Context) (*conn, error) {
	s.setState(Handshaking)
	data, err := s.endpoint.get(ctx)
	if err != nil {
		return nil, err
	}
	url := data.CometdURL()
	s.log.Info("connecting to quote feed", "url", url)

	c, err := dialConn(ctx, &s.opts, url, data.Token)
	if err != nil {
		return nil, err
	}
	s.setState(Connected)

	if err := c.ready(ctx, s.opts.handshakeTimeout); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// run serves connections until Close or a fault that the reconnect policy
// does not recover from.
func (s *Streamer) run(ctx context.Context, c *conn, w *writer) {
	defer close(s.done)
	defer close(s.events)

	replay := false
	for {
		err := s.serve(ctx, c, w, replay)
		if ctx.Err() != nil {
			s.setState(Closed)
			return
		}
		s.setState(Faulted)
		s.log.Warn("quote feed connection lost", "error", err)

		c, err = s.reconnect(ctx, err)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(Closed)
				return
			}
			s.fail(err)
			return
		}
		w = s.attach(c)
		replay = true
	}
}

// serve streams from c through w until ctx is done or the connection fails.
// It always stops the writer and the keep-alive before closing the
// transport. A reconnected c is first subscribed to the registry contents.
func (s *Streamer) serve(ctx context.Context, c *conn, w *writer, replay bool) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error { return w.run(gctx) })

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(gctx, s.events) }()

	if replay {
		s.replay(gctx, w, c.clientID)
	}

	period := keepAlivePeriod(c.advice, s.opts.keepAlive)
	g.Go(func() error { return keepAlive(gctx, w, c.clientID, period, s.log, s.metrics) })

	s.setState(Streaming)
	s.log.Info("streaming", "client_id", c.clientID, "keepalive", period)

	var cause error
	readDone := false
	select {
	case <-ctx.Done():
	case cause = <-readErr:
		readDone = true
	case <-gctx.Done():
	}

	s.setLink(nil, "")
	if ctx.Err() != nil {
		s.setState(Closing)
	}
	cancel()
	if err := g.Wait(); err != nil && cause == nil {
		cause = err
	}
	c.close()
	if !readDone {
		if err := <-readErr; cause == nil {
			cause = err
		}
	}
	if cause == nil && ctx.Err() == nil {
		cause = ErrTransportFault
	}
	return cause
}

// replay subscribes a fresh connection to everything in the registry.
func (s *Streamer) replay(ctx context.Context, w *writer, clientID string) {
	snapshot := s.registry.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	msg, err := dxfeed.SubscriptionMessage(clientID, dxfeed.SubscriptionData{Add: snapshot})
	if err == nil {
		err = w.send(ctx, msg)
	}
	if err != nil {
		s.log.Warn("could not replay subscriptions", "error", err)
		return
	}
	s.log.Info("replayed subscriptions", "count", s.registry.Len())
}

// reconnect replaces a failed connection according to the reconnect policy.
// A rejected handshake or an invalid session ends the attempts.
func (s *Streamer) reconnect(ctx context.Context, cause error) (*conn, error) {
	p := s.opts.reconnect
	if !p.Enabled {
		return nil, cause
	}

	for attempt := 0; p.MaxRetries == 0 || attempt < p.MaxRetries; attempt++ {
		s.metrics.reconnectAttempt()
		delay := p.delay(attempt)
		s.log.Info("reconnecting to quote feed", "attempt", attempt+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		c, err := s.connect(ctx)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrHandshakeRejected) || errors.Is(err, tastyworks.ErrSessionInvalid) {
			return nil, err
		}
		s.log.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
		cause = err
	}
	return nil, fmt.Errorf("giving up after %d reconnect attempts: %w", p.MaxRetries, cause)
}

func (s *Streamer) fail(err error) {
	if !errors.Is(err, ErrTransportFault) {
		err = fmt.Errorf("%w: %w", ErrTransportFault, err)
	}
	s.log.Error("quote streamer stopped", "error", err)
	s.mu.Lock()
	s.err = err
	s.state = Faulted
	s.mu.Unlock()
	s.metrics.setState(Faulted)
}

func (s *Streamer) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.metrics.setState(st)
	if prev != st {
		s.log.Debug("state changed", "from", prev.String(), "to", st.String())
	}
}

func (s *Streamer) setLink(w *writer, clientID string) {
	s.mu.Lock()
	s.writer = w
	s.clientID = clientID
	s.mu.Unlock()
}

func (s *Streamer) link() (*writer, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writer, s.clientID
}

func (s *Streamer) send(ctx context.Context, data dxfeed.SubscriptionData) error {
	if s.closed.Load() {
		return ErrClosed
	}
	w, clientID := s.link()
	if w == nil {
		return ErrNotConnected
	}
	msg, err := dxfeed.SubscriptionMessage(clientID, data)
	if err != nil {
		return err
	}
	return w.send(ctx, msg)
}

// Subscribe adds symbols for eventType to the registry and asks the feed for
// them. Subscribing twice is harmless. The registry keeps the symbols even
// if the request cannot be sent, so they are replayed on reconnect.
func (s *Streamer) Subscribe(ctx context.Context, eventType string, symbols ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(symbols) == 0 {
		return nil
	}
	s.registry.Add(eventType, symbols...)
	if err := s.send(ctx, dxfeed.SubscriptionData{Add: map[string][]string{eventType: symbols}}); err != nil {
		return fmt.Errorf("subscribing to %s %v: %w", eventType, symbols, err)
	}
	s.log.Debug("subscribed", "type", eventType, "symbols", symbols)
	return nil
}

// Unsubscribe removes symbols for eventType. The registry is updated before
// the request is sent, so the symbols are gone locally even when sending
// fails. The feed's handling of removals is best effort; failures are logged
// and returned.
func (s *Streamer) Unsubscribe(ctx context.Context, eventType string, symbols ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(symbols) == 0 {
		return nil
	}
	s.registry.Remove(eventType, symbols...)
	if err := s.send(ctx, dxfeed.SubscriptionData{Remove: map[string][]string{eventType: symbols}}); err != nil {
		s.log.Warn("unsubscribe failed", "type", eventType, "symbols", symbols, "error", err)
		return fmt.Errorf("unsubscribing from %s %v: %w", eventType, symbols, err)
	}
	return nil
}

// ResetSubscriptions drops every subscription locally and on the feed.
func (s *Streamer) ResetSubscriptions(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.registry.Reset()
	if err := s.send(ctx, dxfeed.SubscriptionData{Reset: true}); err != nil {
		return fmt.Errorf("resetting subscriptions: %w", err)
	}
	return nil
}

// Subscriptions returns the current registry contents.
func (s *Streamer) Subscriptions() map[string][]string {
	return s.registry.Snapshot()
}

// StreamerToken returns the feed token, refreshing it when stale.
func (s *Streamer) StreamerToken(ctx context.Context) (string, error) {
	data, err := s.endpoint.get(ctx)
	if err != nil {
		return "", err
	}
	return data.Token, nil
}

// Events returns the event stream. It is closed once the streamer stops,
// after Close or an unrecovered fault; Err tells the two apart.
func (s *Streamer) Events() <-chan dxfeed.Event {
	return s.events
}

// Done is closed when the streamer has stopped.
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}

// Err returns the fault that stopped the streamer, wrapping
// ErrTransportFault, or nil.
func (s *Streamer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// State returns the current connection state.
func (s *Streamer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Close stops the keep-alive and the writer, then closes the transport and
// waits for the read loop. It is safe to call more than once.
func (s *Streamer) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.log.Info("closing quote streamer")
		s.cancel()
		<-s.done
		s.setState(Closed)
	})
	return nil
}
