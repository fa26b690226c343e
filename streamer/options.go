package streamer

import (
	"log/slog"
	"math"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHandshakeTimeout bounds dialing plus the handshake exchange.
	DefaultHandshakeTimeout = 5 * time.Second
	// DefaultEventBuffer is the capacity of the Events channel.
	DefaultEventBuffer = 256
)

// ReconnectPolicy controls automatic reconnection after a transport fault.
// The zero value disables reconnection.
type ReconnectPolicy struct {
	Enabled bool `yaml:"enabled"`
	// MaxRetries is the number of consecutive attempts; 0 means unlimited.
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// DefaultReconnectPolicy returns an enabled policy with exponential backoff
// from one second up to a minute.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:         true,
		MaxRetries:      10,
		InitialInterval: 1 * time.Second,
		MaxInterval:     60 * time.Second,
		Multiplier:      2.0,
	}
}

// delay returns the wait before the given zero-based attempt:
// initial * multiplier^attempt, capped at MaxInterval.
func (p ReconnectPolicy) delay(attempt int) time.Duration {
	initial := p.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 60 * time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2.0
	}
	d := float64(initial) * math.Pow(mult, float64(attempt))
	if d > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(d)
}

type options struct {
	log              *slog.Logger
	handshakeTimeout time.Duration
	keepAlive        time.Duration
	reconnect        ReconnectPolicy
	metrics          *Metrics
	dialer           *websocket.Dialer
	eventBuffer      int
}

func defaultOptions() options {
	return options{
		log:              slog.Default(),
		handshakeTimeout: DefaultHandshakeTimeout,
		dialer:           websocket.DefaultDialer,
		eventBuffer:      DefaultEventBuffer,
	}
}

// Option configures a Streamer or an AccountStreamer.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithHandshakeTimeout bounds dialing and the handshake exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithKeepAlive overrides the keep-alive period. For the quote feed it is
// only honoured when shorter than the timeout advised by the server.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.keepAlive = d
		}
	}
}

// WithReconnect enables reconnect-with-resubscribe according to p.
func WithReconnect(p ReconnectPolicy) Option {
	return func(o *options) { o.reconnect = p }
}

// WithMetrics records connection metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.eventBuffer = n
		}
	}
}
