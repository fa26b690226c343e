package streamer

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors of the streamers. A nil *Metrics
// records nothing.
type Metrics struct {
	framesReceived    prometheus.Counter
	eventsReceived    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	keepAlivesSent    prometheus.Counter
	reconnectAttempts prometheus.Counter
	state             prometheus.Gauge
	accountEvents     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tastystream",
			Subsystem: "streamer",
			Name:      "frames_received_total",
			Help:      "Total number of frames received from the quote feed",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tastystream",
			Subsystem: "streamer",
			Name:      "events_received_total",
			Help:      "Total number of market events delivered, by event type",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tastystream",
			Subsystem: "streamer",
			Name:      "payloads_dropped_total",
			Help:      "Total number of payloads dropped, by reason",
		}, []string{"reason"}),
		keepAlivesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tastystream",
			Subsystem: "streamer",
			Name:      "keepalives_sent_total",
			Help:      "Total number of keep-alive messages sent",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tastystream",
			Subsystem: "streamer",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnection attempts",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tastystream",
			Subsystem: "streamer",
			Name:      "state",
			Help:      "Connection state of the quote streamer (0=disconnected .. 6=faulted)",
		}),
		accountEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tastystream",
			Subsystem: "account_streamer",
			Name:      "events_received_total",
			Help:      "Total number of account events delivered, by kind",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.framesReceived,
			m.eventsReceived,
			m.framesDropped,
			m.keepAlivesSent,
			m.reconnectAttempts,
			m.state,
			m.accountEvents,
		)
	}
	return m
}

func (m *Metrics) frameReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) eventReceived(eventType string) {
	if m != nil {
		m.eventsReceived.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) payloadDropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) keepAliveSent() {
	if m != nil {
		m.keepAlivesSent.Inc()
	}
}

func (m *Metrics) reconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) accountEvent(kind string) {
	if m != nil {
		m.accountEvents.WithLabelValues(kind).Inc()
	}
}
