// Package metrics defines the Prometheus instruments exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for routed envelopes.
const (
	OutcomeOK          = "ok"
	OutcomeInvalid     = "invalid"
	OutcomeOffline     = "offline"
	OutcomeUnsupported = "unsupported"
	OutcomeRejected    = "rejected"
)

// Metrics holds the relay's Prometheus instruments. A nil *Metrics is valid
// and records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	ConnectionsOpen  prometheus.Gauge
	IdentitiesOnline prometheus.Gauge
	EnvelopesRouted  *prometheus.CounterVec
	Deliveries       prometheus.Counter
	FramesDropped    prometheus.Counter
	Evictions        prometheus.Counter
	Replacements     prometheus.Counter
}

// New creates the relay metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "geniustalk_connections_open",
			Help: "Number of WebSocket connections currently open",
		}),
		IdentitiesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "geniustalk_identities_online",
			Help: "Number of distinct phone numbers with at least one open connection",
		}),
		EnvelopesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geniustalk_envelopes_routed_total",
			Help: "Inbound envelopes processed, by type and outcome",
		}, []string{"type", "outcome"}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "geniustalk_deliveries_total",
			Help: "Message envelopes queued to recipient connections",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "geniustalk_frames_dropped_total",
			Help: "Outbound frames dropped because a send queue was full",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "geniustalk_liveness_evictions_total",
			Help: "Connections terminated after missing liveness probes",
		}),
		Replacements: factory.NewCounter(prometheus.CounterOpts{
			Name: "geniustalk_connection_replacements_total",
			Help: "Connections closed because a newer one registered the same phone number",
		}),
	}
}

// ObserveRouted counts one processed envelope.
func (m *Metrics) ObserveRouted(envelopeType, outcome string) {
	if m == nil {
		return
	}
	if envelopeType == "" {
		envelopeType = "unknown"
	}
	m.EnvelopesRouted.WithLabelValues(envelopeType, outcome).Inc()
}

// AddDeliveries records n messages queued to recipients.
func (m *Metrics) AddDeliveries(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Deliveries.Add(float64(n))
}

// IncrementFramesDropped records one frame lost to a full send queue.
func (m *Metrics) IncrementFramesDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// IncrementEvictions records one liveness eviction.
func (m *Metrics) IncrementEvictions() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

// IncrementReplacements records one connection displaced by re-registration.
func (m *Metrics) IncrementReplacements() {
	if m == nil {
		return
	}
	m.Replacements.Inc()
}

// SetConnectionsOpen publishes the open connection count.
func (m *Metrics) SetConnectionsOpen(n int) {
	if m == nil {
		return
	}
	m.ConnectionsOpen.Set(float64(n))
}

// SetIdentitiesOnline publishes the online identity count.
func (m *Metrics) SetIdentitiesOnline(n int) {
	if m == nil {
		return
	}
	m.IdentitiesOnline.Set(float64(n))
}
