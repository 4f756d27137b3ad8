package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRouted("message", OutcomeOK)
		m.AddDeliveries(3)
		m.IncrementFramesDropped()
		m.IncrementEvictions()
		m.IncrementReplacements()
		m.SetConnectionsOpen(1)
		m.SetIdentitiesOnline(1)
	})
}

func TestMetricsRecordValues(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRouted("message", OutcomeOK)
	m.ObserveRouted("message", OutcomeOK)
	m.ObserveRouted("", OutcomeInvalid)
	m.AddDeliveries(2)
	m.AddDeliveries(0)
	m.IncrementEvictions()
	m.SetConnectionsOpen(4)
	m.SetIdentitiesOnline(3)

	assert.InDelta(t, 2, testutil.ToFloat64(m.EnvelopesRouted.WithLabelValues("message", OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EnvelopesRouted.WithLabelValues("unknown", OutcomeInvalid)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Deliveries), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Evictions), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.ConnectionsOpen), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.IdentitiesOnline), 0)
}
