package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorEvictsAfterTwoMissedProbes(t *testing.T) {
	f := newFixture(t, PolicyMulti, RouterOptions{})
	stale := f.registered(t, "A")
	monitor := NewMonitor(f.hub, time.Minute, nil, nil)

	assert.Equal(t, 0, monitor.Sweep(), "first tick only probes")
	assert.True(t, stale.IsOpen())
	assert.False(t, stale.Alive())

	assert.Equal(t, 1, monitor.Sweep())
	assert.False(t, stale.IsOpen())
	assert.Empty(t, f.registry.Recipients("A"))
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, 0, f.hub.Len())
}

func TestMonitorKeepsAcknowledgingConnections(t *testing.T) {
	f := newFixture(t, PolicyMulti, RouterOptions{})
	healthy := f.registered(t, "A")
	unregistered := f.open(t)
	monitor := NewMonitor(f.hub, time.Minute, nil, nil)

	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, monitor.Sweep())
		healthy.MarkAlive()
		unregistered.MarkAlive()
	}

	assert.True(t, healthy.IsOpen())
	assert.True(t, unregistered.IsOpen())
	assert.Equal(t, []*Conn{healthy}, f.registry.Recipients("A"))
}

func TestMonitorGraceIsOneInterval(t *testing.T) {
	f := newFixture(t, PolicyMulti, RouterOptions{})
	c := f.registered(t, "A")
	monitor := NewMonitor(f.hub, time.Minute, nil, nil)

	monitor.Sweep()
	monitor.Sweep()
	require.False(t, c.IsOpen())

	late := f.registered(t, "A")
	monitor.Sweep()
	late.MarkAlive()
	monitor.Sweep()
	assert.True(t, late.IsOpen(), "an acknowledgement between ticks resets the cycle")
	monitor.Sweep()
	assert.False(t, late.IsOpen())
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	f := newFixture(t, PolicyMulti, RouterOptions{})
	c := f.registered(t, "A")
	monitor := NewMonitor(f.hub, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	require.Eventually(t, func() bool { return !c.IsOpen() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.registry.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorDefaultInterval(t *testing.T) {
	monitor := NewMonitor(nil, 0, nil, nil)
	assert.Equal(t, DefaultPingInterval, monitor.Interval())
}
