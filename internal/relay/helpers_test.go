package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	registry *Registry
	router   *Router
	hub      *Hub
}

func newFixture(t *testing.T, policy Policy, opts RouterOptions) *fixture {
	t.Helper()
	registry := NewRegistry(policy, nil, nil)
	router := NewRouter(registry, opts, nil, nil)
	hub := NewHub(registry, router, DefaultConnOptions(), nil, nil)
	return &fixture{registry: registry, router: router, hub: hub}
}

func (f *fixture) open(t *testing.T) *Conn {
	t.Helper()
	c, err := f.hub.Open(nil, "127.0.0.1:0")
	require.NoError(t, err)
	return c
}

// registered opens a connection, registers phone and discards the info reply.
func (f *fixture) registered(t *testing.T, phone string) *Conn {
	t.Helper()
	c := f.open(t)
	f.router.Dispatch(c, Envelope{Type: TypeRegister, Phone: phone})
	env := nextEnvelope(t, c)
	require.Equal(t, TypeInfo, env.Type)
	return c
}

func nextEnvelope(t *testing.T, c *Conn) Envelope {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(time.Second):
		t.Fatalf("no frame queued for %s", c.ID())
		return Envelope{}
	}
}

func nextFrame(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		return frame
	case <-time.After(time.Second):
		t.Fatalf("no frame queued for %s", c.ID())
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		t.Fatalf("unexpected frame for %s: %s", c.ID(), frame)
	default:
	}
}
