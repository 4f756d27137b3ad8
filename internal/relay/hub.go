// Package relay coordinates connection lifecycles for the relay via the Hub
// type: it tracks every open connection, runs the read and write pumps and
// owns the release path that unbinds a connection from the Registry.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/geniustalk/internal/metrics"
)

// ErrHubClosed is returned by Open once Shutdown has started.
var ErrHubClosed = errors.New("relay: hub is shutting down")

// Hub is the ingress side of the relay. Each accepted transport becomes a
// Conn whose read loop feeds the Router; whatever ends the connection
// (client close, transport error, eviction, replacement, shutdown), the
// release hook runs exactly once and removes it from the Hub and the Registry.
type Hub struct {
	registry *Registry
	router   *Router
	opts     ConnOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a hub that routes through router and unbinds from registry.
func NewHub(registry *Registry, router *Router, opts ConnOptions, logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		registry: registry,
		router:   router,
		opts:     opts.sanitized(),
		logger:   orDiscard(logger),
		metrics:  m,
		conns:    make(map[*Conn]struct{}),
	}
}

// Open tracks a new unregistered connection over ws without starting its
// pumps. ws may be nil for connections driven directly through the Router.
func (h *Hub) Open(ws *websocket.Conn, addr string) (*Conn, error) {
	c := newConn(ws, addr, h.opts, h.logger, h.metrics, h.release)

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.conns[c] = struct{}{}
	count := len(h.conns)
	h.mu.Unlock()

	h.metrics.SetConnectionsOpen(count)
	h.logger.Info("connection opened", "conn", c.ID(), "addr", addr, "total", count)
	return c, nil
}

// Serve opens a connection over ws and starts its pumps. It returns once the
// pumps are running; the connection lives until its close path runs.
func (h *Hub) Serve(ws *websocket.Conn, addr string) (*Conn, error) {
	c, err := h.Open(ws, addr)
	if err != nil {
		return nil, err
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump(h.router.Route)
	}()
	return c, nil
}

// Connections returns a snapshot of every open connection, registered or not.
func (h *Hub) Connections() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Registry returns the registry the hub releases connections from.
func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) release(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	count := len(h.conns)
	h.mu.Unlock()

	h.registry.Unbind(c)

	code, reason := c.CloseStatus()
	h.metrics.SetConnectionsOpen(count)
	h.logger.Info("connection closed", "conn", c.ID(), "phone", c.Identity(),
		"code", code, "reason", reason, "total", count)
}

// Shutdown closes every connection with a going-away status and waits for
// their pumps to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down hub")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	conns := h.Connections()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, TextServerShutdown)
	}
	h.logger.Info("closed client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.Terminate()
		}
		h.logger.Warn("hub shutdown timed out; terminated remaining transports")
		return ctx.Err()
	}
}
