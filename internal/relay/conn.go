// Package relay manages individual WebSocket connections: the bounded
// outbound queue, the read and write pumps, liveness state and the single
// close path every connection goes through.
package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/geniustalk/internal/metrics"
)

var (
	// ErrConnClosed is returned when sending to a connection that has started closing.
	ErrConnClosed = errors.New("relay: connection closed")
	// ErrQueueFull is returned when a frame is dropped because the send queue is full.
	ErrQueueFull = errors.New("relay: send queue full")
)

// OverflowPolicy decides which frame is lost when a send queue is full.
type OverflowPolicy int

const (
	// DropNewest discards the frame being sent.
	DropNewest OverflowPolicy = iota
	// DropOldest discards the oldest queued frame to make room.
	DropOldest
)

// ParseOverflowPolicy accepts "drop-newest" or "drop-oldest".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop-newest", "drop-new", "":
		return DropNewest, nil
	case "drop-oldest", "drop-old":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

func (p OverflowPolicy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "drop-newest"
}

// ConnOptions tunes each connection the Hub opens.
type ConnOptions struct {
	SendQueueSize  int
	Overflow       OverflowPolicy
	MaxMessageSize int64
	WriteTimeout   time.Duration
	// PongWait bounds how long a read may block without any inbound frame or
	// pong. Zero disables the read deadline and leaves staleness entirely to
	// the Monitor.
	PongWait  time.Duration
	RateLimit RateLimit
}

// DefaultConnOptions returns the options used when none are configured.
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		SendQueueSize:  256,
		Overflow:       DropNewest,
		MaxMessageSize: 4096,
		WriteTimeout:   10 * time.Second,
		PongWait:       70 * time.Second,
		RateLimit:      RateLimit{Burst: 20, RefillInterval: time.Second},
	}
}

func (o ConnOptions) sanitized() ConnOptions {
	def := DefaultConnOptions()
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = def.SendQueueSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PongWait < 0 {
		o.PongWait = 0
	}
	return o
}

// Conn is one live client session. The transport may be nil, in which case
// frames accumulate in the outbound queue and can be read from Outbound.
type Conn struct {
	id      string
	addr    string
	ws      *websocket.Conn
	opts    ConnOptions
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rateLimiter

	sendMu sync.Mutex
	send   chan []byte

	alive  atomic.Bool
	closed atomic.Bool
	abrupt atomic.Bool

	mu          sync.Mutex
	identity    string
	closeCode   int
	closeReason string

	closeOnce sync.Once
	done      chan struct{}
	release   func(*Conn)
}

func newConn(ws *websocket.Conn, addr string, opts ConnOptions, logger *slog.Logger, m *metrics.Metrics, release func(*Conn)) *Conn {
	opts = opts.sanitized()
	id := uuid.NewString()
	c := &Conn{
		id:      id,
		addr:    addr,
		ws:      ws,
		opts:    opts,
		logger:  logger.With("conn", id, "addr", addr),
		metrics: m,
		limiter: newRateLimiter(opts.RateLimit),
		send:    make(chan []byte, opts.SendQueueSize),
		done:    make(chan struct{}),
		release: release,
	}
	c.alive.Store(true)
	return c
}

// ID returns the internal connection identifier. It is never sent to clients.
func (c *Conn) ID() string { return c.id }

// Addr returns the remote address the connection was accepted from.
func (c *Conn) Addr() string { return c.addr }

// Identity returns the phone number bound by the last register envelope, or
// "" when the connection is unregistered.
func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conn) setIdentity(identity string) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

// IsOpen reports whether the close path has not started yet.
func (c *Conn) IsOpen() bool { return !c.closed.Load() }

// Alive reports the liveness flag.
func (c *Conn) Alive() bool { return c.alive.Load() }

// MarkAlive records a probe acknowledgement.
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// Outbound returns the queue of encoded frames waiting to be written.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} { return c.done }

// CloseStatus returns the close code and reason recorded by the close path.
func (c *Conn) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Send queues an encoded frame without blocking. The overflow policy applies
// when the queue is full.
func (c *Conn) Send(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.IsOpen() {
		return ErrConnClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
	}

	c.metrics.IncrementFramesDropped()
	if c.opts.Overflow == DropNewest {
		c.logger.Warn("send queue full; dropping frame", "queue", cap(c.send))
		return ErrQueueFull
	}

	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
		c.logger.Warn("send queue full; dropped oldest frame", "queue", cap(c.send))
		return nil
	default:
		return ErrQueueFull
	}
}

// SendEnvelope encodes env and queues it.
func (c *Conn) SendEnvelope(env Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return c.Send(frame)
}

// Close starts the graceful close path: queued frames are flushed and a close
// frame with code and reason is written before the transport is released.
// Only the first call to Close or Terminate has any effect.
func (c *Conn) Close(code int, reason string) {
	c.shutdown(code, reason, false)
}

// Terminate closes the transport immediately without a close handshake.
func (c *Conn) Terminate() {
	c.shutdown(websocket.CloseAbnormalClosure, "terminated", true)
	if c.ws != nil {
		c.closeTransport()
	}
}

func (c *Conn) shutdown(code int, reason string, abrupt bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()

		c.abrupt.Store(abrupt)
		c.closed.Store(true)
		close(c.done)

		if c.release != nil {
			c.release(c)
		}
	})
}

// probe sends a liveness ping. WriteControl is safe to call concurrently
// with the write pump.
func (c *Conn) probe() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
}

func (c *Conn) extendReadDeadline() {
	var deadline time.Time
	if c.opts.PongWait > 0 {
		deadline = time.Now().Add(c.opts.PongWait)
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		c.logger.Debug("error setting read deadline", "error", err)
	}
}

// readPump is the ingress loop: frames are handed to route in arrival order
// until the transport fails or the connection is closed.
func (c *Conn) readPump(route func(*Conn, []byte)) {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.MarkAlive()
		c.extendReadDeadline()
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.extendReadDeadline()

		if !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded; discarding frame",
				"burst", c.opts.RateLimit.Burst, "interval", c.opts.RateLimit.RefillInterval)
			_ = c.SendEnvelope(errorEnvelope(TextRateLimited))
			continue
		}

		route(c, raw)
	}
}

func (c *Conn) logReadError(err error) {
	if !c.IsOpen() {
		c.logger.Debug("read stopped after close", "error", err)
		return
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "limit", c.opts.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info("client disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.logger.Warn("unexpected websocket close", "error", err)
	default:
		c.logger.Info("websocket read error", "error", err)
	}
}

func (c *Conn) writePump() {
	defer c.closeTransport()

	for {
		select {
		case <-c.done:
			if !c.abrupt.Load() {
				c.flush()
				c.writeClose()
			}
			return
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("error writing frame", "error", err)
				}
				c.shutdown(websocket.CloseAbnormalClosure, "write failed", true)
				return
			}
		}
	}
}

func (c *Conn) write(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// flush writes whatever is still queued, stopping at the first failure.
func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writeClose() {
	code, reason := c.CloseStatus()
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout)); err != nil {
		if !isExpectedCloseError(err) && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("error writing close frame", "error", err)
		}
	}
}

func (c *Conn) closeTransport() {
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error closing transport", "error", err)
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
