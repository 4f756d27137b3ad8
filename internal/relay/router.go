// Package relay interprets inbound envelopes and resolves their recipients
// through the Registry.
package relay

import (
	"fmt"
	"log/slog"

	"github.com/Tyrowin/geniustalk/internal/metrics"
)

// RouterOptions tunes envelope handling.
type RouterOptions struct {
	// DeriveSender makes the router stamp outgoing messages with the
	// sender's registered identity instead of trusting the client's from
	// field. Unregistered connections can then no longer send.
	DeriveSender bool
}

// Router validates envelopes and delivers messages. All sends are
// fire-and-forget: a failure to queue to a recipient never fails the
// sender's reply.
type Router struct {
	registry     *Registry
	deriveSender bool
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewRouter creates a router backed by registry.
func NewRouter(registry *Registry, opts RouterOptions, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		registry:     registry,
		deriveSender: opts.DeriveSender,
		logger:       orDiscard(logger),
		metrics:      m,
	}
}

// Route decodes one inbound frame from c and dispatches it. A frame that is
// not a valid envelope is answered with an error and otherwise ignored.
func (rt *Router) Route(c *Conn, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		rt.logger.Debug("invalid frame", "conn", c.ID(), "error", err)
		rt.reject(c, "", metrics.OutcomeInvalid, TextInvalidFormat)
		return
	}
	rt.Dispatch(c, env)
}

// Dispatch handles a decoded envelope.
func (rt *Router) Dispatch(c *Conn, env Envelope) {
	switch env.Type {
	case TypeRegister:
		rt.register(c, env)
	case TypeMessage:
		rt.deliver(c, env)
	default:
		rt.reject(c, "", metrics.OutcomeUnsupported, unrecognizedText(env.Type))
	}
}

func (rt *Router) register(c *Conn, env Envelope) {
	if env.Phone == "" {
		rt.reject(c, TypeRegister, metrics.OutcomeInvalid, TextPhoneRequired)
		return
	}

	rt.registry.Bind(env.Phone, c)
	rt.metrics.ObserveRouted(TypeRegister, metrics.OutcomeOK)
	rt.respond(c, infoEnvelope(fmt.Sprintf("registration successful (%s)", env.Phone)))
}

func (rt *Router) deliver(c *Conn, env Envelope) {
	from, ok := rt.sender(c, env)
	if !ok {
		return
	}
	env.From = from

	if missing := env.missingMessageFields(!rt.deriveSender); len(missing) > 0 {
		rt.reject(c, TypeMessage, metrics.OutcomeInvalid, missingFieldsText(missing))
		return
	}

	recipients := rt.registry.Recipients(env.To)
	if len(recipients) == 0 {
		rt.reject(c, TypeMessage, metrics.OutcomeOffline, env.To+" is offline")
		return
	}

	frame, err := deliveryEnvelope(env.From, env.Text).Encode()
	if err != nil {
		rt.logger.Error("error encoding delivery", "conn", c.ID(), "error", err)
		return
	}

	delivered := 0
	for _, r := range recipients {
		if err := r.Send(frame); err != nil {
			rt.logger.Debug("skipping recipient", "to", env.To, "conn", r.ID(), "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		rt.reject(c, TypeMessage, metrics.OutcomeOffline, env.To+" is offline")
		return
	}

	rt.metrics.ObserveRouted(TypeMessage, metrics.OutcomeOK)
	rt.metrics.AddDeliveries(delivered)
	rt.logger.Info("message delivered", "from", env.From, "to", env.To, "connections", delivered)
	rt.logger.Debug("message body", "from", env.From, "to", env.To, "text", env.Text)

	text := "message sent to " + env.To
	if delivered > 1 {
		text = fmt.Sprintf("%s (%d connections)", text, delivered)
	}
	rt.respond(c, replyEnvelope(text))
}

// sender resolves the from field. With DeriveSender it comes from the
// connection's registered identity.
func (rt *Router) sender(c *Conn, env Envelope) (string, bool) {
	if !rt.deriveSender {
		return env.From, true
	}

	identity := c.Identity()
	switch {
	case identity == "":
		rt.reject(c, TypeMessage, metrics.OutcomeRejected, TextNotRegistered)
		return "", false
	case env.From != "" && env.From != identity:
		rt.reject(c, TypeMessage, metrics.OutcomeRejected, TextSenderMismatch)
		return "", false
	default:
		return identity, true
	}
}

func (rt *Router) reject(c *Conn, envelopeType, outcome, text string) {
	rt.metrics.ObserveRouted(envelopeType, outcome)
	rt.logger.Debug("envelope rejected", "conn", c.ID(), "type", envelopeType, "reason", text)
	rt.respond(c, errorEnvelope(text))
}

func (rt *Router) respond(c *Conn, env Envelope) {
	if err := c.SendEnvelope(env); err != nil {
		rt.logger.Debug("error queueing response", "conn", c.ID(), "type", env.Type, "error", err)
	}
}
