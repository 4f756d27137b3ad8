// Package relay defines the wire envelope exchanged with clients and the
// helpers that build outbound frames.
package relay

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Envelope types.
const (
	TypeRegister = "register"
	TypeMessage  = "message"
	TypeInfo     = "info"
	TypeReply    = "reply"
	TypeError    = "error"
	TypeSystem   = "system"
)

// Error texts sent back to clients.
const (
	TextPhoneRequired    = "phone number required"
	TextInvalidFormat    = "invalid message format"
	TextRateLimited      = "rate limit exceeded"
	TextNotRegistered    = "register before sending messages"
	TextSenderMismatch   = "sender does not match registered identity"
	TextConnReplaced     = "connection replaced"
	TextServerShutdown   = "server shutting down"
	missingFieldsPrefix  = "missing required fields: "
	unrecognizedTypeText = "unrecognized type"
)

// CloseReplaced is the WebSocket close code sent to a connection displaced by
// a newer registration of the same phone number.
const CloseReplaced = 4000

// Envelope is the JSON object carried by every frame, in both directions.
type Envelope struct {
	Type  string `json:"type"`
	Phone string `json:"phone,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Text  string `json:"text,omitempty"`
}

// DecodeEnvelope parses one inbound frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Encode marshals the envelope into a frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// missingMessageFields lists the required message fields that are empty, in
// wire order.
func (e Envelope) missingMessageFields(requireFrom bool) []string {
	var missing []string
	if requireFrom && e.From == "" {
		missing = append(missing, "from")
	}
	if e.To == "" {
		missing = append(missing, "to")
	}
	if e.Text == "" {
		missing = append(missing, "text")
	}
	return missing
}

func infoEnvelope(text string) Envelope   { return Envelope{Type: TypeInfo, Text: text} }
func replyEnvelope(text string) Envelope  { return Envelope{Type: TypeReply, Text: text} }
func errorEnvelope(text string) Envelope  { return Envelope{Type: TypeError, Text: text} }
func systemEnvelope(text string) Envelope { return Envelope{Type: TypeSystem, Text: text} }

func deliveryEnvelope(from, text string) Envelope {
	return Envelope{Type: TypeMessage, From: from, Text: text}
}

func missingFieldsText(fields []string) string {
	return missingFieldsPrefix + strings.Join(fields, ", ")
}

func unrecognizedText(envelopeType string) string {
	if envelopeType == "" {
		return unrecognizedTypeText
	}
	return unrecognizedTypeText + " " + `"` + envelopeType + `"`
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
