// Package relay implements the connection registry and message-routing engine
// behind the GeniusTalk server.
//
// Clients connect over WebSocket, register a phone number and exchange short
// text messages addressed by phone number. The Hub accepts connections and
// runs their pumps, the Registry maps phone numbers to live connections, the
// Router validates envelopes and delivers them, and the Monitor evicts
// connections that stop answering liveness probes. Nothing is persisted:
// messages to an identity with no open connection are rejected, not queued.
package relay
