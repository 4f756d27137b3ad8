// Package server implements the HTTP surface around the relay core.
//
// The implementation is organized into specialized files for configuration,
// origin checks, handlers, routing and server lifecycle. The relay itself
// (registry, router, hub, liveness monitor) lives in internal/relay; this
// package only builds it from configuration and calls into it.
package server
