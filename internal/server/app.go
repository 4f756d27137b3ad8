// Package server assembles the relay components from a Config.
package server

import (
	"context"
	"log/slog"

	"github.com/Tyrowin/geniustalk/internal/metrics"
	"github.com/Tyrowin/geniustalk/internal/relay"
)

// App bundles the relay core built from one configuration.
type App struct {
	Config   Config
	Registry *relay.Registry
	Router   *relay.Router
	Hub      *relay.Hub
	Monitor  *relay.Monitor
}

// NewApp wires registry, router, hub and monitor. cfg must be sanitized.
func NewApp(cfg Config, logger *slog.Logger, m *metrics.Metrics) *App {
	registry := relay.NewRegistry(cfg.Policy(), logger, m)
	router := relay.NewRouter(registry, relay.RouterOptions{DeriveSender: cfg.DeriveSender}, logger, m)
	hub := relay.NewHub(registry, router, cfg.ConnOptions(), logger, m)
	monitor := relay.NewMonitor(hub, cfg.PingInterval, logger, m)

	logger.Info("relay configured",
		"policy", cfg.Policy().String(),
		"overflow", cfg.SendOverflow,
		"ping_interval", cfg.PingInterval,
		"derive_sender", cfg.DeriveSender)

	return &App{
		Config:   cfg,
		Registry: registry,
		Router:   router,
		Hub:      hub,
		Monitor:  monitor,
	}
}

// RunMonitor runs the liveness monitor until ctx is done.
func (a *App) RunMonitor(ctx context.Context) error {
	return a.Monitor.Run(ctx)
}

// Shutdown closes every client connection.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Hub.Shutdown(ctx)
}
