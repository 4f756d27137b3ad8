package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/geniustalk/internal/logger"
	"github.com/Tyrowin/geniustalk/internal/metrics"
	"github.com/Tyrowin/geniustalk/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "geniustalk: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting GeniusTalk relay")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	app := server.NewApp(*cfg, log, m)
	handlers := server.NewHandlers(app, log)
	mux := server.SetupRoutes(handlers, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := server.CreateServer(cfg.Port, mux)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})
	g.Go(func() error {
		return app.RunMonitor(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received")

		httpErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)

		hubCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(hubCtx); err != nil {
			log.Warn("hub shutdown incomplete", "error", err)
		}
		return httpErr
	})

	return g.Wait()
}
