// Command poold runs the application pool manager as a daemon: it wires a
// Pool to a concrete process spawner and restart probe, serves the admin
// HTTP surface, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipeops/apppool/pkg/adminserver"
	"github.com/pipeops/apppool/pkg/config"
	"github.com/pipeops/apppool/pkg/metrics"
	"github.com/pipeops/apppool/pkg/pool"
	"github.com/pipeops/apppool/pkg/restartprobe"
	"github.com/pipeops/apppool/pkg/spawner"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env and defaults apply otherwise)")
	adminAddr := flag.String("admin-addr", ":8081", "address for the admin HTTP surface")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := newLogger(cfg.Log)

	var collector *metrics.Collector
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		metricsHandler = collector.Handler()
	}

	sp := spawner.New(spawner.Config{
		Command:        cfg.Spawner.Command,
		Args:           cfg.Spawner.Args,
		StartupTimeout: cfg.Spawner.StartupTimeout,
		ShutdownGrace:  cfg.Spawner.ShutdownGrace,
	}, log)

	probe := restartprobe.New(log)

	var m pool.Metrics
	if collector != nil {
		m = collector
	}

	p, err := pool.New(sp, probe, log, m, pool.Config{
		Max:             cfg.Pool.Max,
		MaxPerApp:       cfg.Pool.MaxPerApp,
		UseGlobalQueue:  cfg.Pool.UseGlobalQueue,
		MaxIdleTime:     cfg.Pool.MaxIdleTime,
		CleanInterval:   cfg.Pool.CleanInterval,
		MinIdlePerApp:   cfg.Pool.MinIdlePerApp,
		WarmInterval:    cfg.Pool.WarmInterval,
		WarmConcurrency: cfg.Pool.WarmConcurrency,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to construct pool")
	}

	admin := adminserver.New(p, p, log, metricsHandler)
	server := &http.Server{Addr: *adminAddr, Handler: admin.Router}

	go func() {
		log.WithField("addr", *adminAddr).Info("admin surface listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = server.Shutdown(ctx)
	if err := p.Shutdown(ctx); err != nil {
		log.WithError(err).Error("errors draining pool on shutdown")
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
