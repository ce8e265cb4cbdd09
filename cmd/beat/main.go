// Package main provides the beat process entry point: the periodic
// scheduler that fires cron and interval schedule entries onto a broker
// (spec §4.13), run as a process separate from the worker pool the same
// way celery beat is a distinct process from celery worker.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/taskqueue/internal/beat"
	"github.com/fairyhunter13/taskqueue/internal/bootstrap"
	"github.com/fairyhunter13/taskqueue/internal/config"
	"github.com/fairyhunter13/taskqueue/internal/observability"
	"github.com/fairyhunter13/taskqueue/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	metricsReg := prometheus.NewRegistry()
	observability.MustRegister(metricsReg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(":9091", mux); err != nil {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		logger.Error("tracing setup failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	logger.Info("starting beat", slog.String("env", cfg.AppEnv), slog.String("broker", cfg.Broker))

	infra, err := bootstrap.Connect(ctx, cfg)
	if err != nil {
		logger.Error("infra connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer infra.Close()

	brk, err := bootstrap.Broker(cfg, infra)
	if err != nil {
		logger.Error("broker init failed", slog.Any("error", err))
		os.Exit(1)
	}

	be, err := bootstrap.Backend(cfg, infra)
	if err != nil {
		logger.Error("backend init failed", slog.Any("error", err))
		os.Exit(1)
	}

	rt := router.New(cfg.Queues[0])

	sched := beat.New(beat.Config{
		TickInterval:       cfg.BeatTickInterval,
		Jitter:             cfg.BeatJitter,
		PersistState:       cfg.BeatPersistState,
		StatePath:          cfg.BeatStatePath,
		RunMissedOnStartup: cfg.BeatRunMissedOnStartup,
	}, brk, be, rt, logger)

	if err := sched.AddCron("heartbeat", "*/1 * * * *", "ping", nil, cfg.Queues[0], 0, nil); err != nil {
		logger.Error("beat add_cron failed", slog.Any("error", err))
		os.Exit(1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(runCtx) }()

	logger.Info("beat started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", slog.String("signal", sig.String()))
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("beat scheduler stopped with error", slog.Any("error", err))
		}
	}

	logger.Info("beat stopped")
}
