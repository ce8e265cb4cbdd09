// Package main provides the worker process entry point: it wires a
// broker/backend pair selected by config, the task registry, router, and
// filter chain, then runs the executor pool until a shutdown signal
// arrives. Grounded on the teacher's cmd/worker/main.go bootstrap shape
// (config → logger → metrics → tracing → infra → consumer loop →
// signal-based graceful shutdown).
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

	"github.com/fairyhunter13/taskqueue/internal/bootstrap"
	"github.com/fairyhunter13/taskqueue/internal/config"
	"github.com/fairyhunter13/taskqueue/internal/delay"
	"github.com/fairyhunter13/taskqueue/internal/demotasks"
	"github.com/fairyhunter13/taskqueue/internal/executor"
	"github.com/fairyhunter13/taskqueue/internal/filter"
	"github.com/fairyhunter13/taskqueue/internal/observability"
	"github.com/fairyhunter13/taskqueue/internal/ratelimit"
	"github.com/fairyhunter13/taskqueue/internal/registry"
	"github.com/fairyhunter13/taskqueue/internal/serializer"
	"github.com/fairyhunter13/taskqueue/internal/signalbus"
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
		if err := http.ListenAndServe(":9090", mux); err != nil {
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
	logger.Info("starting worker", slog.String("env", cfg.AppEnv), slog.String("broker", cfg.Broker), slog.String("backend", cfg.Backend))

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

	locks := bootstrap.LockStore(cfg, infra)
	revocations := bootstrap.RevocationStore(cfg, infra)

	typeRegistry := serializer.NewTypeRegistry()
	ser := serializer.NewJSON(typeRegistry)

	taskRegistry := registry.New()
	demotasks.Register(taskRegistry, typeRegistry)

	bus := signalbus.New()
	delayDispatcher := delay.NewDispatcher(brk, cfg.DelayTickInterval)
	go delayDispatcher.Run(ctx)

	var preFilters []filter.PreFilter
	if infra.Redis != nil {
		limiter := ratelimit.New(infra.Redis, map[string]ratelimit.BucketConfig{
			"echo": ratelimit.PerMinute(600),
		})
		preFilters = append(preFilters, limiter.PreFilter())
	}
	chain := filter.NewChain(preFilters, nil, nil)

	exec := executor.New(
		executor.Config{
			Concurrency:                    cfg.Concurrency,
			Queues:                         cfg.Queues,
			ShutdownGrace:                  cfg.ShutdownGrace,
			PartitionLockDefaultTTL:        cfg.PartitionLockDefaultTTL,
			Retry:                          cfg.RetryConfig(),
			CircuitBreakerMaxFailures:      cfg.CircuitBreakerMaxFailures,
			CircuitBreakerTimeout:          cfg.CircuitBreakerTimeout,
			CircuitBreakerSuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			BackendTimeoutBase:             cfg.BackendTimeoutBase,
			BackendTimeoutMin:              cfg.BackendTimeoutMin,
			BackendTimeoutMax:              cfg.BackendTimeoutMax,
		},
		brk, be, taskRegistry, ser, locks, revocations, chain, bus, delayDispatcher, logger,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- exec.Run(runCtx) }()

	logger.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", slog.String("signal", sig.String()))
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("executor stopped with error", slog.Any("error", err))
		}
	}

	logger.Info("worker stopped")
}
