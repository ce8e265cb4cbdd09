// Package observability provides structured logging, metrics, tracing, and
// the small resilience primitives (circuit breaker, adaptive timeout) the
// broker and backend adapters use when talking to external systems.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/taskqueue/internal/config"
)

// SetupLogger configures a JSON slog logger tagged with service and env
// fields, matching every process (worker, beat, client) in this module.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
