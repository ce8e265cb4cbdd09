// Package main is a small demo client exercising the root taskqueue.Send
// API end to end: it submits an "echo" task against whichever broker and
// result backend config selects and waits for the result. Run a worker
// process against the same broker/backend first so there's something to
// consume the task.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fairyhunter13/taskqueue"
	"github.com/fairyhunter13/taskqueue/internal/bootstrap"
	"github.com/fairyhunter13/taskqueue/internal/config"
	"github.com/fairyhunter13/taskqueue/internal/demotasks"
	"github.com/fairyhunter13/taskqueue/internal/dispatch"
	"github.com/fairyhunter13/taskqueue/internal/observability"
	"github.com/fairyhunter13/taskqueue/internal/router"
	"github.com/fairyhunter13/taskqueue/internal/serializer"
)

func main() {
	message := flag.String("message", "hello from the demo client", "message to echo")
	timeout := flag.String("timeout", "10s", "how long to wait for the result")
	flag.Parse()

	waitFor, err := time.ParseDuration(*timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -timeout:", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()
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
	revocations := bootstrap.RevocationStore(cfg, infra)

	typeRegistry := serializer.NewTypeRegistry()
	serializer.Register[demotasks.EchoInput](typeRegistry, "demotasks.EchoInput")

	rt := router.New(cfg.Queues[0])

	client := &taskqueue.Client{
		Dispatcher:  &dispatch.Dispatcher{Broker: brk, Backend: be, Router: rt},
		Backend:     be,
		Revocations: revocations,
		Serializer:  serializer.NewJSON(typeRegistry),
		Router:      rt,
	}

	result, err := taskqueue.Send[demotasks.EchoInput, demotasks.EchoOutput](ctx, client, "echo", demotasks.EchoInput{Message: *message}, taskqueue.SendOptions{})
	if err != nil {
		logger.Error("send failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("task submitted", slog.String("task_id", result.TaskID))

	out, err := result.Get(ctx, waitFor)
	if err != nil {
		logger.Error("get failed", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Printf("echoed: %s (at %s)\n", out.Message, out.EchoedAt.Format(time.RFC3339))
}
