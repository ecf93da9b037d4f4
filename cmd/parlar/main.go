// Command parlar runs a live voice conversation against a realtime
// speech service, with local turn-taking and barge-in coordination.
//
// Usage:
//
//	OPENAI_API_KEY=sk-... parlar [-config config.yaml]
//
// Press 'i' to interrupt the assistant, 'q' to quit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harunnryd/parlar/pkg/errorsx"
	"github.com/harunnryd/parlar/pkg/parlar"
	"github.com/harunnryd/parlar/pkg/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when omitted)")
	flag.Parse()

	cfg, err := parlar.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parlar:", err)
		return 2
	}

	engine, err := parlar.NewEngine(parlar.EngineOptions{Config: cfg})
	if err != nil {
		fmt.Fprintln(os.Stderr, "parlar:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	life := runner.NewLifecycleRunner(engine, runner.Hooks{
		OnStop: func() { slog.Info("parlar_stopped") },
	}, 10*time.Second)

	errc := make(chan error, 1)
	go func() {
		errc <- engine.Run(ctx)
		_ = life.Stop()
	}()

	if err := life.Run(ctx); err != nil && !errors.Is(err, runner.ErrDrainTimeout) {
		slog.Warn("shutdown_incomplete", "error", err.Error())
	}

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session_failed",
			"error", err.Error(),
			"reason", string(errorsx.Reason(err)),
			"fatal", errorsx.FatalErr(err),
		)
		return 1
	}
	return 0
}
