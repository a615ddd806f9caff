package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/galpt/go-cfer/internal/config"
	"github.com/galpt/go-cfer/internal/logging"
	"github.com/galpt/go-cfer/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	cmd := newRootCmd(cfg, func(cfg *config.Config) runner {
		logger := logging.NewLogger(cfg.Debug)
		if cfg.DryRun {
			logger.Infof("Running in dry-run mode")
		}
		return worker.New(worker.Options{Logger: logger, DryRun: cfg.DryRun})
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
