package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"estimator/pkg/app"
)

// main exposes a root-level entry point so operators can simply run `go run estimator.go`.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args[1:], nil); err != nil {
		slog.Error("application stopped with error", "error", err)
		os.Exit(1)
	}
}
