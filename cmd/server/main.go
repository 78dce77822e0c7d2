package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"estimator/pkg/app"
)

// main acts as a thin adapter so existing process managers can keep using cmd/server.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args[1:], nil); err != nil {
		slog.Error("application stopped with error", "error", err)
		os.Exit(1)
	}
}
