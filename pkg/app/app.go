package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"estimator/pkg/config"
	"estimator/pkg/estimator"
	"estimator/pkg/material"
	"estimator/pkg/storage"
	"estimator/pkg/telemetry"
	"estimator/pkg/web"
)

// Run builds the estimator command tree and executes it with args. A nil
// logger is built from the configuration.
func Run(ctx context.Context, args []string, logger *slog.Logger) error {
	root := newRootCommand(logger)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runtime carries what every subcommand needs once flags and environment are merged.
type runtime struct {
	base   *slog.Logger
	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand(base *slog.Logger) *cobra.Command {
	rt := &runtime{base: base}

	root := &cobra.Command{
		Use:           "estimator",
		Short:         "Project estimator: materials, prices and a running total",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.serve(cmd.Context())
		},
	}

	f := root.PersistentFlags()
	f.Int("port", 8765, "Port for running the HTTP server when not using --domain")
	f.String("domain", "", "Serve HTTPS on :443 with an ephemeral certificate and redirect :80")
	f.String("storage", storage.BackendFile, "Storage backend: "+strings.Join(storage.Backends(), ", "))
	f.String("storage-path", "", "Data directory (file) or database file (sqlite); defaults to the working directory")
	f.String("storage-key", material.DefaultKey, "Key the estimate is persisted under")
	f.String("locale", estimator.DefaultLocale, "Locale used to format prices")
	f.String("currency", estimator.DefaultCurrency, "ISO 4217 currency used to format prices")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	f.String("log-format", "text", "Log format: text or json")
	f.String("otel-endpoint", "", "OTLP/HTTP endpoint for trace export")

	root.AddCommand(
		newServeCommand(rt),
		newExportCommand(rt),
		newImportCommand(rt),
		newVersionCommand(),
	)
	return root
}

// load reads the environment, lets explicitly set flags win, and validates the result.
func (rt *runtime) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	for name, dst := range map[string]*string{
		"domain":        &cfg.Domain,
		"storage":       &cfg.Storage,
		"storage-path":  &cfg.StoragePath,
		"storage-key":   &cfg.StorageKey,
		"locale":        &cfg.Locale,
		"currency":      &cfg.Currency,
		"log-level":     &cfg.LogLevel,
		"log-format":    &cfg.LogFormat,
		"otel-endpoint": &cfg.OTelEndpoint,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if rt.base != nil {
		logger = rt.base
	}
	rt.cfg = cfg
	rt.logger = logger
	return nil
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// serve composes storage, the store, telemetry and the HTTP server, and runs
// until ctx is cancelled.
func (rt *runtime) serve(ctx context.Context) error {
	cfg, logger := rt.cfg, rt.logger

	shutdownTracing, err := telemetry.SetupTracing(ctx, "estimator", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("unable to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	format, err := estimator.NewFormatter(cfg.Locale, cfg.Currency)
	if err != nil {
		return fmt.Errorf("unable to format prices: %w", err)
	}

	kv, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("unable to open %s storage: %w", cfg.Storage, err)
	}
	defer kv.Close()

	metrics := telemetry.NewMetrics()
	hub := web.NewHub(logger, metrics)

	store, err := material.Open(ctx, kv,
		material.WithKey(cfg.StorageKey),
		material.WithLogger(logger),
		material.WithObserver(metrics),
		material.WithPersistErrorHandler(hub.PersistFailed),
	)
	if err != nil {
		return fmt.Errorf("unable to load the estimate: %w", err)
	}
	defer store.Close()

	srv, err := web.New(ctx, store, web.Options{
		Formatter:  format,
		Metrics:    metrics,
		Logger:     logger,
		Live:       hub,
		SessionTTL: cfg.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("unable to build http server: %w", err)
	}
	defer srv.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go srv.SweepSessions(sweepCtx, time.Minute)

	if cfg.Domain != "" {
		logger.Info("starting HTTPS servers", "domain", cfg.Domain)
		return runDomainServers(ctx, cfg.Domain, srv.Handler(), logger)
	}

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("estimator is running",
		"addr", server.Addr,
		"storage", cfg.Storage,
		"key", store.Key(),
		"locale", format.Locale(),
		"currency", format.Currency(),
	)
	return serveUntilDone(ctx, server, logger, server.ListenAndServe)
}

// serveUntilDone runs listen and shuts the server down gracefully once ctx ends.
func serveUntilDone(ctx context.Context, server *http.Server, logger *slog.Logger, listen func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- listen() }()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down", "addr", server.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	}
}
