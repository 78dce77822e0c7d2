// Package web serves the estimator page, its JSON API and the live-update channel.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"estimator/pkg/estimator"
	"estimator/pkg/material"
	"estimator/pkg/telemetry"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

// Store is what the web layer needs from the item store.
type Store interface {
	estimator.Store
	Set(ctx context.Context, items []material.Item) error
	List(ctx context.Context) ([]material.Item, error)
}

// Options tune a Server. Zero values fall back to sensible defaults.
type Options struct {
	Formatter  *estimator.Formatter
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
	Live       *Hub
	SessionTTL time.Duration
}

// Server wires HTTP endpoints to the item store.
type Server struct {
	store       Store
	format      *estimator.Formatter
	templates   *template.Template
	sessions    *sessions
	live        *Hub
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	unsubscribe func()
}

// New parses the templates once and starts pushing table updates to live clients.
func New(ctx context.Context, store Store, opts Options) (*Server, error) {
	if store == nil {
		return nil, errors.New("web server requires a store")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	format := opts.Formatter
	if format == nil {
		format = estimator.MustFormatter(estimator.DefaultLocale, estimator.DefaultCurrency)
	}
	live := opts.Live
	if live == nil {
		live = NewHub(logger, opts.Metrics)
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	s := &Server{
		store:     store,
		format:    format,
		templates: tmpl,
		live:      live,
		metrics:   opts.Metrics,
		logger:    logger,
	}
	s.sessions = newSessions(ttl, func(ctx context.Context) (*estimator.Root, error) {
		return estimator.NewRoot(ctx, store, format)
	})

	unsubscribe, err := store.Subscribe(ctx, s.pushTable)
	if err != nil {
		return nil, err
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

// Handler exposes the router with HTML, JSON and operational endpoints.
// Cross-site POST, PUT and DELETE requests are refused with 403.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(http.NewCrossOriginProtection().Handler)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(telemetry.Tracing)

	r.Get("/", s.index)
	r.Post("/submit", s.submit)
	r.Post("/cancel", s.cancel)
	r.Post("/items/{id}/edit", s.edit)
	r.Post("/items/{id}/delete", s.remove)
	r.Get("/ws", s.live.ServeHTTP)

	r.Route("/api/items", func(r chi.Router) {
		r.Get("/", s.listItems)
		r.Post("/", s.createItem)
		r.Put("/", s.replaceItems)
		r.Put("/{id}", s.updateItem)
		r.Delete("/{id}", s.deleteItem)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// SweepSessions drops idle sessions every interval until ctx is done.
func (s *Server) SweepSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.sweep(); n > 0 {
				s.logger.Info("idle sessions closed", "count", n, "open", s.sessions.len())
			}
		}
	}
}

// Close stops live updates and releases every session.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.live.Close()
	s.sessions.closeAll()
}

// pushTable runs on the store goroutine after every change.
func (s *Server) pushTable(items []material.Item) {
	view := tableView{
		Rows:  estimator.NewRows(items, s.format),
		Total: s.format.FormatDecimal(material.Sum(items)),
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "table", view); err != nil {
		s.logger.Error("table render failed", "error", err)
		return
	}
	s.live.Table(buf.String())
}
