package material

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultKey is the storage key the collection lives under.
const DefaultKey = "material"

const (
	opSet       = "set"
	opAdd       = "add"
	opUpdate    = "update"
	opDelete    = "delete"
	opList      = "list"
	opSubscribe = "subscribe"
)

// Backend is the key-value storage the collection is persisted to.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Observer receives store events, typically to feed metrics.
type Observer interface {
	Mutated(op string, items []Item)
	PersistFailed(err error)
	HydrateFailed(err error)
}

// Option customizes a Store at construction time.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With("component", "material")
		}
	}
}

// WithObserver registers an observer for mutations and persistence failures.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// WithClock replaces the time source used for identifiers.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.ids = newIDGenerator(now)
	}
}

// WithPersistErrorHandler is called on the loop goroutine whenever a write to
// the backend fails.
func WithPersistErrorHandler(fn func(error)) Option {
	return func(s *Store) {
		s.onPersistError = fn
	}
}

// WithQueueTimeout bounds how long a caller waits for the loop to accept a command.
func WithQueueTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.queueTimeout = d
		}
	}
}

// command is one request for the loop goroutine.
type command struct {
	ctx    context.Context
	action string
	name   string
	price  float64
	id     int64
	items  []Item
	sub    *subscription
	reply  chan result
}

type result struct {
	item  Item
	items []Item
	found bool
}

type subscription struct {
	fn     func([]Item)
	active atomic.Bool
}

// Store owns the item collection. A single goroutine applies every command in
// order, notifies subscribers and persists the collection, so no locks guard
// the state itself.
type Store struct {
	backend        Backend
	key            string
	logger         *slog.Logger
	observer       Observer
	onPersistError func(error)
	ids            *idGenerator
	tracer         trace.Tracer
	queueTimeout   time.Duration
	writeTimeout   time.Duration

	items []Item
	subs  []*subscription

	commands  chan command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open hydrates a store from the backend and starts its loop. Malformed
// persisted data is discarded and the store starts empty; a backend that
// cannot be read at all is an error.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("material store requires a backend")
	}
	s := &Store{
		backend:      backend,
		key:          DefaultKey,
		logger:       slog.Default().With("component", "material"),
		ids:          newIDGenerator(nil),
		tracer:       otel.Tracer("estimator/material"),
		queueTimeout: 2 * time.Second,
		writeTimeout: 10 * time.Second,
		commands:     make(chan command),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}

	go s.loop()
	return s, nil
}

func (s *Store) hydrate(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "material.hydrate", trace.WithAttributes(attribute.String("key", s.key)))
	defer span.End()

	data, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load %q: %w", s.key, err)
	}
	if !ok {
		s.logger.Info("no persisted collection, starting empty", "key", s.key)
		return nil
	}

	items, err := Decode(data)
	if err != nil {
		readErr := &ReadError{Key: s.key, Err: err}
		span.RecordError(readErr)
		s.logger.Warn("discarding malformed persisted collection", "key", s.key, "error", err)
		if s.observer != nil {
			s.observer.HydrateFailed(readErr)
		}
		return nil
	}

	s.items = items
	s.ids.observe(items)
	span.SetAttributes(attribute.Int("items", len(items)))
	s.logger.Info("collection hydrated", "key", s.key, "items", len(items))
	return nil
}

// loop applies commands sequentially until Close.
func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- s.apply(cmd)
		case <-s.quit:
			return
		}
	}
}

func (s *Store) apply(cmd command) result {
	switch cmd.action {
	case opSet:
		s.items = clone(cmd.items)
		s.ids.observe(s.items)
		s.changed(cmd.ctx, opSet)
		return result{}
	case opAdd:
		it := Item{ID: s.ids.next(), Item: cmd.name, Price: cmd.price}
		items := make([]Item, 0, len(s.items)+1)
		items = append(items, it)
		s.items = append(items, s.items...)
		s.changed(cmd.ctx, opAdd)
		return result{item: it, found: true}
	case opUpdate:
		found := false
		for i := range s.items {
			if s.items[i].ID == cmd.id {
				s.items[i].Item = cmd.name
				s.items[i].Price = cmd.price
				found = true
			}
		}
		s.changed(cmd.ctx, opUpdate)
		return result{found: found}
	case opDelete:
		kept := make([]Item, 0, len(s.items))
		for _, it := range s.items {
			if it.ID != cmd.id {
				kept = append(kept, it)
			}
		}
		found := len(kept) != len(s.items)
		s.items = kept
		s.changed(cmd.ctx, opDelete)
		return result{found: found}
	case opList:
		return result{items: clone(s.items)}
	case opSubscribe:
		s.subs = append(s.subs, cmd.sub)
		cmd.sub.fn(clone(s.items))
		return result{}
	default:
		s.logger.Error("unknown store action", "action", cmd.action)
		return result{}
	}
}

// changed fans the new collection out to subscribers and writes it to the backend.
func (s *Store) changed(ctx context.Context, op string) {
	s.notify()
	if s.observer != nil {
		s.observer.Mutated(op, clone(s.items))
	}
	s.persist(ctx)
}

func (s *Store) notify() {
	live := s.subs[:0]
	for _, sub := range s.subs {
		if !sub.active.Load() {
			continue
		}
		live = append(live, sub)
		sub.fn(clone(s.items))
	}
	for i := len(live); i < len(s.subs); i++ {
		s.subs[i] = nil
	}
	s.subs = live
}

func (s *Store) persist(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "material.persist", trace.WithAttributes(
		attribute.String("key", s.key),
		attribute.Int("items", len(s.items)),
	))
	defer span.End()

	data, err := Encode(s.items)
	if err == nil {
		err = s.backend.Put(ctx, s.key, data)
	}
	if err == nil {
		return
	}

	writeErr := &WriteError{Key: s.key, Err: err}
	span.RecordError(writeErr)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn("collection not persisted, keeping in-memory state", "key", s.key, "error", err)
	if s.observer != nil {
		s.observer.PersistFailed(writeErr)
	}
	if s.onPersistError != nil {
		s.onPersistError(writeErr)
	}
}

// do hands a command to the loop and waits for its result.
func (s *Store) do(ctx context.Context, cmd command) (result, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan result, 1)

	select {
	case s.commands <- cmd:
	case <-s.quit:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-time.After(s.queueTimeout):
		return result{}, ErrBusy
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Set replaces the whole collection. No validation is applied.
func (s *Store) Set(ctx context.Context, items []Item) (err error) {
	ctx, span := s.startSpan(ctx, "material.Set", attribute.Int("items", len(items)))
	defer func() { endSpan(span, err) }()

	_, err = s.do(ctx, command{action: opSet, items: clone(items)})
	return err
}

// Add prepends a new item and returns it with its generated identifier.
// Validation is the caller's responsibility.
func (s *Store) Add(ctx context.Context, name string, price float64) (_ Item, err error) {
	ctx, span := s.startSpan(ctx, "material.Add")
	defer func() { endSpan(span, err) }()

	res, err := s.do(ctx, command{action: opAdd, name: name, price: price})
	if err != nil {
		return Item{}, err
	}
	span.SetAttributes(attribute.Int64("id", res.item.ID))
	return res.item, nil
}

// UpdateMaterial overwrites the name and price of the item with the given id.
// An unknown id changes nothing and reports false.
func (s *Store) UpdateMaterial(ctx context.Context, name string, price float64, id int64) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "material.UpdateMaterial", attribute.Int64("id", id))
	defer func() { endSpan(span, err) }()

	res, err := s.do(ctx, command{action: opUpdate, name: name, price: price, id: id})
	if err != nil {
		return false, err
	}
	return res.found, nil
}

// Delete drops the item with the given id. An unknown id changes nothing and reports false.
func (s *Store) Delete(ctx context.Context, id int64) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "material.Delete", attribute.Int64("id", id))
	defer func() { endSpan(span, err) }()

	res, err := s.do(ctx, command{action: opDelete, id: id})
	if err != nil {
		return false, err
	}
	return res.found, nil
}

// List returns a copy of the current collection, newest first.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	res, err := s.do(ctx, command{action: opList})
	if err != nil {
		return nil, err
	}
	return res.items, nil
}

// Total returns the sum of every price in the current collection.
func (s *Store) Total(ctx context.Context) (decimal.Decimal, error) {
	items, err := s.List(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(items), nil
}

// Subscribe registers fn. It is called right away with the current collection
// and after every change until the returned function is called. fn runs on the
// store goroutine and must not call back into the store.
func (s *Store) Subscribe(ctx context.Context, fn func([]Item)) (func(), error) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)
	if _, err := s.do(ctx, command{action: opSubscribe, sub: sub}); err != nil {
		return func() {}, err
	}
	return func() { sub.active.Store(false) }, nil
}

// Key reports the storage key the store persists under.
func (s *Store) Key() string { return s.key }

// Close stops the loop. Pending callers receive ErrClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
	})
}
