// Package memkv keeps values in process memory. It backs tests and throwaway runs.
package memkv

import (
	"context"
	"sync"
)

// Store is a concurrency-safe in-memory key-value map.
type Store struct {
	mu      sync.RWMutex
	values  map[string][]byte
	failPut error
}

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put stores a copy of value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.values[key] = append([]byte(nil), value...)
	return nil
}

// SetFailure makes subsequent writes fail with err, or succeed again when err is nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.failPut = err
	s.mu.Unlock()
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
