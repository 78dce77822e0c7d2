// Package storage selects the key-value backend the estimate is persisted to.
package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"estimator/pkg/storage/filekv"
	"estimator/pkg/storage/memkv"
	"estimator/pkg/storage/s3kv"
	"estimator/pkg/storage/sqlitekv"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// KV is a byte-valued key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Options configures Open.
type Options struct {
	Backend string
	// Path is a directory for the file backend and a database file for sqlite.
	Path string
	S3   s3kv.Config
}

// Backends lists every supported backend name.
func Backends() []string {
	return []string{BackendFile, BackendSQLite, BackendS3, BackendMemory}
}

// Open constructs the backend named in opts.
func Open(ctx context.Context, opts Options) (KV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch opts.Backend {
	case BackendFile, "":
		return filekv.Open(opts.Path)
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = filepath.Join(".", "estimator.db")
		}
		return sqlitekv.Open(path)
	case BackendS3:
		return s3kv.New(opts.S3)
	case BackendMemory:
		return memkv.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", opts.Backend)
	}
}
