// Package config loads estimator settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"estimator/pkg/storage"
	"estimator/pkg/storage/s3kv"
)

// Config captures every setting; command-line flags are layered on top by the CLI.
type Config struct {
	// Port is used when no domain is configured. PORT overrides it.
	Port int `env:"ESTIMATOR_PORT" envDefault:"8765"`

	// Domain switches to HTTPS on :443 with an HTTP redirect on :80.
	Domain string `env:"ESTIMATOR_DOMAIN"`

	// Storage selects the key-value backend: file, sqlite, s3 or memory.
	Storage string `env:"ESTIMATOR_STORAGE" envDefault:"file"`

	// StoragePath is the data directory (file) or database file (sqlite).
	StoragePath string `env:"ESTIMATOR_STORAGE_PATH"`

	// StorageKey is the key the collection is persisted under.
	StorageKey string `env:"ESTIMATOR_STORAGE_KEY" envDefault:"material"`

	S3 S3 `envPrefix:"ESTIMATOR_S3_"`

	// Locale and Currency drive price formatting only.
	Locale   string `env:"ESTIMATOR_LOCALE" envDefault:"en-US"`
	Currency string `env:"ESTIMATOR_CURRENCY" envDefault:"USD"`

	LogLevel  string `env:"ESTIMATOR_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ESTIMATOR_LOG_FORMAT" envDefault:"text"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `env:"ESTIMATOR_OTEL_ENDPOINT"`

	// SessionTTL is how long an idle browser session keeps its edit state.
	SessionTTL time.Duration `env:"ESTIMATOR_SESSION_TTL" envDefault:"30m"`
}

// S3 holds the object storage settings used by the s3 backend.
type S3 struct {
	Bucket    string `env:"BUCKET"`
	Prefix    string `env:"PREFIX"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	PathStyle bool   `env:"PATH_STYLE"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !slices.Contains(storage.Backends(), c.Storage) {
		errs = append(errs, fmt.Errorf("storage %q must be one of %s", c.Storage, strings.Join(storage.Backends(), ", ")))
	}
	if c.Storage == storage.BackendS3 && strings.TrimSpace(c.S3.Bucket) == "" {
		errs = append(errs, errors.New("s3 storage requires a bucket"))
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		errs = append(errs, errors.New("storage key is required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q must be text or json", c.LogFormat))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Address converts the port configuration into a listen address.
func (c Config) Address() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":" + strconv.Itoa(c.Port)
}

// StorageOptions maps the config onto storage.Open options.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend: c.Storage,
		Path:    c.StoragePath,
		S3: s3kv.Config{
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			PathStyle: c.S3.PathStyle,
		},
	}
}
