// Package storage persists epoch snapshots durably, either on the local
// filesystem or in an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend selects the snapshot storage implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
)

// Store is the uniform snapshot persistence surface.
type Store interface {
	// Save persists the serialized snapshot under name and returns its
	// location (a path or URL).
	Save(ctx context.Context, name string, data []byte) (string, error)
	// Exists reports whether a snapshot exists under name.
	Exists(ctx context.Context, name string) (bool, error)
	// Load reads a snapshot back.
	Load(ctx context.Context, name string) ([]byte, error)
	// StorageType names the backend for logs.
	StorageType() string
}

// Config selects and parameterises a backend.
type Config struct {
	Backend Backend

	// Local backend.
	Dir string

	// S3 backend.
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	KeyPrefix       string
}

// New builds the configured store.
func New(ctx context.Context, log *slog.Logger, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendLocal:
		return NewLocalStore(log, cfg.Dir)
	case BackendS3:
		return NewS3Store(ctx, log, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}
