// Package archive copies rejection summaries to an object store so they
// outlive the primary database. Only this package wraps the infra backends;
// other packages depend on objectstore.Store.
package archive

import (
	"bloodbank/internal/archive/objectstore"
	memorystore "bloodbank/internal/infra/archive/memory"
	s3store "bloodbank/internal/infra/archive/s3"
	"context"
	"fmt"
)

// S3Config re-exports the S3 backend configuration.
type S3Config = s3store.Config

// Config selects a backend and the key prefix rejections are written under.
type Config struct {
	Driver objectstore.Driver
	Prefix string
	S3     S3Config
}

// Open builds the configured object store. It returns (nil, nil) when the
// driver is empty or none.
func Open(ctx context.Context, cfg Config) (objectstore.Store, error) {
	switch cfg.Driver {
	case "", objectstore.DriverNone:
		return nil, nil
	case objectstore.DriverMemory:
		return NewMemory(), nil
	case objectstore.DriverS3:
		store, err := s3store.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-memory object store.
func NewMemory() objectstore.Store { return memorystore.New() }
