// Package objectstore defines the object storage surface the rejection
// archive writes to. Backends live under internal/infra/archive.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete object storage backend.
type Driver string

const (
	// DriverNone disables archiving.
	DriverNone Driver = "none"
	// DriverMemory keeps objects in process memory.
	DriverMemory Driver = "memory"
	// DriverS3 writes to an S3 compatible bucket.
	DriverS3 Driver = "s3"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a create-only, S3 shaped object store.
type Store interface {
	// Put stores a new object. It fails with ErrExists if the key is taken.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the object and its metadata. Missing keys yield ErrNotFound.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// List returns objects under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrExists is returned by Put when the key already holds an object.
	ErrExists = errors.New("objectstore: object already exists")
	// ErrNotFound is returned when a key holds no object.
	ErrNotFound = errors.New("objectstore: object not found")
)
