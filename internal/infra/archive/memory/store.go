// Package memory implements an in-process object store.
package memory

import (
	"bloodbank/internal/archive/objectstore"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type object struct {
	info objectstore.Info
	data []byte
}

// Store keeps objects in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	objs map[string]object
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{objs: make(map[string]object), now: func() time.Time { return time.Now().UTC() }}
}

// Driver implements objectstore.Store.
func (s *Store) Driver() objectstore.Driver { return objectstore.DriverMemory }

// Put implements objectstore.Store.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts objectstore.PutOptions) (objectstore.Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return objectstore.Info{}, fmt.Errorf("read object %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return objectstore.Info{}, fmt.Errorf("%w: %s", objectstore.ErrExists, key)
	}
	info := objectstore.Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: s.now(),
	}
	s.objs[key] = object{info: info, data: data}
	return copyInfo(info), nil
}

// Get implements objectstore.Store.
func (s *Store) Get(_ context.Context, key string) (objectstore.Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return objectstore.Info{}, nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	data := append([]byte(nil), obj.data...)
	return copyInfo(obj.info), io.NopCloser(bytes.NewReader(data)), nil
}

// Head implements objectstore.Store.
func (s *Store) Head(_ context.Context, key string) (objectstore.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objs[key]
	if !ok {
		return objectstore.Info{}, fmt.Errorf("%w: %s", objectstore.ErrNotFound, key)
	}
	return copyInfo(obj.info), nil
}

// List implements objectstore.Store.
func (s *Store) List(_ context.Context, prefix string) ([]objectstore.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]objectstore.Info, 0, len(s.objs))
	for key, obj := range s.objs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, copyInfo(obj.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func copyInfo(info objectstore.Info) objectstore.Info {
	info.Metadata = cloneMetadata(info.Metadata)
	return info
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
