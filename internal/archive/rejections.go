package archive

import (
	"bloodbank/internal/archive/objectstore"
	"bloodbank/pkg/domain"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "rejections"

const contentTypeJSON = "application/json"

// RejectionArchive writes each rejection summary as a JSON object keyed
// <prefix>/<yyyy>/<mm>/<dd>/<id>.json by the summary's creation date.
type RejectionArchive struct {
	store  objectstore.Store
	prefix string
}

// NewRejectionArchive wraps store. An empty prefix selects DefaultPrefix.
func NewRejectionArchive(store objectstore.Store, prefix string) *RejectionArchive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RejectionArchive{store: store, prefix: prefix}
}

// Store returns the backing object store.
func (a *RejectionArchive) Store() objectstore.Store { return a.store }

// Key returns the object key for a rejection.
func (a *RejectionArchive) Key(r domain.RejectionSummary) string {
	return path.Join(a.dayPrefix(r.CreatedAt), r.ID+".json")
}

func (a *RejectionArchive) dayPrefix(day time.Time) string {
	return path.Join(a.prefix, day.UTC().Format("2006/01/02"))
}

// Archive stores the rejection. Summaries are immutable, so an object that
// already exists under the key counts as archived.
func (a *RejectionArchive) Archive(ctx context.Context, r domain.RejectionSummary) error {
	if r.ID == "" {
		return fmt.Errorf("%w: rejection id required", domain.ErrInvalidRequest)
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rejection %s: %w", r.ID, err)
	}
	_, err = a.store.Put(ctx, a.Key(r), bytes.NewReader(payload), objectstore.PutOptions{
		ContentType: contentTypeJSON,
		Metadata: map[string]string{
			"request-id": r.RequestID,
			"kind":       string(r.Kind),
		},
	})
	if errors.Is(err, objectstore.ErrExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive rejection %s: %w", r.ID, err)
	}
	return nil
}

// Load reads back one archived rejection.
func (a *RejectionArchive) Load(ctx context.Context, day time.Time, id string) (domain.RejectionSummary, error) {
	return a.read(ctx, path.Join(a.dayPrefix(day), id+".json"))
}

// ListDay returns the rejections archived for the given UTC day, ordered by key.
func (a *RejectionArchive) ListDay(ctx context.Context, day time.Time) ([]domain.RejectionSummary, error) {
	infos, err := a.store.List(ctx, a.dayPrefix(day)+"/")
	if err != nil {
		return nil, fmt.Errorf("list archived rejections: %w", err)
	}
	out := make([]domain.RejectionSummary, 0, len(infos))
	for _, info := range infos {
		r, err := a.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *RejectionArchive) read(ctx context.Context, key string) (domain.RejectionSummary, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return domain.RejectionSummary{}, err
	}
	defer func() { _ = rc.Close() }()
	var r domain.RejectionSummary
	if err := json.NewDecoder(rc).Decode(&r); err != nil {
		return domain.RejectionSummary{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return r, nil
}
