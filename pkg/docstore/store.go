// Package docstore defines the document store contract consumed by the sync
// layer and the backends that implement it.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"chattersync/pkg/domain"
)

// Record is a loosely typed remote document body.
type Record map[string]any

// Document is a point-in-time read of a single document.
// Data is nil when the document does not exist.
type Document struct {
	ID   string
	Path string
	Data Record
}

// Exists reports whether the read found a document.
func (d Document) Exists() bool {
	return d.Data != nil
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Query selects documents of one collection ordered by a single field.
// StartAt is inclusive and EndBefore is exclusive; nil bounds are open.
// Documents lacking the order field are excluded.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
	StartAt    any
	EndBefore  any
	Limit      int
}

// WriteMode selects how Set treats fields that already exist remotely.
type WriteMode int

const (
	// Overwrite replaces the whole document.
	Overwrite WriteMode = iota
	// Merge touches only the fields named in the payload.
	Merge
)

type serverTimestamp struct{}

// ServerTimestamp is a payload value replaced by the store's clock on write.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// DocumentListener receives the current document on registration and after
// every change. err is non-nil when the backend failed to read the change.
type DocumentListener func(doc Document, err error)

// QueryListener receives the full ordered result set on every change.
type QueryListener func(docs []Document, err error)

// Registration is a live subscription handle.
// Remove must not be called from inside the listener it stops.
type Registration interface {
	Remove()
}

// Store is a document store with merge writes, ordered range queries and
// live subscriptions. Listeners of one registration are invoked serially and
// in the order the backend observed the changes.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, data Record, mode WriteMode) error
	Add(ctx context.Context, collection string, data Record) (string, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	WatchDocument(ctx context.Context, path string, fn DocumentListener) (Registration, error)
	WatchQuery(ctx context.Context, q Query, fn QueryListener) (Registration, error)
}

var (
	ErrInvalidPath  = errors.New("invalid document path")
	ErrInvalidQuery = errors.New("invalid query")
)

// Transport wraps a backend failure so callers can match domain.ErrTransport.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTransport) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
}

func validateQuery(q Query) error {
	if _, err := splitCollection(q.Collection); err != nil {
		return err
	}
	if q.OrderBy == "" {
		return fmt.Errorf("%w: order field required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}
