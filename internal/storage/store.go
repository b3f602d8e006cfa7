package storage

import (
	"context"
	"errors"
	"strings"
)

// CounterID is the fixed identifier of the shared counter document.
const CounterID = "counter"

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("storage: store closed")

// Document is the JSON shape persisted under a document id.
type Document struct {
	Count int64 `json:"count"`
}

// Store is an opaque key-value document store reachable through get and
// upsert. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the document stored under id. found is false when no
	// document exists; that is not an error.
	Get(ctx context.Context, id string) (doc Document, found bool, err error)

	// Upsert creates or replaces the document stored under id.
	Upsert(ctx context.Context, id string, doc Document) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// DBPath returns the filesystem path of the database file ("" when the
	// store is not file-backed).
	DBPath() string

	Close() error
}

// sanitizeID trims whitespace and replaces characters that are ambiguous in
// bbolt keys and Redis key namespaces.
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	return strings.NewReplacer(":", "_", "/", "_").Replace(id)
}
