package storage

import (
	"context"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory implementation of Store for use in unit tests.
// It is exported so that other packages' tests can use it without creating a
// file on disk. The Fail* fields inject errors.
type MemStore struct {
	mu      sync.Mutex
	docs    map[string]Document
	upserts int
	closed  bool

	FailGet    error
	FailUpsert error
	FailPing   error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]Document)}
}

// SetFailures replaces the injected errors under the store lock.
func (m *MemStore) SetFailures(get, upsert, ping error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailGet, m.FailUpsert, m.FailPing = get, upsert, ping
}

func (m *MemStore) Get(_ context.Context, id string) (Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Document{}, false, ErrClosed
	}
	if m.FailGet != nil {
		return Document{}, false, m.FailGet
	}
	doc, ok := m.docs[sanitizeID(id)]
	return doc, ok, nil
}

func (m *MemStore) Upsert(_ context.Context, id string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.FailUpsert != nil {
		return m.FailUpsert
	}
	m.docs[sanitizeID(id)] = doc
	m.upserts++
	return nil
}

func (m *MemStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.FailPing
}

// Upserts returns how many writes succeeded.
func (m *MemStore) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *MemStore) DBPath() string { return "" }

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
