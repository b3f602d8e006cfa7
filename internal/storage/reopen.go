package storage

import (
	"context"
	"fmt"
	"sync"
)

var _ Store = (*Reopener)(nil)

// Reopener stands in for a backend that could not be opened at startup. Each
// operation retries the open until one succeeds; from then on calls go
// straight to the opened store.
type Reopener struct {
	mu     sync.Mutex
	open   func() (Store, error)
	store  Store
	closed bool
}

// NewReopener returns a Reopener that opens its backend with open.
func NewReopener(open func() (Store, error)) *Reopener {
	return &Reopener{open: open}
}

func (r *Reopener) backend() (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.store != nil {
		return r.store, nil
	}
	s, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("storage: reopen: %w", err)
	}
	r.store = s
	return s, nil
}

func (r *Reopener) Get(ctx context.Context, id string) (Document, bool, error) {
	s, err := r.backend()
	if err != nil {
		return Document{}, false, err
	}
	return s.Get(ctx, id)
}

func (r *Reopener) Upsert(ctx context.Context, id string, doc Document) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.Upsert(ctx, id, doc)
}

func (r *Reopener) Ping(ctx context.Context) error {
	s, err := r.backend()
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}

// DBPath is "" until the backend has been opened.
func (r *Reopener) DBPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return ""
	}
	return r.store.DBPath()
}

func (r *Reopener) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
