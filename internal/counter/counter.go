// Package counter owns the authoritative in-memory counter and keeps the
// durable copy in step with it.
//
// The in-memory value is what responses and broadcasts report. A failed
// durable write is returned to the caller but never rolls the value back, so
// memory may run ahead of storage; it is never behind the last successful
// write.
package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/click-counter/internal/metrics"
	"github.com/developingchet/click-counter/internal/storage"
)

// ErrNegative is returned by Reset for values below zero.
var ErrNegative = errors.New("counter: value must not be negative")

// Counter is safe for concurrent use.
type Counter struct {
	store   storage.Store
	docID   string
	timeout time.Duration

	mu       sync.Mutex
	value    int64
	degraded bool

	// persistMu serialises durable writes; persisted is the highest value
	// known to be durable.
	persistMu sync.Mutex
	persisted int64
}

// New returns a counter at zero backed by store. timeout bounds each durable
// operation; zero means no extra bound beyond the caller's context.
func New(store storage.Store, timeout time.Duration) *Counter {
	return &Counter{store: store, docID: storage.CounterID, timeout: timeout}
}

func (c *Counter) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Load initialises the value from durable storage, creating the document at
// zero when absent. If the store cannot be read the counter enters degraded
// mode at zero and Load returns the error; the caller keeps serving.
func (c *Counter) Load(ctx context.Context) error {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	doc, found, err := c.store.Get(opCtx, c.docID)
	if err != nil {
		c.mu.Lock()
		c.value = 0
		c.degraded = true
		c.mu.Unlock()
		metrics.Degraded.Set(1)
		metrics.Count.Set(0)
		return fmt.Errorf("counter: load: %w", err)
	}

	if !found {
		if err := c.store.Upsert(opCtx, c.docID, storage.Document{Count: 0}); err != nil {
			log.Warn().Err(err).Msg("could not create counter document")
		}
	}

	c.mu.Lock()
	c.value = doc.Count
	c.degraded = false
	c.mu.Unlock()

	c.persistMu.Lock()
	c.persisted = doc.Count
	c.persistMu.Unlock()

	metrics.Degraded.Set(0)
	metrics.Count.Set(float64(doc.Count))
	return nil
}

// Current returns the in-memory value.
func (c *Counter) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Degraded reports whether the counter is running without durable storage.
func (c *Counter) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Increment bumps the value by one and persists it. The new value is returned
// even when persistence fails; err is then non-nil. In degraded mode nothing
// is written and err is nil.
func (c *Counter) Increment(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.value++
	v := c.value
	degraded := c.degraded
	c.mu.Unlock()

	metrics.Increments.Inc()
	metrics.Count.Set(float64(v))

	if degraded {
		return v, nil
	}
	if err := c.persist(ctx, v, false); err != nil {
		metrics.PersistErrors.Inc()
		return v, err
	}
	return v, nil
}

// persist writes v unless a value at least as high is already durable. force
// skips that guard for administrative resets.
func (c *Counter) persist(ctx context.Context, v int64, force bool) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	return c.persistLocked(ctx, v, force)
}

func (c *Counter) persistLocked(ctx context.Context, v int64, force bool) error {
	if !force && v <= c.persisted {
		return nil
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.store.Upsert(opCtx, c.docID, storage.Document{Count: v}); err != nil {
		return fmt.Errorf("counter: persist %d: %w", v, err)
	}
	c.persisted = v
	return nil
}

// Reset is the administrative path that may lower the counter. It writes v
// durably first and only then replaces the in-memory value.
func (c *Counter) Reset(ctx context.Context, v int64) error {
	if v < 0 {
		return ErrNegative
	}
	if err := c.persist(ctx, v, true); err != nil {
		return err
	}
	c.mu.Lock()
	c.value = v
	c.degraded = false
	c.mu.Unlock()
	metrics.Degraded.Set(0)
	metrics.Count.Set(float64(v))
	log.Info().Int64("count", v).Msg("counter reset")
	return nil
}

// Reconcile leaves degraded mode once the store is reachable again. The
// durable value and the increments accepted while degraded are added
// together and written back. It returns the reconciled value; ok is false
// when the counter was not degraded or the store is still unreachable.
func (c *Counter) Reconcile(ctx context.Context) (v int64, ok bool, err error) {
	if !c.Degraded() {
		return 0, false, nil
	}

	opCtx, cancel := c.opContext(ctx)
	doc, _, err := c.store.Get(opCtx, c.docID)
	cancel()
	if err != nil {
		return 0, false, fmt.Errorf("counter: reconcile: %w", err)
	}

	// Hold persistMu across the merge so no increment persisted after
	// leaving degraded mode can be overwritten by the merged value.
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	if !c.degraded {
		c.mu.Unlock()
		return 0, false, nil
	}
	c.value += doc.Count
	v = c.value
	c.degraded = false
	c.mu.Unlock()

	c.persisted = doc.Count
	metrics.Degraded.Set(0)
	metrics.Count.Set(float64(v))

	if err := c.persistLocked(ctx, v, false); err != nil {
		metrics.PersistErrors.Inc()
		return v, true, err
	}
	return v, true, nil
}
