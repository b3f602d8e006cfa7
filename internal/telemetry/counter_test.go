package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_Basics(t *testing.T) {
	c := NewCounter()
	c.IncAccepted()
	c.IncAccepted()
	c.IncRejected("burst")
	c.IncRejected("token")
	c.IncRejected("burst")

	assert.Equal(t, int64(2), c.Accepted())
	assert.Equal(t, int64(2), c.Rejected("burst"))

	w := c.SnapshotAndReset()
	assert.Equal(t, int64(2), w.Accepted)
	assert.Equal(t, map[string]int64{"burst": 2, "token": 1}, w.Rejected)
	assert.False(t, w.Empty())

	assert.Equal(t, int64(0), c.Accepted())
	assert.Equal(t, int64(0), c.Rejected("burst"))
	assert.True(t, c.SnapshotAndReset().Empty())
}

func TestCounter_Restore(t *testing.T) {
	c := NewCounter()
	c.IncRejected("origin")
	c.Restore(Window{Accepted: 3, Rejected: map[string]int64{"origin": 2, "anomaly": 0}})

	assert.Equal(t, int64(3), c.Accepted())
	assert.Equal(t, int64(3), c.Rejected("origin"))
	assert.Equal(t, int64(0), c.Rejected("anomaly"))
}

func TestWindow_EmptyIgnoresZeroEntries(t *testing.T) {
	assert.True(t, Window{Rejected: map[string]int64{"burst": 0}}.Empty())
	assert.False(t, Window{Rejected: map[string]int64{"burst": 1}}.Empty())
}

func TestCounter_Concurrent(t *testing.T) {
	c := NewCounter()
	const goroutines = 20
	const perG = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				c.IncAccepted()
				c.IncRejected("rate-limit")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*perG), c.Accepted())
	assert.Equal(t, int64(goroutines*perG), c.Rejected("rate-limit"))
}
