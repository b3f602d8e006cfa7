package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBurstLimiter_SixInNineHundredMillis sends six requests inside 900ms with
// a ceiling of five, then a seventh 1200ms after the window opened.
func TestBurstLimiter_SixInNineHundredMillis(t *testing.T) {
	b := NewBurstLimiter(5, time.Second)
	addr := "198.51.100.7"

	for i := 0; i < 5; i++ {
		require.Nil(t, b.Admit(addr, t0.Add(time.Duration(i)*180*time.Millisecond)), "request %d", i+1)
	}
	rej := b.Admit(addr, t0.Add(900*time.Millisecond))
	require.NotNil(t, rej)
	assert.Equal(t, "burst", rej.Check)
	assert.Equal(t, ClassRate, rej.Class)
	assert.Equal(t, 100*time.Millisecond, rej.RetryAfter)

	assert.Nil(t, b.Admit(addr, t0.Add(1200*time.Millisecond)))
}

func TestBurstLimiter_WindowBoundaryInclusive(t *testing.T) {
	b := NewBurstLimiter(1, time.Second)
	require.Nil(t, b.Admit("a", t0))
	// Exactly one window later has not "exceeded" the window yet.
	assert.NotNil(t, b.Admit("a", t0.Add(time.Second)))
	assert.Nil(t, b.Admit("a", t0.Add(time.Second+time.Millisecond)))
}

func TestBurstLimiter_PerAddress(t *testing.T) {
	b := NewBurstLimiter(1, time.Second)
	require.Nil(t, b.Admit("a", t0))
	require.NotNil(t, b.Admit("a", t0))
	assert.Nil(t, b.Admit("b", t0))
}

func TestBurstLimiter_Sweep(t *testing.T) {
	b := NewBurstLimiter(5, time.Second)
	b.Admit("a", t0)
	b.Admit("b", t0.Add(900*time.Millisecond))

	assert.Equal(t, 1, b.Sweep(t0.Add(1500*time.Millisecond)))
	assert.Equal(t, 1, b.Len())
}
