package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReopener_RetriesUntilOpen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "later")
	path := filepath.Join(dir, "counter.db")

	opens := 0
	r := NewReopener(func() (Store, error) {
		opens++
		return Open(path)
	})
	defer r.Close()

	require.Error(t, r.Ping(ctx))
	_, _, err := r.Get(ctx, CounterID)
	require.Error(t, err)
	assert.Equal(t, "", r.DBPath())

	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, r.Upsert(ctx, CounterID, Document{Count: 4}))
	doc, found, err := r.Get(ctx, CounterID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 4, doc.Count)
	assert.Equal(t, path, r.DBPath())
	assert.Equal(t, 3, opens, "no open after the first success")
}

func TestReopener_Close(t *testing.T) {
	mem := NewMemStore()
	r := NewReopener(func() (Store, error) { return mem, nil })
	require.NoError(t, r.Ping(context.Background()))

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Ping(context.Background()), ErrClosed)
	_, _, err := mem.Get(context.Background(), CounterID)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReopener_CloseBeforeOpen(t *testing.T) {
	r := NewReopener(func() (Store, error) { return nil, errors.New("locked") })
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Upsert(context.Background(), CounterID, Document{}), ErrClosed)
}
