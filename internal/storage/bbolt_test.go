package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore_Get_Missing(t *testing.T) {
	s := newTestStore(t)
	doc, found, err := s.Get(context.Background(), CounterID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Document{}, doc)
}

func TestBoltStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, CounterID, Document{Count: 10}))
	require.NoError(t, s.Upsert(ctx, CounterID, Document{Count: 13}))

	doc, found, err := s.Get(ctx, CounterID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 13, doc.Count)
}

func TestBoltStore_StoresJSON(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(context.Background(), CounterID, Document{Count: 7}))

	var raw []byte
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		raw = append([]byte{}, tx.Bucket(bucketDocuments).Get([]byte(CounterID))...)
		return nil
	}))
	assert.JSONEq(t, `{"count":7}`, string(raw))
}

func TestBoltStore_CorruptDocument(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).Put([]byte(CounterID), []byte("{not json"))
	}))

	_, _, err := s.Get(context.Background(), CounterID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage: get counter")
}

func TestBoltStore_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.Upsert(ctx, CounterID, Document{Count: 1}), context.Canceled)
	_, _, err := s.Get(ctx, CounterID)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, s.Ping(ctx), context.Canceled)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(ctx, CounterID, Document{Count: 42}))
	require.NoError(t, s1.Close())

	// Reopen and confirm the count survived restart.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	doc, found, err := s2.Get(ctx, CounterID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 42, doc.Count)
}

func TestBoltStore_PingAfterClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

func TestBoltStore_DBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.DBPath())
}

// --- Locking / permission / directory tests ---

func TestBoltStore_DatabaseLocking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s1, err := Open(path)
	require.NoError(t, err)
	defer s1.Close()

	// Second Open must time out (bbolt holds an exclusive file lock).
	// The hardcoded bolt Timeout of 2s means this sub-test takes ~2 seconds.
	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout",
		"second Open should fail with the bbolt ErrTimeout message")
}

func TestBoltStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX file-mode bits are not applicable on Windows")
	}
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	require.NoError(t, err)
	_ = s.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(),
		"state.db must be owner-read/write only (0600)")
}

func TestBoltStore_ReadOnlyDirectory_FailsGracefully(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory write semantics differ on Windows")
	}
	if os.Getuid() == 0 {
		t.Skip("root bypasses permission checks; test not meaningful")
	}
	roDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(roDir, 0o555))

	_, err := Open(filepath.Join(roDir, "state.db"))
	require.Error(t, err, "Open should fail when DATA_DIR is not writable")
	assert.Contains(t, err.Error(), "storage: open",
		"error must include the wrapped storage prefix for operator visibility")
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"counter", "counter"},
		{" counter ", "counter"},
		{"a:b", "a_b"},
		{"a/b", "a_b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, sanitizeID(tt.input), "input=%s", tt.input)
	}
}
