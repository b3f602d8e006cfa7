package telemetry

import (
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSummaryAt(t *testing.T) {
	startup := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	w := Window{Accepted: 40, Rejected: map[string]int64{"burst": 3, "token": 2}}

	s := BuildSummaryAt("1.4.0", startup, 300, w, 12345, now)

	assert.Equal(t, "clickcounter", s.Service)
	assert.Equal(t, "v1.4.0", s.Version)
	assert.Equal(t, runtime.GOOS, s.OS)
	assert.Equal(t, runtime.GOARCH, s.Arch)
	assert.Equal(t, int64(300), s.WindowSeconds)
	assert.Equal(t, startup.Unix(), s.StartedAt)
	assert.Equal(t, now.Unix(), s.Now)
	assert.Equal(t, int64(40), s.Accepted)
	assert.Equal(t, int64(5), s.TotalRejected())
	assert.Equal(t, int64(12345), s.Count)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rejected":{"burst":3,"token":2}`)
}

func TestBuildSummaryAt_NilRejectedEncodesEmptyObject(t *testing.T) {
	s := BuildSummaryAt("", time.Unix(0, 0), 60, Window{Accepted: 1}, 0, time.Unix(60, 0))
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rejected":{}`)
	assert.Equal(t, "vdev", s.Version)
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "vdev"},
		{"2.0.1", "v2.0.1"},
		{"v2.0.1", "v2.0.1"},
		{"  3.1.0 ", "v3.1.0"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeVersion(tc.in))
		})
	}
}
