package telemetry

import (
	"runtime"
	"strings"
	"time"
)

// Summary is one activity report covering a window of gate traffic.
type Summary struct {
	Service       string           `json:"service"`
	Version       string           `json:"version"`
	OS            string           `json:"os"`
	Arch          string           `json:"arch"`
	WindowSeconds int64            `json:"window_size_seconds"`
	StartedAt     int64            `json:"utc_startup_timestamp"`
	Now           int64            `json:"utc_now_timestamp"`
	Accepted      int64            `json:"accepted"`
	Rejected      map[string]int64 `json:"rejected"`
	Count         int64            `json:"count"`
}

// TotalRejected sums rejections across checks.
func (s Summary) TotalRejected() int64 {
	var n int64
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// BuildSummaryAt constructs a summary with a caller-provided "now".
func BuildSummaryAt(version string, startupTime time.Time, windowSeconds int64, w Window, count int64, now time.Time) Summary {
	rejected := w.Rejected
	if rejected == nil {
		rejected = map[string]int64{}
	}
	return Summary{
		Service:       "clickcounter",
		Version:       normalizeVersion(version),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		WindowSeconds: windowSeconds,
		StartedAt:     startupTime.UTC().Unix(),
		Now:           now.UTC().Unix(),
		Accepted:      w.Accepted,
		Rejected:      rejected,
		Count:         count,
	}
}

func normalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return "vdev"
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
