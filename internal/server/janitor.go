package server

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/click-counter/internal/gate"
	"github.com/developingchet/click-counter/internal/metrics"
	"github.com/developingchet/click-counter/internal/storage"
)

// runJanitor runs periodic background maintenance tasks:
//   - Evict idle address records and elapsed burst windows from the gate.
//   - Update the BboltDBSizeBytes Prometheus gauge (for on-disk stores).
//
// It returns when ctx is cancelled.
func runJanitor(ctx context.Context, g *gate.Gate, store storage.Store, interval time.Duration, clock func() time.Time) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := g.Sweep(clock())
			log.Debug().Int("tracked", n).Msg("janitor: address sweep")
			if path := store.DBPath(); path != "" {
				if info, err := os.Stat(path); err == nil {
					metrics.BboltDBSizeBytes.Set(float64(info.Size()))
				}
			}
		}
	}
}
