package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/click-counter/internal/broadcast"
	"github.com/developingchet/click-counter/internal/counter"
)

// runReconnect retries the durable store every interval while the counter
// is degraded. On the first successful read the counter is reconciled and
// the merged value broadcast; the loop then exits.
func runReconnect(ctx context.Context, c *counter.Counter, hub *broadcast.Hub, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, ok, err := c.Reconcile(ctx)
			if !ok {
				if err == nil {
					return
				}
				log.Debug().Err(err).Msg("durable store still unreachable")
				continue
			}
			hub.Publish(v)
			if err != nil {
				log.Error().Err(err).Int64("count", v).Msg("reconciled counter could not be persisted")
			}
			log.Info().Int64("count", v).Msg("durable store reachable again, counter reconciled")
			return
		}
	}
}
