package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const pushTimeout = 10 * time.Second

// Pusher delivers an activity summary somewhere.
type Pusher interface {
	Push(ctx context.Context, s Summary) error
}

// PushFunc adapts a function to the Pusher interface.
type PushFunc func(ctx context.Context, s Summary) error

// Push implements Pusher.
func (f PushFunc) Push(ctx context.Context, s Summary) error {
	return f(ctx, s)
}

// LogPusher writes each summary as one structured log line.
var LogPusher = PushFunc(func(_ context.Context, s Summary) error {
	rejected := zerolog.Dict()
	for check, n := range s.Rejected {
		rejected.Int64(check, n)
	}
	log.Info().
		Int64("window_seconds", s.WindowSeconds).
		Int64("accepted", s.Accepted).
		Int64("rejected_total", s.TotalRejected()).
		Dict("rejected", rejected).
		Int64("count", s.Count).
		Msg("activity summary")
	return nil
})

// Sender periodically flushes the window counter to a Pusher.
type Sender struct {
	version  string
	started  time.Time
	interval time.Duration
	counter  *Counter
	pusher   Pusher
	now      func() time.Time

	// Current supplies the counter value reported with each summary.
	Current func() int64
}

// NewSender builds a sender for the given interval and pusher.
func NewSender(version string, started time.Time, interval time.Duration, counter *Counter, pusher Pusher) *Sender {
	if counter == nil {
		counter = NewCounter()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sender{
		version:  version,
		started:  started.UTC(),
		interval: interval,
		counter:  counter,
		pusher:   pusher,
		now:      time.Now,
	}
}

// Run flushes on every interval tick until ctx is canceled.
func (s *Sender) Run(ctx context.Context) {
	if s.pusher == nil || s.counter == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("activity summary push failed")
			}
		}
	}
}

// Flush pushes one summary. An empty window is skipped; a failed push keeps
// the window for the next attempt.
func (s *Sender) Flush(ctx context.Context) error {
	if s.pusher == nil || s.counter == nil {
		return nil
	}

	w := s.counter.SnapshotAndReset()
	if w.Empty() {
		return nil
	}

	var count int64
	if s.Current != nil {
		count = s.Current()
	}
	summary := BuildSummaryAt(s.version, s.started, int64(s.interval.Seconds()), w, count, s.now().UTC())

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := s.pusher.Push(pushCtx, summary); err != nil {
		s.counter.Restore(w)
		return err
	}
	return nil
}
