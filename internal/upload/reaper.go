package upload

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically removes uploads that clients abandoned halfway.
type Reaper struct {
	assembler *Assembler
	interval  time.Duration
	maxIdle   time.Duration
}

func NewReaper(a *Assembler, interval, maxIdle time.Duration) *Reaper {
	return &Reaper{assembler: a, interval: interval, maxIdle: maxIdle}
}

// Start launches the reap loop in the background. It stops when ctx is
// cancelled.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)

	go func() {
		defer ticker.Stop()
		r.assembler.logger.Debug("upload reaper started",
			zap.Duration("interval", r.interval),
			zap.Duration("max_idle", r.maxIdle))

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.assembler.ReapIdle(r.maxIdle)
			}
		}
	}()
}
