package scheduler

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"videra/internal/logging"
)

// Expirer deletes finished outputs after they have been downloadable for
// a while. Pending deletions are lost on restart; the boot sweep covers
// them.
type Expirer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger *zap.Logger
}

func NewExpirer(logger *zap.Logger) *Expirer {
	return &Expirer{
		timers: make(map[string]*time.Timer),
		logger: logging.OrNop(logger).Named("expirer"),
	}
}

// RemoveAfter deletes path once d has elapsed. Scheduling the same path
// again restarts its clock.
func (e *Expirer) RemoveAfter(path string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[path]; ok {
		t.Stop()
	}
	e.timers[path] = time.AfterFunc(d, func() { e.fire(path) })
	e.logger.Debug("output deletion scheduled", zap.String("path", path), zap.Duration("after", d))
}

func (e *Expirer) fire(path string) {
	e.mu.Lock()
	delete(e.timers, path)
	e.mu.Unlock()

	err := os.Remove(path)
	switch {
	case err == nil:
		e.logger.Info("expired output deleted", zap.String("path", path))
	case errors.Is(err, fs.ErrNotExist):
		// already gone
	default:
		e.logger.Warn("failed to delete expired output", zap.String("path", path), zap.Error(err))
	}
}

// Pending returns the number of scheduled deletions.
func (e *Expirer) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Stop cancels every scheduled deletion.
func (e *Expirer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for path, t := range e.timers {
		t.Stop()
		delete(e.timers, path)
	}
}
