// Package workspace owns the directories the service writes to and makes
// sure only one instance uses them at a time.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"videra/internal/logging"
)

const lockName = ".videra.lock"

// Layout names the working directories.
type Layout struct {
	DataDir    string
	Uploads    string
	Compressed string
	Logs       string
}

// Workspace is a locked, prepared Layout.
type Workspace struct {
	Layout
	lock   *flock.Flock
	logger *zap.Logger
}

// Open creates the directories and takes the instance lock. It fails if
// another process holds the lock.
func Open(layout Layout, logger *zap.Logger) (*Workspace, error) {
	logger = logging.OrNop(logger).Named("workspace")

	for _, dir := range []string{layout.DataDir, layout.Uploads, layout.Compressed, layout.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}

	lockPath := filepath.Join(layout.DataDir, lockName)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another videra instance is already using " + layout.DataDir)
	}

	logger.Debug("workspace locked", zap.String("lock", lockPath))
	return &Workspace{Layout: layout, lock: lock, logger: logger}, nil
}

// Sweep empties the upload, output and log directories. Anything there is
// left over from a previous run, since job state does not survive restarts.
func (w *Workspace) Sweep() error {
	var errs []error
	for _, dir := range []string{w.Uploads, w.Compressed, w.Logs} {
		n, err := sweepDir(dir)
		if err != nil {
			errs = append(errs, err)
		}
		if n > 0 {
			w.logger.Info("removed leftovers", zap.String("dir", dir), zap.Int("items", n))
		}
	}
	return errors.Join(errs...)
}

// Close releases the instance lock.
func (w *Workspace) Close() error {
	return w.lock.Unlock()
}

func sweepDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
