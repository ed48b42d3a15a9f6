// Package upload stores chunked uploads and stitches them back together.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"videra/internal/logging"
	"videra/internal/metrics"
)

var (
	// ErrIncompleteUpload means at least one chunk never arrived.
	ErrIncompleteUpload = errors.New("upload incomplete")
	// ErrInvalidUpload means the id, index or total is unusable.
	ErrInvalidUpload = errors.New("invalid upload request")
	// ErrUploadClosed means the upload is already being assembled.
	ErrUploadClosed = errors.New("upload already finalizing")
)

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type session struct {
	received     map[int]bool
	total        int
	lastActivity time.Time
	closed       bool
}

// Assembler keeps each upload's chunks under <dir>/<uploadID>/<n>.chunk
// until Finalize merges them.
type Assembler struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewAssembler(dir string, logger *zap.Logger) *Assembler {
	return &Assembler{
		dir:      dir,
		logger:   logging.OrNop(logger).Named("upload"),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (a *Assembler) sessionDir(uploadID string) string {
	return filepath.Join(a.dir, uploadID)
}

func chunkName(index int) string {
	return strconv.Itoa(index) + ".chunk"
}

// PutChunk stores chunk index of an upload. totalChunks may be 0 when the
// client does not declare it yet. Sending the same index again replaces
// the stored bytes.
func (a *Assembler) PutChunk(uploadID string, index, totalChunks int, data io.Reader) error {
	if !uploadIDPattern.MatchString(uploadID) {
		return fmt.Errorf("%w: bad upload id", ErrInvalidUpload)
	}
	if index < 0 || totalChunks < 0 || (totalChunks > 0 && index >= totalChunks) {
		return fmt.Errorf("%w: chunk %d outside [0, %d)", ErrInvalidUpload, index, totalChunks)
	}

	a.mu.Lock()
	s, ok := a.sessions[uploadID]
	if !ok {
		s = &session{received: make(map[int]bool)}
		a.sessions[uploadID] = s
	}
	if s.closed {
		a.mu.Unlock()
		return ErrUploadClosed
	}
	if totalChunks > 0 {
		s.total = totalChunks
	}
	s.lastActivity = a.now()
	a.mu.Unlock()

	dir := a.sessionDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	final := filepath.Join(dir, chunkName(index))
	tmp, err := os.CreateTemp(dir, chunkName(index)+".*.part")
	if err != nil {
		return fmt.Errorf("create chunk: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write chunk %d: %w", index, err)
	}

	// Finalize and ReapIdle close the session before touching its
	// directory, so a chunk is only published while it is still open.
	a.mu.Lock()
	if s.closed || a.sessions[uploadID] != s {
		a.mu.Unlock()
		os.Remove(tmp.Name())
		// Drops a directory recreated above after the session went away.
		os.Remove(dir)
		return ErrUploadClosed
	}
	err = os.Rename(tmp.Name(), final)
	if err == nil {
		s.received[index] = true
	}
	a.mu.Unlock()
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store chunk %d: %w", index, err)
	}

	metrics.UploadChunksTotal.Inc()
	return nil
}

// Finalize concatenates chunks 0..totalChunks-1 into
// <dir>/<uploadID><ext> and returns that path. Each chunk is deleted as
// soon as it has been copied. On any failure the session directory and
// the partial output are removed.
func (a *Assembler) Finalize(uploadID string, totalChunks int, originalName string) (string, error) {
	if !uploadIDPattern.MatchString(uploadID) {
		return "", fmt.Errorf("%w: bad upload id", ErrInvalidUpload)
	}
	if totalChunks <= 0 {
		return "", fmt.Errorf("%w: total chunks must be positive", ErrInvalidUpload)
	}

	a.mu.Lock()
	if s, ok := a.sessions[uploadID]; ok {
		if s.closed {
			a.mu.Unlock()
			return "", ErrUploadClosed
		}
		s.closed = true
	}
	a.mu.Unlock()
	defer a.forget(uploadID)

	logger := a.logger.With(zap.String("upload_id", uploadID))
	dir := a.sessionDir(uploadID)

	// 1. Every chunk must be on disk before anything is merged.
	for i := 0; i < totalChunks; i++ {
		if _, err := os.Stat(filepath.Join(dir, chunkName(i))); err != nil {
			a.discard(dir, "")
			logger.Warn("upload incomplete", zap.Int("missing_chunk", i), zap.Int("total", totalChunks))
			return "", fmt.Errorf("%w: chunk %d of %d missing", ErrIncompleteUpload, i, totalChunks)
		}
	}

	// 2. Merge in numeric order, dropping chunks as we go. An input
	// assembled earlier under the same id may still belong to a job.
	outPath := filepath.Join(a.dir, uploadID+inputExt(originalName))
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		a.discard(dir, "")
		if errors.Is(err, os.ErrExist) {
			logger.Warn("upload id already assembled", zap.String("path", outPath))
			return "", fmt.Errorf("%w: %s is already assembled", ErrUploadClosed, uploadID)
		}
		return "", fmt.Errorf("create assembled file: %w", err)
	}

	var written int64
	for i := 0; i < totalChunks; i++ {
		n, err := appendChunk(out, filepath.Join(dir, chunkName(i)))
		written += n
		if err != nil {
			out.Close()
			a.discard(dir, outPath)
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: chunk %d of %d vanished", ErrIncompleteUpload, i, totalChunks)
			}
			return "", fmt.Errorf("merge chunk %d: %w", i, err)
		}
	}
	if err := out.Close(); err != nil {
		a.discard(dir, outPath)
		return "", fmt.Errorf("close assembled file: %w", err)
	}

	// 3. The session directory should be empty now.
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove upload dir", zap.Error(err))
	}

	metrics.UploadAssembledBytes.Add(float64(written))
	logger.Info("upload assembled",
		zap.String("path", outPath),
		zap.Int("chunks", totalChunks),
		zap.String("size", humanize.Bytes(uint64(written))))
	return outPath, nil
}

func appendChunk(out *os.File, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	in.Close()
	if err != nil {
		return n, err
	}
	return n, os.Remove(path)
}

func (a *Assembler) discard(dir, partial string) {
	if partial != "" {
		if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("failed to remove partial output", zap.String("path", partial), zap.Error(err))
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		a.logger.Warn("failed to remove upload dir", zap.String("dir", dir), zap.Error(err))
	}
}

func (a *Assembler) forget(uploadID string) {
	a.mu.Lock()
	delete(a.sessions, uploadID)
	a.mu.Unlock()
}

// Received returns how many distinct chunks an open upload has stored.
func (a *Assembler) Received(uploadID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[uploadID]; ok {
		return len(s.received)
	}
	return 0
}

// ReapIdle drops open uploads untouched for longer than maxIdle and
// returns how many were removed.
func (a *Assembler) ReapIdle(maxIdle time.Duration) int {
	cutoff := a.now().Add(-maxIdle)

	a.mu.Lock()
	var stale []string
	for id, s := range a.sessions {
		if !s.closed && s.lastActivity.Before(cutoff) {
			s.closed = true
			stale = append(stale, id)
		}
	}
	a.mu.Unlock()

	for _, id := range stale {
		a.discard(a.sessionDir(id), "")
		a.forget(id)
		a.logger.Info("abandoned upload removed", zap.String("upload_id", id))
	}
	metrics.UploadSessionsReaped.Add(float64(len(stale)))
	return len(stale)
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// inputExt keeps the uploaded extension when it is a plain one.
func inputExt(originalName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}
