package jobs

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"videra/internal/logging"
	"videra/internal/metrics"
)

// ErrNotFound is returned for unknown ids and for jobs that already have
// a consumer.
var ErrNotFound = errors.New("job not found")

// ArtifactsFunc names the scratch files a job leaves on disk besides its
// input, e.g. ffmpeg pass logs.
type ArtifactsFunc func(jobID string) []string

// Store is the in-memory registry of jobs. Records live only as long as
// the process.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	artifacts ArtifactsFunc
	logger    *zap.Logger
}

func NewStore(artifacts ArtifactsFunc, logger *zap.Logger) *Store {
	if artifacts == nil {
		artifacts = func(string) []string { return nil }
	}
	return &Store{
		jobs:      make(map[string]*Job),
		artifacts: artifacts,
		logger:    logging.OrNop(logger).Named("jobs"),
	}
}

// Create registers a pending job and returns its id.
func (s *Store) Create(data Data) string {
	job := &Job{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Data:      data,
		status:    StatusPending,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	n := len(s.jobs)
	s.mu.Unlock()

	metrics.JobsCreatedTotal.Inc()
	metrics.JobsActive.Set(float64(n))
	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("original_name", data.OriginalName),
		zap.Float64("duration_s", data.TotalDurationSeconds),
		zap.Float64("target_mb", data.TargetSizeMB))
	return job.ID
}

// Get returns the job without changing its state.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Has reports whether id is still registered.
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Len returns the number of registered jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Attach hands the job to its single consumer. Only a pending job can be
// attached; every later call gets ErrNotFound.
func (s *Store) Attach(id string) (*Job, error) {
	job, ok := s.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if !job.transition(StatusProcessing, StatusPending) {
		return nil, ErrNotFound
	}
	return job, nil
}

// Cleanup tears a job down: scratch files, input file, live process and
// finally the record. Concurrent and repeated calls are no-ops; the
// return value tells whether this call did the work.
func (s *Store) Cleanup(id string) bool {
	job, ok := s.Get(id)
	if !ok {
		return false
	}
	proc, ok := job.beginCleanup()
	if !ok {
		return false
	}

	logger := s.logger.With(zap.String("job_id", id))

	// 1. Scratch files ffmpeg wrote for this job
	for _, path := range s.artifacts(id) {
		removeQuietly(logger, path)
	}

	// 2. The assembled upload
	if job.InputPath != "" {
		removeQuietly(logger, job.InputPath)
	}

	// 3. Whatever pass is still running
	if proc != nil {
		switch err := proc.Kill(); {
		case err == nil:
			logger.Info("killed running ffmpeg", zap.Int("pid", proc.Pid))
		case !errors.Is(err, os.ErrProcessDone):
			logger.Warn("failed to kill ffmpeg", zap.Int("pid", proc.Pid), zap.Error(err))
		}
	}

	// 4. Forget the job
	s.mu.Lock()
	delete(s.jobs, id)
	n := len(s.jobs)
	s.mu.Unlock()
	job.transition(StatusRemoved, StatusCleaning)

	metrics.JobsActive.Set(float64(n))
	logger.Info("job cleaned up")
	return true
}

// CleanupAll tears down every registered job, e.g. at shutdown.
func (s *Store) CleanupAll() int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	n := 0
	for _, id := range ids {
		if s.Cleanup(id) {
			n++
		}
	}
	return n
}

func removeQuietly(logger *zap.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove file", zap.String("path", path), zap.Error(err))
	}
}
