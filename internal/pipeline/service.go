// Package pipeline ties uploads, probing, planning and the encode passes
// together into compression jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"videra/internal/events"
	"videra/internal/jobs"
	"videra/internal/logging"
	"videra/internal/metrics"
	"videra/internal/scheduler"
	"videra/internal/transcoder"
	"videra/internal/upload"
	"videra/pkg/models"
)

const labelFinalizing = "Finalizing..."

// Prober reads the metadata of an assembled upload.
type Prober interface {
	Probe(ctx context.Context, path string) (transcoder.Metadata, error)
}

// PassRunner executes one ffmpeg pass.
type PassRunner interface {
	RunPass(ctx context.Context, holder transcoder.ProcessHolder, pass transcoder.Pass, sink events.Sink) error
}

// Notifier is told about every finished job.
type Notifier interface {
	NotifyJobResult(ctx context.Context, payload models.JobResultPayload) error
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Assembler *upload.Assembler
	Prober    Prober
	Runner    PassRunner
	Store     *jobs.Store
	Expirer   *scheduler.Expirer
	Notifier  Notifier // optional
	Profile   transcoder.EncoderProfile
	Planner   transcoder.Planner
	Logger    *zap.Logger
}

// Options locate outputs and control their lifetime.
type Options struct {
	CompressedDir  string
	LogsDir        string
	DownloadPrefix string // URL prefix the compressed dir is served under
	OutputTTL      time.Duration
}

// Service is the entry point the transport layer calls.
type Service struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	notifications sync.WaitGroup
}

func New(deps Deps, opts Options) *Service {
	if opts.DownloadPrefix == "" {
		opts.DownloadPrefix = "/compressed"
	}
	if opts.OutputTTL <= 0 {
		opts.OutputTTL = time.Hour
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logging.OrNop(deps.Logger).Named("pipeline"),
	}
}

// PassLogPrefix is the -passlogfile value for a job.
func PassLogPrefix(logsDir, jobID string) string {
	return filepath.Join(logsDir, jobID)
}

// Profile returns the encoder every job uses.
func (s *Service) Profile() transcoder.EncoderProfile {
	return s.deps.Profile
}

// ActiveJobs returns the number of job records in memory.
func (s *Service) ActiveJobs() int {
	return s.deps.Store.Len()
}

// PutChunk stores one chunk of an upload.
func (s *Service) PutChunk(uploadID string, index, totalChunks int, data io.Reader) error {
	return s.deps.Assembler.PutChunk(uploadID, index, totalChunks, data)
}

// ReceivedChunks returns how many chunks of an open upload are stored.
func (s *Service) ReceivedChunks(uploadID string) int {
	return s.deps.Assembler.Received(uploadID)
}

// FinalizeUpload assembles an upload, probes it and plans the bitrate. Only
// when all three succeed is a pending job created; otherwise the assembled
// file is deleted and the error returned.
func (s *Service) FinalizeUpload(ctx context.Context, req models.CompleteUploadRequest) (models.JobCreated, error) {
	inputPath, err := s.deps.Assembler.Finalize(req.UploadID, req.TotalChunks, req.OriginalName)
	if err != nil {
		metrics.JobCreationFailures.WithLabelValues(creationFailureReason(err)).Inc()
		return models.JobCreated{}, err
	}

	discard := func(err error) (models.JobCreated, error) {
		if rmErr := os.Remove(inputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove rejected upload", zap.String("path", inputPath), zap.Error(rmErr))
		}
		metrics.JobCreationFailures.WithLabelValues(creationFailureReason(err)).Inc()
		return models.JobCreated{}, err
	}

	md, err := s.deps.Prober.Probe(ctx, inputPath)
	if err != nil {
		return discard(err)
	}
	plan, err := s.deps.Planner.Plan(req.TargetSizeMB, md.DurationSeconds)
	if err != nil {
		return discard(err)
	}

	id := s.CreateJob(jobs.Data{
		InputPath:            inputPath,
		OriginalName:         req.OriginalName,
		TargetSizeMB:         req.TargetSizeMB,
		TotalDurationSeconds: md.DurationSeconds,
		FrameCount:           md.FrameCount,
		Plan:                 plan,
	})
	return models.JobCreated{JobID: id, Duration: md.DurationSeconds}, nil
}

// CreateJob registers a pending job for an already prepared input.
func (s *Service) CreateJob(data jobs.Data) string {
	return s.deps.Store.Create(data)
}

// AttachToJob claims a pending job for its single consumer.
func (s *Service) AttachToJob(jobID string) (*jobs.Job, error) {
	return s.deps.Store.Attach(jobID)
}

// RequestCancel tears the job down wherever it is. It reports whether a
// job was actually cancelled by this call.
func (s *Service) RequestCancel(jobID string) bool {
	ok := s.deps.Store.Cleanup(jobID)
	if ok {
		s.logger.Info("job cancelled", zap.String("job_id", jobID))
	}
	return ok
}

// Run encodes an attached job, streaming events into sink, and always
// leaves the job cleaned up. Cancelling ctx (the consumer went away)
// cleans the job up immediately, killing a running pass.
func (s *Service) Run(ctx context.Context, job *jobs.Job, sink events.Sink) (err error) {
	logger := s.logger.With(zap.String("job_id", job.ID))
	guard := events.NewGuard(events.Tee(sink, traceSink(logger)))
	disconnected := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(disconnected)
		s.deps.Store.Cleanup(job.ID)
	})
	defer func() {
		if !stop() {
			<-disconnected
		}
		s.deps.Store.Cleanup(job.ID)
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job pipeline panicked", zap.Any("panic", r))
			if !guard.Closed() {
				guard.Emit(events.Failure(PublicMessage(nil)))
			}
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	started := time.Now()
	outputName := transcoder.OutputName(job.OriginalName, job.ID)
	outputPath := filepath.Join(s.opts.CompressedDir, outputName)

	if err = s.encode(ctx, job, outputPath, guard); err != nil {
		err = s.classify(ctx, job, err)
		if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("failed to remove partial output", zap.Error(rmErr))
		}

		outcome := metrics.OutcomeFailed
		if errors.Is(err, transcoder.ErrCancelled) {
			outcome = metrics.OutcomeCancelled
			logger.Info("job cancelled during encode")
		} else {
			logger.Error("job failed", zap.Error(err))
		}
		metrics.JobsFinishedTotal.WithLabelValues(outcome).Inc()

		msg := PublicMessage(err)
		guard.Emit(events.Failure(msg))
		s.notify(job, models.JobResultPayload{Status: models.JobFailed, ErrorMsg: msg}, started)
		return err
	}

	guard.Emit(events.Progress(100, labelFinalizing))
	s.deps.Expirer.RemoveAfter(outputPath, s.opts.OutputTTL)

	downloadURL := path.Join(s.opts.DownloadPrefix, outputName)
	guard.Emit(events.Done(downloadURL))
	metrics.JobsFinishedTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
	logger.Info("job completed",
		zap.String("output", outputPath),
		zap.Duration("elapsed", time.Since(started)))

	s.notify(job, models.JobResultPayload{Status: models.JobCompleted, DownloadURL: downloadURL}, started)
	return nil
}

func traceSink(logger *zap.Logger) events.Sink {
	return events.SinkFunc(func(e models.Event) {
		logger.Debug("job event",
			zap.String("type", e.Type),
			zap.Float64("value", e.Value),
			zap.String("text", e.Text))
	})
}

func (s *Service) encode(ctx context.Context, job *jobs.Job, outputPath string, sink events.Sink) error {
	passes := []struct {
		number int
		offset float64
		label  string
	}{
		{transcoder.PassAnalyze, 0, transcoder.LabelAnalyze},
		{transcoder.PassCompress, 50, transcoder.LabelCompress},
	}

	prefix := PassLogPrefix(s.opts.LogsDir, job.ID)
	for _, p := range passes {
		// A job cancelled during pass 1 must not start pass 2.
		if job.Closing() || !s.deps.Store.Has(job.ID) {
			return transcoder.ErrCancelled
		}

		args := transcoder.BuildPassArgs(s.deps.Profile, job.Plan, transcoder.PassInput{
			Pass:             p.number,
			InputPath:        job.InputPath,
			PassLogPrefix:    prefix,
			OutputPath:       outputPath,
			AudioBitrateKbps: s.deps.Planner.AudioBitrateKbps,
		})
		err := s.deps.Runner.RunPass(ctx, job, transcoder.Pass{
			Number:       p.number,
			Args:         args,
			Offset:       p.offset,
			Label:        p.label,
			TotalSeconds: job.TotalDurationSeconds,
			Encoder:      s.deps.Profile.Codec,
		}, sink)
		if err != nil {
			return err
		}
	}
	return nil
}

// classify turns a pass failure caused by teardown into ErrCancelled.
func (s *Service) classify(ctx context.Context, job *jobs.Job, err error) error {
	if errors.Is(err, transcoder.ErrCancelled) {
		return err
	}
	if errors.Is(err, transcoder.ErrEncodeFailed) && (job.Closing() || ctx.Err() != nil) {
		return errors.Join(transcoder.ErrCancelled, err)
	}
	return err
}

func (s *Service) notify(job *jobs.Job, payload models.JobResultPayload, started time.Time) {
	if s.deps.Notifier == nil {
		return
	}
	payload.JobID = job.ID
	payload.OriginalName = job.OriginalName
	payload.FinishedAt = time.Now().UTC()
	payload.Metrics.TotalTimeMS = time.Since(started).Milliseconds()
	payload.Metrics.TargetSizeMB = job.TargetSizeMB
	payload.Metrics.VideoKbps = job.Plan.VideoKbps

	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.deps.Notifier.NotifyJobResult(ctx, payload); err != nil {
			s.logger.Warn("webhook notification failed", zap.String("job_id", payload.JobID), zap.Error(err))
		}
	}()
}

// Shutdown cancels every job still in memory and waits for outstanding
// webhook calls.
func (s *Service) Shutdown() {
	if n := s.deps.Store.CleanupAll(); n > 0 {
		s.logger.Info("cancelled jobs at shutdown", zap.Int("jobs", n))
	}
	s.deps.Expirer.Stop()
	s.notifications.Wait()
}

// PublicMessage is the user-facing text for a pipeline error. Process
// details never reach it.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, transcoder.ErrCancelled):
		return "Compression was cancelled"
	case errors.Is(err, transcoder.ErrEncoderUnavailable):
		return "The video encoder is not available on the server"
	case errors.Is(err, transcoder.ErrEncodeFailed):
		return "Compression process failed, check server logs for details"
	default:
		return "Compression failed unexpectedly"
	}
}

func creationFailureReason(err error) string {
	switch {
	case errors.Is(err, upload.ErrIncompleteUpload):
		return "incomplete"
	case errors.Is(err, transcoder.ErrUnreadableMetadata), errors.Is(err, transcoder.ErrProberUnavailable):
		return "metadata"
	case errors.Is(err, transcoder.ErrInfeasible):
		return "infeasible"
	default:
		return "other"
	}
}
