package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"videra/internal/events"
	"videra/internal/logging"
	"videra/internal/metrics"
)

// Pass labels shown to the user.
const (
	LabelAnalyze  = "Analyzing - Pass 1 of 2"
	LabelCompress = "Compressing - Pass 2 of 2"
)

const (
	stderrTailLines  = 40
	defaultWaitDelay = 5 * time.Second
)

// ProcessHolder receives the live ffmpeg process while a pass runs so it
// can be killed from elsewhere. Track returns false when the holder is
// already shutting down; the runner then kills the process itself.
type ProcessHolder interface {
	Track(p *os.Process) bool
	Untrack()
}

// Pass is one ffmpeg invocation.
type Pass struct {
	Number       int
	Args         []string
	Offset       float64 // 0 or 50
	Label        string
	TotalSeconds float64 // duration of the input, for percentage math
	Encoder      string  // metrics label
}

// Runner executes encode passes.
type Runner struct {
	ffmpegPath string
	waitDelay  time.Duration
	logger     *zap.Logger
}

func NewRunner(ffmpegPath string, logger *zap.Logger) *Runner {
	return &Runner{
		ffmpegPath: ffmpegPath,
		waitDelay:  defaultWaitDelay,
		logger:     logging.OrNop(logger).Named("runner"),
	}
}

// RunPass starts ffmpeg, publishes the process on holder, and streams
// progress into sink until ffmpeg exits.
func (r *Runner) RunPass(ctx context.Context, holder ProcessHolder, pass Pass, sink events.Sink) error {
	logger := r.logger.With(zap.Int("pass", pass.Number))

	cmd := exec.CommandContext(ctx, r.ffmpegPath, pass.Args...)
	// A killed ffmpeg may leave the pipe open through children; don't wait forever.
	cmd.WaitDelay = r.waitDelay

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	// We use Start() instead of Run() so the process handle is available
	// to the job before any progress is reported.
	started := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error("failed to start ffmpeg", zap.String("binary", r.ffmpegPath), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrEncoderUnavailable, err)
	}
	if !holder.Track(cmd.Process) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return ErrCancelled
	}
	defer holder.Untrack()

	logger.Debug("ffmpeg started", zap.Int("pid", cmd.Process.Pid))

	tracker := newProgressTracker(pass.TotalSeconds, pass.Offset)
	sink.Emit(events.Progress(tracker.start(), pass.Label))

	tail := make([]string, 0, stderrTailLines)
	scanner := bufio.NewScanner(stderrPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m, ok := parseProgressLine(line); ok {
			if v, ok := tracker.observe(m); ok {
				sink.Emit(events.Progress(v, pass.Label))
			}
			continue
		}
		if isProgressLine(line) || strings.TrimSpace(line) == "" {
			continue
		}
		if len(tail) == stderrTailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stopped reading ffmpeg output", zap.Error(err))
		_, _ = io.Copy(io.Discard, stderrPipe)
	}

	waitErr := cmd.Wait()
	metrics.EncodePassDuration.
		WithLabelValues(strconv.Itoa(pass.Number), pass.Encoder).
		Observe(time.Since(started).Seconds())

	if waitErr != nil {
		// The full diagnostic stays in the log; callers only get the sentinel.
		logger.Error("ffmpeg pass failed",
			zap.Error(waitErr),
			zap.Int("exit_code", cmd.ProcessState.ExitCode()),
			zap.Strings("args", pass.Args),
			zap.String("stderr", strings.Join(tail, "\n")))
		return fmt.Errorf("%w: pass %d: %v", ErrEncodeFailed, pass.Number, waitErr)
	}

	logger.Debug("ffmpeg pass finished", zap.Duration("elapsed", time.Since(started)))
	return nil
}
