package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"videra/internal/logging"
)

// Metadata is what the pipeline needs to know about an input file.
type Metadata struct {
	DurationSeconds float64
	FrameCount      int64 // 0 when the container does not report it
}

// Prober reads input metadata with ffprobe.
type Prober struct {
	probePath string
	logger    *zap.Logger
}

func NewProber(probePath string, logger *zap.Logger) *Prober {
	return &Prober{
		probePath: probePath,
		logger:    logging.OrNop(logger).Named("probe"),
	}
}

// Probe uses ffprobe to get the duration and frame count of path.
func (p *Prober) Probe(ctx context.Context, path string) (Metadata, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration:stream=nb_frames",
		"-of", "default=noprint_wrappers=1",
		path,
	}
	cmd := exec.CommandContext(ctx, p.probePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.logger.Warn("ffprobe rejected input",
				zap.String("path", path),
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("stderr", strings.TrimSpace(stderr.String())))
			return Metadata{}, fmt.Errorf("%w: ffprobe exited with status %d", ErrUnreadableMetadata, exitErr.ExitCode())
		}
		return Metadata{}, fmt.Errorf("%w: %v", ErrProberUnavailable, err)
	}

	md, err := parseProbeOutput(string(output))
	if err != nil {
		p.logger.Warn("ffprobe output unusable", zap.String("path", path), zap.Error(err))
		return Metadata{}, err
	}
	return md, nil
}

// parseProbeOutput reads ffprobe's key=value lines, e.g.
//
//	nb_frames=1440
//	duration=60.048000
func parseProbeOutput(out string) (Metadata, error) {
	var md Metadata
	haveDuration := false

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "duration":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("%w: duration %q is not a number", ErrUnreadableMetadata, value)
			}
			md.DurationSeconds = d
			haveDuration = true
		case "nb_frames":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
				md.FrameCount = n
			}
		}
	}

	if !haveDuration {
		return Metadata{}, fmt.Errorf("%w: no duration reported", ErrUnreadableMetadata)
	}
	if math.IsNaN(md.DurationSeconds) || math.IsInf(md.DurationSeconds, 0) || md.DurationSeconds <= 0 {
		return Metadata{}, fmt.Errorf("%w: invalid duration %v", ErrUnreadableMetadata, md.DurationSeconds)
	}
	return md, nil
}
