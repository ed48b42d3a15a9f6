package transcoder

import (
	"fmt"
	"math"
)

const (
	DefaultAudioBitrateKbps = 128
	DefaultSafetyMargin     = 0.94

	// MinVideoKbps is the lowest average video bitrate worth encoding.
	MinVideoKbps = 50
)

// BitratePlan holds the rate-control values for both passes, in kbit/s.
type BitratePlan struct {
	VideoKbps  int `json:"videoBitrateKbps"`
	MaxKbps    int `json:"videoMaxBitrateKbps"`
	BufferKbps int `json:"bufferSizeKbps"`
}

// Planner turns a target file size into a BitratePlan. The audio track is
// assumed constant bitrate and the video budget is shrunk by SafetyMargin
// to leave room for container overhead.
type Planner struct {
	AudioBitrateKbps int
	SafetyMargin     float64
}

func DefaultPlanner() Planner {
	return Planner{AudioBitrateKbps: DefaultAudioBitrateKbps, SafetyMargin: DefaultSafetyMargin}
}

// Plan computes the bitrate that makes a durationSeconds video land at
// roughly targetSizeMB. It fails with ErrInfeasible when the budget cannot
// hold a watchable video.
func (p Planner) Plan(targetSizeMB, durationSeconds float64) (BitratePlan, error) {
	if !(targetSizeMB > 0) || math.IsInf(targetSizeMB, 0) {
		return BitratePlan{}, fmt.Errorf("%w: target size must be a positive number of MB", ErrInfeasible)
	}
	if !(durationSeconds > 0) || math.IsInf(durationSeconds, 0) {
		return BitratePlan{}, fmt.Errorf("%w: video duration must be positive", ErrInfeasible)
	}

	totalBits := targetSizeMB * 8 * 1024 * 1024
	audioBits := float64(p.AudioBitrateKbps) * 1000 * durationSeconds
	videoBits := (totalBits - audioBits) * p.SafetyMargin
	if videoBits <= 0 {
		return BitratePlan{}, fmt.Errorf("%w: target size of %gMB is too small to hold the audio track of this video", ErrInfeasible, targetSizeMB)
	}

	videoKbps := int(math.Floor(videoBits / durationSeconds / 1000))
	if videoKbps <= MinVideoKbps {
		return BitratePlan{}, fmt.Errorf("%w: target size of %gMB is too small for this video duration", ErrInfeasible, targetSizeMB)
	}

	maxKbps := int(math.Floor(float64(videoKbps) * 1.5))
	return BitratePlan{
		VideoKbps:  videoKbps,
		MaxKbps:    maxKbps,
		BufferKbps: maxKbps * 2,
	}, nil
}
