package transcoder

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ElapsedMarker is one position report from the encoder.
type ElapsedMarker struct {
	Seconds float64
	End     bool // the encoder finished this pass
}

// parseProgressLine understands the -progress output of ffmpeg:
//
//	out_time_us=15450000
//	out_time_ms=15450000   (microseconds, despite the name)
//	out_time=00:00:15.450000
//	progress=end
//
// Every other line yields ok=false.
func parseProgressLine(line string) (ElapsedMarker, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return ElapsedMarker{}, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return ElapsedMarker{}, false
		}
		return ElapsedMarker{Seconds: float64(us) / 1e6}, true
	case "out_time":
		secs, ok := parseClock(value)
		if !ok {
			return ElapsedMarker{}, false
		}
		return ElapsedMarker{Seconds: secs}, true
	case "progress":
		if value == "end" {
			return ElapsedMarker{End: true}, true
		}
	}
	return ElapsedMarker{}, false
}

// parseClock reads HH:MM:SS(.ffffff).
func parseClock(v string) (float64, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 || strings.HasPrefix(v, "-") {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(h*3600+m*60) + s, true
}

var progressKey = regexp.MustCompile(`^[a-z0-9_]+=\S*$`)

// isProgressLine reports whether line belongs to the -progress stream
// rather than to ffmpeg's diagnostics.
func isProgressLine(line string) bool {
	return progressKey.MatchString(strings.TrimSpace(line))
}

// progressTracker maps one pass onto its half of the 0-100 scale.
type progressTracker struct {
	total  float64 // job duration in seconds
	offset float64 // 0 for the analysis pass, 50 for the encode pass
	last   int
}

func newProgressTracker(totalSeconds, offset float64) *progressTracker {
	return &progressTracker{total: totalSeconds, offset: offset, last: -1}
}

// start returns the value reported when the pass begins.
func (t *progressTracker) start() float64 {
	t.last = int(math.Round(t.offset))
	return float64(t.last)
}

// observe returns the new global percentage when it moved forward.
func (t *progressTracker) observe(m ElapsedMarker) (float64, bool) {
	frac := 1.0
	if !m.End {
		if t.total <= 0 {
			return 0, false
		}
		frac = math.Max(0, math.Min(1, m.Seconds/t.total))
	}

	v := int(math.Round(t.offset + frac*50))
	if v <= t.last {
		return 0, false
	}
	t.last = v
	return float64(v), true
}
