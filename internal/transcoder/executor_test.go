package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"videra/internal/events"
)

type fakeHolder struct {
	mu        sync.Mutex
	refuse    bool
	proc      *os.Process
	untracked bool
	tracked   chan *os.Process
}

func newFakeHolder() *fakeHolder {
	return &fakeHolder{tracked: make(chan *os.Process, 1)}
}

func (h *fakeHolder) Track(p *os.Process) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuse {
		return false
	}
	h.proc = p
	select {
	case h.tracked <- p:
	default:
	}
	return true
}

func (h *fakeHolder) Untrack() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proc = nil
	h.untracked = true
}

const progressScript = `echo "out_time_us=0" >&2
echo "progress=continue" >&2
echo "frame=10" >&2
echo "out_time_us=50000000" >&2
echo "out_time_ms=50000000" >&2
echo "out_time=00:00:50.000000" >&2
echo "out_time_us=100000000" >&2
echo "progress=end" >&2
exit 0
`

func progressValues(rec *events.Recorder) []float64 {
	var out []float64
	for _, e := range rec.Events() {
		out = append(out, e.Value)
	}
	return out
}

func TestRunPassReportsGlobalProgress(t *testing.T) {
	bin := writeScript(t, "ffmpeg", progressScript)
	runner := NewRunner(bin, zap.NewNop())

	rec := &events.Recorder{}
	// Both passes publish their process to the same holder, as a job does.
	holder := newFakeHolder()
	passes := []Pass{
		{Number: 1, Offset: 0, Label: LabelAnalyze, TotalSeconds: 100, Encoder: CodecSoftware},
		{Number: 2, Offset: 50, Label: LabelCompress, TotalSeconds: 100, Encoder: CodecSoftware},
	}
	for _, p := range passes {
		done := make(chan error, 1)
		go func() { done <- runner.RunPass(context.Background(), holder, p, rec) }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("pass %d: %v", p.Number, err)
			}
		case <-time.After(15 * time.Second):
			t.Fatalf("pass %d hung", p.Number)
		}
	}

	got := progressValues(rec)
	want := []float64{0, 25, 50, 50, 75, 100}
	if !equalFloats(got, want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	evs := rec.Events()
	if evs[0].Text != LabelAnalyze || evs[len(evs)-1].Text != LabelCompress {
		t.Fatalf("labels not applied: %+v", evs)
	}
	if !holder.untracked || holder.proc != nil {
		t.Fatal("process handle must be cleared after the pass")
	}
}

func TestRunPassNonZeroExit(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "echo '[libx264 @ 0x55] secret /home/user/input.mov broke' >&2\nexit 1\n")
	core, logs := observer.New(zapcore.ErrorLevel)
	runner := NewRunner(bin, zap.New(core))

	rec := &events.Recorder{}
	err := runner.RunPass(context.Background(), newFakeHolder(), Pass{Number: 1, Label: LabelAnalyze, TotalSeconds: 10}, rec)
	if !errors.Is(err, ErrEncodeFailed) {
		t.Fatalf("error = %v, want ErrEncodeFailed", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("stderr leaked into error: %v", err)
	}

	entries := logs.FilterMessage("ffmpeg pass failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log entry, got %d", len(entries))
	}
	stderr := entries[0].ContextMap()["stderr"]
	if s, _ := stderr.(string); !strings.Contains(s, "secret") {
		t.Fatalf("stderr tail not logged: %v", entries[0].ContextMap())
	}
}

func TestRunPassMissingBinary(t *testing.T) {
	runner := NewRunner(filepath.Join(t.TempDir(), "no-ffmpeg"), zap.NewNop())
	rec := &events.Recorder{}
	err := runner.RunPass(context.Background(), newFakeHolder(), Pass{Number: 1}, rec)
	if !errors.Is(err, ErrEncoderUnavailable) {
		t.Fatalf("error = %v, want ErrEncoderUnavailable", err)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("no progress expected when ffmpeg never started: %+v", rec.Events())
	}
}

func TestRunPassKilledMidway(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "echo out_time_us=1000000 >&2\nexec sleep 30\n")
	runner := NewRunner(bin, zap.NewNop())
	holder := newFakeHolder()

	go func() {
		p := <-holder.tracked
		time.Sleep(100 * time.Millisecond)
		_ = p.Kill()
	}()

	done := make(chan error, 1)
	go func() {
		done <- runner.RunPass(context.Background(), holder, Pass{Number: 1, TotalSeconds: 10}, &events.Recorder{})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrEncodeFailed) {
			t.Fatalf("error = %v, want ErrEncodeFailed", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("RunPass hung after the process was killed")
	}
}

func TestRunPassRefusedHolder(t *testing.T) {
	bin := writeScript(t, "ffmpeg", "exec sleep 30\n")
	runner := NewRunner(bin, zap.NewNop())
	holder := newFakeHolder()
	holder.refuse = true

	rec := &events.Recorder{}
	start := time.Now()
	err := runner.RunPass(context.Background(), holder, Pass{Number: 2}, rec)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("refused process was not killed promptly")
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("cancelled pass emitted events: %+v", rec.Events())
	}
}
