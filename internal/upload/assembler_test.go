package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func putAll(t *testing.T, a *Assembler, id string, total int, indices ...int) {
	t.Helper()
	for _, i := range indices {
		if err := a.PutChunk(id, i, total, strings.NewReader(string(rune('a'+i)))); err != nil {
			t.Fatalf("PutChunk(%d): %v", i, err)
		}
	}
}

func TestFinalizeMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, zap.NewNop())

	// out of order on purpose
	putAll(t, a, "up1", 5, 3, 0, 4, 1, 2)
	if a.Received("up1") != 5 {
		t.Fatalf("Received = %d, want 5", a.Received("up1"))
	}

	path, err := a.Finalize("up1", 5, "Holiday.MOV")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if path != filepath.Join(dir, "up1.mov") {
		t.Fatalf("path = %q", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "abcde" {
		t.Fatalf("merged content = %q, want abcde", body)
	}
	if _, err := os.Stat(filepath.Join(dir, "up1")); !os.IsNotExist(err) {
		t.Fatal("session directory left behind")
	}
}

func TestFinalizeMissingChunkLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, zap.NewNop())
	putAll(t, a, "up2", 5, 0, 1, 3, 4)

	_, err := a.Finalize("up2", 5, "clip.mp4")
	if !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("error = %v, want ErrIncompleteUpload", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("residual files after failed finalize: %v", names)
	}
}

func TestFinalizeUnknownUpload(t *testing.T) {
	a := NewAssembler(t.TempDir(), zap.NewNop())
	if _, err := a.Finalize("never-seen", 2, "a.mp4"); !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("error = %v, want ErrIncompleteUpload", err)
	}
}

func TestPutChunkReplacesSameIndex(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, zap.NewNop())

	if err := a.PutChunk("up3", 0, 1, strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if err := a.PutChunk("up3", 0, 1, strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}
	if a.Received("up3") != 1 {
		t.Fatalf("Received = %d, want 1", a.Received("up3"))
	}

	path, err := a.Finalize("up3", 1, "x.webm")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	body, _ := os.ReadFile(path)
	if string(body) != "second" {
		t.Fatalf("content = %q, want second", body)
	}
}

func TestPutChunkValidation(t *testing.T) {
	a := NewAssembler(t.TempDir(), zap.NewNop())
	tests := []struct {
		name  string
		id    string
		index int
		total int
	}{
		{"traversal id", "../etc", 0, 1},
		{"empty id", "", 0, 1},
		{"negative index", "ok", -1, 3},
		{"index past total", "ok", 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.PutChunk(tt.id, tt.index, tt.total, strings.NewReader("x"))
			if !errors.Is(err, ErrInvalidUpload) {
				t.Fatalf("error = %v, want ErrInvalidUpload", err)
			}
		})
	}
}

func TestPutChunkAfterFinalizeStarts(t *testing.T) {
	a := NewAssembler(t.TempDir(), zap.NewNop())
	putAll(t, a, "up4", 2, 0)

	a.mu.Lock()
	a.sessions["up4"].closed = true
	a.mu.Unlock()

	if err := a.PutChunk("up4", 1, 2, strings.NewReader("b")); !errors.Is(err, ErrUploadClosed) {
		t.Fatalf("error = %v, want ErrUploadClosed", err)
	}
}

// gatedReader blocks its first Read until release is closed.
type gatedReader struct {
	started chan struct{}
	release chan struct{}
	body    io.Reader
	once    sync.Once
}

func newGatedReader(body string) *gatedReader {
	return &gatedReader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		body:    strings.NewReader(body),
	}
}

func (r *gatedReader) Read(p []byte) (int, error) {
	r.once.Do(func() {
		close(r.started)
		<-r.release
	})
	return r.body.Read(p)
}

func TestPutChunkRacingFinalizeLeavesNoDirectory(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, zap.NewNop())
	body := newGatedReader("late")

	done := make(chan error, 1)
	go func() { done <- a.PutChunk("up5", 0, 1, body) }()
	<-body.started

	// Finalize closes the session and removes its directory while the
	// chunk is still being written.
	if _, err := a.Finalize("up5", 1, "a.mp4"); !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("Finalize error = %v, want ErrIncompleteUpload", err)
	}
	close(body.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrUploadClosed) {
			t.Fatalf("PutChunk error = %v, want ErrUploadClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("PutChunk hung")
	}
	if _, err := os.Stat(filepath.Join(dir, "up5")); !os.IsNotExist(err) {
		t.Fatal("chunk directory outlived its session")
	}
	if a.Received("up5") != 0 {
		t.Fatal("closed upload still reports chunks")
	}
}

func TestFinalizeKeepsEarlierInputWithSameID(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, zap.NewNop())

	putAll(t, a, "up6", 1, 0)
	first, err := a.Finalize("up6", 1, "a.mp4")
	if err != nil {
		t.Fatalf("first Finalize: %v", err)
	}

	if err := a.PutChunk("up6", 0, 1, strings.NewReader("other")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Finalize("up6", 1, "a.mp4"); !errors.Is(err, ErrUploadClosed) {
		t.Fatalf("second Finalize error = %v, want ErrUploadClosed", err)
	}

	body, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "a" {
		t.Fatalf("earlier input overwritten: %q", body)
	}
	if _, err := os.Stat(filepath.Join(dir, "up6")); !os.IsNotExist(err) {
		t.Fatal("chunks of the rejected upload left behind")
	}
}

func TestReapIdle(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, zap.NewNop())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	putAll(t, a, "stale", 3, 0)
	now = now.Add(2 * time.Hour)
	putAll(t, a, "fresh", 3, 0)

	if n := a.ReapIdle(time.Hour); n != 1 {
		t.Fatalf("ReapIdle = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale")); !os.IsNotExist(err) {
		t.Fatal("stale upload dir still present")
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh", "0.chunk")); err != nil {
		t.Fatalf("fresh upload touched: %v", err)
	}
}

func TestReaperStopsWithContext(t *testing.T) {
	a := NewAssembler(t.TempDir(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	NewReaper(a, time.Millisecond, time.Hour).Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
}

func TestInputExt(t *testing.T) {
	tests := map[string]string{
		"movie.MKV":        ".mkv",
		"noext":            "",
		"weird.mp4 ":       "",
		"../../x/clip.mov": ".mov",
	}
	for in, want := range tests {
		if got := inputExt(in); got != want {
			t.Fatalf("inputExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsVideo(t *testing.T) {
	tests := []struct {
		name, contentType string
		want              bool
	}{
		{"a.MP4", "", true},
		{"a.bin", "video/quicktime", true},
		{"blob", "application/octet-stream", false},
		{"notes.txt", "text/plain", false},
	}
	for _, tt := range tests {
		if got := IsVideo(tt.name, tt.contentType); got != tt.want {
			t.Fatalf("IsVideo(%q, %q) = %v, want %v", tt.name, tt.contentType, got, tt.want)
		}
	}
}
