package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitGone(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s was not deleted", path)
}

func TestRemoveAfterDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewExpirer(zap.NewNop())
	e.RemoveAfter(path, 20*time.Millisecond)
	waitGone(t, path)

	deadline := time.Now().Add(time.Second)
	for e.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e.Pending() != 0 {
		t.Fatalf("Pending = %d after firing", e.Pending())
	}
}

func TestRemoveAfterMissingFileIsQuiet(t *testing.T) {
	e := NewExpirer(zap.NewNop())
	e.RemoveAfter(filepath.Join(t.TempDir(), "never-written.mp4"), time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if e.Pending() != 0 {
		t.Fatalf("Pending = %d", e.Pending())
	}
}

func TestStopCancelsDeletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keep.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewExpirer(zap.NewNop())
	e.RemoveAfter(path, 50*time.Millisecond)
	e.Stop()
	time.Sleep(150 * time.Millisecond)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file removed despite Stop: %v", err)
	}
}
