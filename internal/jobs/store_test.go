package jobs

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	logs := t.TempDir()
	store := NewStore(func(id string) []string {
		prefix := filepath.Join(logs, id)
		return []string{prefix + "-0.log", prefix + "-0.log.mbtree"}
	}, zap.NewNop())
	return store, logs
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestAttachTwiceReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	id := store.Create(Data{OriginalName: "a.mp4"})

	job, err := store.Attach(id)
	if err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	if job.Status() != StatusProcessing {
		t.Fatalf("status = %s, want processing", job.Status())
	}
	if _, err := store.Attach(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Attach error = %v, want ErrNotFound", err)
	}
	if !store.Has(id) {
		t.Fatal("record must survive a rejected attach")
	}
}

func TestAttachUnknown(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Attach("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateIDsAreUnique(t *testing.T) {
	store, _ := newTestStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := store.Create(Data{})
		if seen[id] || len(id) < 32 {
			t.Fatalf("bad id %q", id)
		}
		seen[id] = true
	}
	if store.Len() != 100 {
		t.Fatalf("Len = %d, want 100", store.Len())
	}
}

func TestCleanupRemovesFilesAndRecord(t *testing.T) {
	store, logs := newTestStore(t)
	input := filepath.Join(t.TempDir(), "upload.mp4")
	touch(t, input)

	id := store.Create(Data{InputPath: input})
	touch(t, filepath.Join(logs, id+"-0.log"))
	// the mbtree file is deliberately missing

	job, _ := store.Get(id)
	if !store.Cleanup(id) {
		t.Fatal("Cleanup should report that it ran")
	}
	if store.Has(id) {
		t.Fatal("record still present after cleanup")
	}
	if job.Status() != StatusRemoved {
		t.Fatalf("status = %s, want removed", job.Status())
	}
	for _, p := range []string{input, filepath.Join(logs, id+"-0.log")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still exists", p)
		}
	}
	if store.Cleanup(id) {
		t.Fatal("second Cleanup must be a no-op")
	}
}

func TestConcurrentCleanupRunsOnce(t *testing.T) {
	store, _ := newTestStore(t)
	id := store.Create(Data{InputPath: filepath.Join(t.TempDir(), "gone.mp4")})

	var ran atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if store.Cleanup(id) {
				ran.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ran.Load() != 1 {
		t.Fatalf("cleanup ran %d times, want 1", ran.Load())
	}
	if store.Has(id) {
		t.Fatal("record still present")
	}
}

func TestCleanupKillsTrackedProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix sleep binary")
	}
	store, _ := newTestStore(t)
	id := store.Create(Data{})
	job, err := store.Attach(id)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	if !job.Track(cmd.Process) {
		t.Fatal("Track refused on a processing job")
	}

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	store.Cleanup(id)

	select {
	case err := <-waited:
		if err == nil {
			t.Fatal("killed process reported success")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("process survived cleanup")
	}
	if store.Has(id) {
		t.Fatal("record still present")
	}
}

func TestTrackRefusedAfterCleanup(t *testing.T) {
	store, _ := newTestStore(t)
	id := store.Create(Data{})
	job, _ := store.Get(id)
	store.Cleanup(id)

	if job.Track(&os.Process{Pid: 1}) {
		t.Fatal("Track must refuse once cleanup started")
	}
	if !job.Closing() {
		t.Fatal("job should report closing")
	}
}

func TestCleanupAll(t *testing.T) {
	store, _ := newTestStore(t)
	for i := 0; i < 3; i++ {
		store.Create(Data{})
	}
	if n := store.CleanupAll(); n != 3 {
		t.Fatalf("CleanupAll = %d, want 3", n)
	}
	if store.Len() != 0 {
		t.Fatalf("Len = %d after CleanupAll", store.Len())
	}
}
