package jobs

import (
	"os"
	"sync"
	"time"

	"videra/internal/transcoder"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCleaning   Status = "cleaning"
	StatusRemoved    Status = "removed"
)

// Data is what a finished upload contributes to a new job.
type Data struct {
	InputPath            string
	OriginalName         string
	TargetSizeMB         float64
	TotalDurationSeconds float64
	FrameCount           int64
	Plan                 transcoder.BitratePlan
}

// Job is one compression request. The Store owns it; the encode runner
// borrows it to publish the live ffmpeg process.
type Job struct {
	ID        string
	CreatedAt time.Time
	Data

	mu     sync.Mutex
	status Status
	proc   *os.Process
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Closing reports whether cleanup has started.
func (j *Job) Closing() bool {
	s := j.Status()
	return s == StatusCleaning || s == StatusRemoved
}

// Track publishes p as the job's active process. It refuses once cleanup
// has begun so a late pass cannot outlive its job.
func (j *Job) Track(p *os.Process) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusCleaning || j.status == StatusRemoved {
		return false
	}
	j.proc = p
	return true
}

// Untrack clears the active process after it exited.
func (j *Job) Untrack() {
	j.mu.Lock()
	j.proc = nil
	j.mu.Unlock()
}

// transition moves from one of the allowed states to next.
func (j *Job) transition(next Status, from ...Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, s := range from {
		if j.status == s {
			j.status = next
			return true
		}
	}
	return false
}

// beginCleanup flips the job to cleaning and hands back the process to
// kill, if any. ok is false when another caller got there first.
func (j *Job) beginCleanup() (proc *os.Process, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusCleaning || j.status == StatusRemoved {
		return nil, false
	}
	j.status = StatusCleaning
	return j.proc, true
}
