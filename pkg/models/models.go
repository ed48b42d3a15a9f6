package models

import (
	"encoding/json"
	"time"
)

// Event types pushed to the client while a job runs.
const (
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// Event is one message on a job's progress stream. Exactly one of the
// terminal types (done, error) ends every stream.
type Event struct {
	Type        string  `json:"type"`
	Value       float64 `json:"value"` // 0-100, progress only
	Text        string  `json:"text,omitempty"`
	DownloadURL string  `json:"downloadUrl,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// MarshalJSON writes value only on progress events, where 0 is meaningful.
func (e Event) MarshalJSON() ([]byte, error) {
	var value *float64
	if e.Type == EventProgress {
		value = &e.Value
	}
	return json.Marshal(struct {
		Type        string   `json:"type"`
		Value       *float64 `json:"value,omitempty"`
		Text        string   `json:"text,omitempty"`
		DownloadURL string   `json:"downloadUrl,omitempty"`
		Message     string   `json:"message,omitempty"`
	}{e.Type, value, e.Text, e.DownloadURL, e.Message})
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// HardwareStats is a snapshot of host load reported on /health.
type HardwareStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	IsBusy     bool    `json:"is_busy"`
}

// Job outcomes reported to the completion webhook.
const (
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

// JobResultPayload is POSTed to the configured webhook when a job ends.
type JobResultPayload struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"` // "COMPLETED", "FAILED"
	OriginalName string    `json:"original_name"`
	DownloadURL  string    `json:"download_url,omitempty"`
	ErrorMsg     string    `json:"error_message,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
	Metrics      struct {
		TotalTimeMS  int64   `json:"total_time_ms"`
		TargetSizeMB float64 `json:"target_size_mb"`
		VideoKbps    int     `json:"video_kbps"`
	} `json:"metrics"`
}
