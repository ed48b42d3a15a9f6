package models

// --- Upload ---

// ChunkAccepted acknowledges one stored chunk.
// Used in [POST] /api/v1/upload/chunk
type ChunkAccepted struct {
	UploadID    string `json:"uploadId"`
	ChunkNumber int    `json:"chunkNumber"`
	Received    int    `json:"received"`
}

// CompleteUploadRequest asks the server to merge the chunks and create a job.
// Used in [POST] /api/v1/upload/complete
type CompleteUploadRequest struct {
	UploadID     string  `json:"uploadId" validate:"required,max=64"`
	TotalChunks  int     `json:"totalChunks" validate:"required,gt=0,lte=100000"`
	OriginalName string  `json:"originalName" validate:"required,max=255"`
	TargetSizeMB float64 `json:"targetSizeMB" validate:"required,gt=0"`
}

// JobCreated is returned once an upload became a pending job.
type JobCreated struct {
	JobID    string  `json:"jobId"`
	Duration float64 `json:"duration"`
}

// --- Service info ---

// ClientConfig tells the browser what the server accepts.
// Used in [GET] /api/v1/config
type ClientConfig struct {
	MaxUploadSize uint64 `json:"maxUploadSize"`
	Encoder       string `json:"encoder"`
}

// Health is the liveness report.
// Used in [GET] /health
type Health struct {
	Status     string        `json:"status"`
	Encoder    string        `json:"encoder"`
	ActiveJobs int           `json:"active_jobs"`
	Stats      HardwareStats `json:"stats"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
