// Package transcoder drives the external ffmpeg and ffprobe binaries:
// it resolves the host's H.264 encoder, reads input metadata, plans a
// bitrate for a target file size and runs the two encode passes.
package transcoder

import "errors"

var (
	// ErrUnreadableMetadata means ffprobe ran but reported no usable duration.
	ErrUnreadableMetadata = errors.New("unreadable video metadata")
	// ErrProberUnavailable means the ffprobe binary could not be started.
	ErrProberUnavailable = errors.New("metadata prober unavailable")
	// ErrEncoderUnavailable means the ffmpeg binary could not be started.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	// ErrEncodeFailed means ffmpeg exited with a non-zero status.
	ErrEncodeFailed = errors.New("encode failed")
	// ErrInfeasible means the target size cannot hold the video at a usable bitrate.
	ErrInfeasible = errors.New("target size not feasible")
	// ErrCancelled means the pass was abandoned because its job is being torn down.
	ErrCancelled = errors.New("encode cancelled")
)
