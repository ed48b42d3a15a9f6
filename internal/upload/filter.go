package upload

import (
	"path/filepath"
	"strings"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".flv":  true,
	".wmv":  true,
}

// IsVideo accepts a file when either its name or its declared content
// type says it is a video.
func IsVideo(name, contentType string) bool {
	if videoExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "video/")
}
