package transcoder

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writeScript installs an executable shell script standing in for
// ffmpeg or ffprobe.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a unix shell")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake %s: %v", name, err)
	}
	return path
}
