//go:build unix

package transcoder

import "golang.org/x/sys/unix"

func hasReadWriteAccess(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}
