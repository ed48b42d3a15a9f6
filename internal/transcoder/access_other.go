//go:build !unix

package transcoder

// Device nodes only exist on unix hosts.
func hasReadWriteAccess(string) bool {
	return false
}
