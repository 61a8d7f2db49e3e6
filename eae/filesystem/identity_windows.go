//go:build windows

package filesystem

import "os"

// FileInfo on Windows carries no file index, so callers fall back to
// comparing resolved paths.
func fileIdentity(os.FileInfo) (dev, ino uint64, ok bool) {
	return 0, 0, false
}
