//go:build windows

package common

import (
	"errors"
	"io/fs"
	"syscall"
)

const (
	errorSharingViolation syscall.Errno = 32
	errorLockViolation    syscall.Errno = 33
)

// Access denied is the usual symptom of a file still held open by the
// extractor on Windows.
func isSharingViolation(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, errorSharingViolation) || errors.Is(err, errorLockViolation)
}
