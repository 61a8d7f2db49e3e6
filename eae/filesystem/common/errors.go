package common

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// Common error types used across eae packages
var (
	ErrPathEmpty         = errors.New("path cannot be empty")
	ErrMissingDependency = errors.New("required executable not found")
	ErrCorruptCache      = errors.New("hash log is corrupt or unreadable")
	ErrTransientIO       = errors.New("transient i/o error")
	ErrFileVanished      = errors.New("file vanished")
	ErrSubprocessFailed  = errors.New("subprocess exited with failure")
	ErrIterationLimit    = errors.New("walk iteration limit exceeded")
	ErrSymlinkCycle      = errors.New("symlink cycle detected")
)

// ValidateContextCancellation checks if context is cancelled and returns appropriate error
func ValidateContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// IsNotFound reports whether err means the path does not exist anymore.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrFileVanished)
}

// IsTransient reports whether an I/O error is worth retrying. Files that are
// still being written by a child process surface as sharing violations or
// busy/again errors depending on the platform.
func IsTransient(err error) bool {
	if err == nil || IsNotFound(err) {
		return false
	}
	if errors.Is(err, ErrTransientIO) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EBUSY, syscall.EINTR, syscall.ETXTBSY, syscall.EMFILE, syscall.ENFILE:
			return true
		}
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return isSharingViolation(pathErr.Err)
	}

	return false
}
