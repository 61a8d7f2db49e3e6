//go:build !windows

package common

func isSharingViolation(error) bool {
	return false
}
