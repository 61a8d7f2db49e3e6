package common

import (
	"os"
	"path/filepath"
	"strings"
)

// CutDirectory strips root and the separator that follows it from path.
// Paths outside root are returned unchanged so callers can detect them.
func CutDirectory(path, root string) string {
	if root == "" {
		return path
	}
	root = strings.TrimRight(root, string(os.PathSeparator))
	if path == root {
		return ""
	}
	if rest, ok := strings.CutPrefix(path, root+string(os.PathSeparator)); ok {
		return rest
	}
	return path
}

// IsWithin reports whether rel equals dir or lies below it on a path
// segment boundary. Both arguments are root-relative.
func IsWithin(rel, dir string) bool {
	if dir == "" || dir == "." {
		return true
	}
	if rel == dir {
		return true
	}
	return strings.HasPrefix(rel, dir+string(os.PathSeparator))
}

// ContainsFold is a case-insensitive strings.Contains.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// EnsureDirectory creates path and its parents if they are missing and
// reports whether anything was created.
func EnsureDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return false, &os.PathError{Op: "mkdir", Path: path, Err: os.ErrExist}
		}
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false, err
	}
	return true, nil
}

// SplitRelative returns the directory and base name of a root-relative path.
// Files directly under the root have an empty directory.
func SplitRelative(rel string) (dir, name string) {
	dir, name = filepath.Split(rel)
	return strings.TrimRight(dir, string(os.PathSeparator)), name
}
