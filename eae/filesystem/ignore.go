package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreChecker decides whether a root-relative path is excluded from walks.
type IgnoreChecker interface {
	MatchesPath(path string) bool
}

// LoadIgnoreFile compiles a gitignore-style file. A missing file returns a
// nil checker and no error.
func LoadIgnoreFile(path string) (IgnoreChecker, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat ignore file %s: %w", path, err)
	}

	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile ignore file %s: %w", path, err)
	}
	return gi, nil
}

// IgnoreLines compiles in-memory patterns.
func IgnoreLines(lines ...string) IgnoreChecker {
	return ignore.CompileIgnoreLines(lines...)
}

func ignored(checker IgnoreChecker, rel string, isDir bool) bool {
	if checker == nil || rel == "" {
		return false
	}
	slashed := filepath.ToSlash(rel)
	if checker.MatchesPath(slashed) {
		return true
	}
	return isDir && checker.MatchesPath(slashed+"/")
}
