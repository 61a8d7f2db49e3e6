package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"

	"github.com/rs/zerolog"
)

// WalkOptions configures the directory walker.
type WalkOptions struct {
	// ExcludeMarker skips any directory whose root-relative path contains
	// it, compared case-insensitively. Empty disables the rule.
	ExcludeMarker string
	// MaxEntries bounds the number of directory entries examined per walk.
	MaxEntries int
	// FollowSymlinks descends into symlinked directories.
	FollowSymlinks bool
	// Ignore excludes additional root-relative paths.
	Ignore IgnoreChecker
}

// DefaultWalkOptions returns the options used when none are configured.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		ExcludeMarker: internal.DefaultExcludeMarker,
		MaxEntries:    internal.DefaultMaxWalkEntries,
	}
}

// WalkStats summarizes a finished walk.
type WalkStats struct {
	Directories int
	Files       int
	Excluded    int
	Cycles      int
}

// Walker enumerates archive groups and extracted files using an explicit
// work stack.
type Walker struct {
	opts   WalkOptions
	logger zerolog.Logger
}

// NewWalker creates a walker.
func NewWalker(opts WalkOptions, logger zerolog.Logger) *Walker {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = internal.DefaultMaxWalkEntries
	}
	return &Walker{
		opts:   opts,
		logger: logger.With().Str("component", "walker").Logger(),
	}
}

// FindArchiveGroups returns every directory under root that directly holds an
// index marker. A directory is listed once per marker it contains, so callers
// should treat the result as a set.
func (w *Walker) FindArchiveGroups(ctx context.Context, root string) ([]string, error) {
	var groups []string
	stats, err := w.walk(ctx, root, func(dir string, files []string) {
		for _, f := range files {
			if Classify(f) == IndexMarker {
				groups = append(groups, dir)
			}
		}
	})
	w.logger.Debug().Str("root", root).Int("groups", len(groups)).Int("dirs", stats.Directories).Int("excluded", stats.Excluded).Msg("Archive groups indexed")
	return groups, err
}

// FindArchiveDataFiles lists the data files directly inside group.
func (w *Walker) FindArchiveDataFiles(group string) ([]string, error) {
	entries, err := os.ReadDir(group)
	if err != nil {
		return nil, fmt.Errorf("read archive group %s: %w", group, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || Classify(entry.Name()) != DataFile {
			continue
		}
		files = append(files, filepath.Join(group, entry.Name()))
	}
	return files, nil
}

// FindAllFiles returns every file below root, honoring the exclusion rules.
func (w *Walker) FindAllFiles(ctx context.Context, root string) ([]string, error) {
	var all []string
	stats, err := w.walk(ctx, root, func(dir string, files []string) {
		for _, f := range files {
			all = append(all, filepath.Join(dir, f))
		}
	})
	w.logger.Debug().Str("root", root).Int("files", stats.Files).Int("dirs", stats.Directories).Int("cycles", stats.Cycles).Msg("Files indexed")
	return all, err
}

// walk visits root depth-first, calling onDir with the names of the plain
// files of each directory before its subdirectories are entered.
func (w *Walker) walk(ctx context.Context, root string, onDir func(dir string, files []string)) (WalkStats, error) {
	var stats WalkStats

	rootInfo, err := os.Stat(root)
	if err != nil {
		return stats, fmt.Errorf("stat walk root %s: %w", root, err)
	}
	if !rootInfo.IsDir() {
		return stats, fmt.Errorf("walk root %s is not a directory", root)
	}

	visited := newVisitedSet()
	visited.visit(root, rootInfo)

	stack := []string{root}
	examined := 0

	for len(stack) > 0 {
		if err := common.ValidateContextCancellation(ctx); err != nil {
			return stats, err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", dir).Msg("Skipping unreadable directory")
			continue
		}
		stats.Directories++

		var files []string
		var subdirs []string

		for _, entry := range entries {
			examined++
			if examined > w.opts.MaxEntries {
				return stats, fmt.Errorf("%w: more than %d entries under %s", common.ErrIterationLimit, w.opts.MaxEntries, root)
			}

			path := filepath.Join(dir, entry.Name())
			rel := common.CutDirectory(path, root)

			isDir, follow := w.resolve(path, entry)
			if isDir {
				if w.excluded(rel) {
					stats.Excluded++
					continue
				}
				if !follow {
					continue
				}
				info, err := os.Stat(path)
				if err != nil {
					w.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable directory")
					continue
				}
				if !visited.visit(path, info) {
					stats.Cycles++
					w.logger.Warn().Err(common.ErrSymlinkCycle).Str("path", path).Msg("Directory already visited, skipping")
					continue
				}
				subdirs = append(subdirs, path)
				continue
			}

			if ignored(w.opts.Ignore, rel, false) {
				stats.Excluded++
				continue
			}
			files = append(files, entry.Name())
		}

		stats.Files += len(files)
		onDir(dir, files)

		// Reverse so the stack pops subdirectories in name order.
		slices.Reverse(subdirs)
		stack = append(stack, subdirs...)
	}

	return stats, nil
}

// resolve reports whether the entry is a directory and whether the walk
// should descend into it. Symlinks are resolved so that linked files are
// listed like plain files.
func (w *Walker) resolve(path string, entry fs.DirEntry) (isDir, follow bool) {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir(), entry.IsDir()
	}

	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug().Err(err).Str("path", path).Msg("Dangling symlink")
		return true, false
	}
	if !info.IsDir() {
		return false, false
	}
	if !w.opts.FollowSymlinks {
		w.logger.Debug().Str("path", path).Msg("Not following directory symlink")
	}
	return true, w.opts.FollowSymlinks
}

func (w *Walker) excluded(rel string) bool {
	if w.opts.ExcludeMarker != "" && common.ContainsFold(rel, w.opts.ExcludeMarker) {
		return true
	}
	return ignored(w.opts.Ignore, rel, true)
}

// Unique drops repeated paths while keeping the first occurrence order.
func Unique(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
