package fileops

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"
)

// CopyOptions controls how files are copied.
type CopyOptions struct {
	PreservePerms bool
	PreserveTimes bool
	// Rename maps a destination file name before it is written. Nil keeps
	// names unchanged.
	Rename func(name string) string
}

// CopyFile copies src to dst, creating parent directories as needed. dst is
// overwritten if it exists.
func CopyFile(ctx context.Context, src, dst string, opts CopyOptions) error {
	if err := common.ValidateContextCancellation(ctx); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory for %s: %w", dst, err)
	}

	mode := fs.FileMode(0o644)
	if opts.PreservePerms {
		mode = info.Mode().Perm()
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination %s: %w", dst, err)
	}

	if opts.PreservePerms {
		if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("chmod %s: %w", dst, err)
		}
	}
	if opts.PreserveTimes {
		if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
			return fmt.Errorf("chtimes %s: %w", dst, err)
		}
	}
	return nil
}

// CopyTree copies every file below src into dst, merging with existing
// content. It returns the number of files copied.
func CopyTree(ctx context.Context, src, dst string, opts CopyOptions) (int, error) {
	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := common.ValidateContextCancellation(ctx); err != nil {
			return err
		}

		rel := common.CutDirectory(path, src)
		if d.IsDir() {
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}

		dir, name := common.SplitRelative(rel)
		if opts.Rename != nil {
			name = opts.Rename(name)
		}
		if err := CopyFile(ctx, path, filepath.Join(dst, dir, name), opts); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("copy tree %s: %w", src, err)
	}
	return copied, nil
}

// DeleteDirectory removes path and everything below it. A missing path is
// not an error.
func DeleteDirectory(path string) error {
	if path == "" {
		return common.ErrPathEmpty
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
