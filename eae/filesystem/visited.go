package filesystem

import (
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// visitedSet remembers directories already entered during one walk so that
// symlink loops and bind mounts are traversed once. Inodes are kept in one
// bitmap per device; platforms without inode numbers fall back to resolved
// paths.
type visitedSet struct {
	byDevice map[uint64]*roaring64.Bitmap
	byPath   map[string]struct{}
}

func newVisitedSet() *visitedSet {
	return &visitedSet{
		byDevice: make(map[uint64]*roaring64.Bitmap),
		byPath:   make(map[string]struct{}),
	}
}

// visit records the directory and reports whether it was seen for the first time.
func (v *visitedSet) visit(path string, info os.FileInfo) bool {
	if dev, ino, ok := fileIdentity(info); ok {
		bm, exists := v.byDevice[dev]
		if !exists {
			bm = roaring64.New()
			v.byDevice[dev] = bm
		}
		if bm.Contains(ino) {
			return false
		}
		bm.Add(ino)
		return true
	}

	key := path
	if real, err := filepath.EvalSymlinks(path); err == nil {
		key = real
	}
	if _, seen := v.byPath[key]; seen {
		return false
	}
	v.byPath[key] = struct{}{}
	return true
}
