// Package changes diffs extracted files against the hash log and collects
// what changed into a per-run change directory.
package changes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/digest"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/fileops"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/hashstore"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/metrics"

	"github.com/armon/go-radix"
	"github.com/rs/zerolog"
)

// Status classifies one extracted file against the hash log.
type Status int

const (
	StatusUnchanged Status = iota
	StatusNew
	StatusModified
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusModified:
		return "modified"
	default:
		return "unchanged"
	}
}

// Record describes one changed file. OldDigest is empty for new files.
type Record struct {
	Path      string
	OldDigest string
	NewDigest string
	Status    Status
}

// Options configures a Detector.
type Options struct {
	// ExtractedRoot is the directory Files keys are relative to.
	ExtractedRoot string
	// Batch configures first-run bulk hashing.
	Batch digest.BatchOptions
	// ProgressEvery logs progress after that many files. Zero disables it.
	ProgressEvery int
}

// Result summarizes one detection or baseline pass.
type Result struct {
	// Baseline is set when the pass only recorded digests.
	Baseline  bool
	Files     int
	New       int
	Modified  int
	Unchanged int
	Skipped   int
	Failed    int
	Copied    int
	Records   []Record
	// Candidates are distinct blueprint names in discovery order.
	Candidates []string
}

// Detector compares extracted files with their stored digests.
type Detector struct {
	opts     Options
	walker   *filesystem.Walker
	digester *digest.Digester
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewDetector creates a detector. m may be nil.
func NewDetector(opts Options, walker *filesystem.Walker, digester *digest.Digester, m *metrics.Metrics, logger zerolog.Logger) *Detector {
	return &Detector{
		opts:     opts,
		walker:   walker,
		digester: digester,
		metrics:  m,
		logger:   logger.With().Str("component", "changes").Logger(),
	}
}

// Baseline records the digest of every extracted file that has none yet.
// It copies nothing and emits no candidates.
func (d *Detector) Baseline(ctx context.Context, doc *hashstore.Document) (Result, error) {
	result := Result{Baseline: true}

	files, err := d.listFiles(ctx)
	if err != nil {
		return result, err
	}
	result.Files = len(files)
	if len(files) == 0 {
		d.logger.Info().Str("root", d.opts.ExtractedRoot).Msg("No extracted files found, change hash logging skipped")
		return result, nil
	}

	d.logger.Info().Int("files", len(files)).Msg("Running first time extracted folder hashing; no changes are listed this time")

	pending := files[:0:0]
	for _, f := range files {
		if _, ok := doc.File(common.CutDirectory(f, d.opts.ExtractedRoot)); !ok {
			pending = append(pending, f)
		}
	}

	batch := d.opts.Batch
	if d.opts.ProgressEvery > 0 && batch.Progress == nil {
		every := d.opts.ProgressEvery
		batch.Progress = func(done, total int) {
			if done%every == 0 || done == total {
				d.logger.Info().Int("done", done).Int("total", total).Msg("Hashing extracted files")
			}
		}
	}

	br, err := d.digester.HashAll(ctx, pending, batch, func(path, sum string) {
		doc.SetFile(common.CutDirectory(path, d.opts.ExtractedRoot), sum)
	})
	result.New = br.Hashed
	result.Failed = br.Failed
	result.Skipped = br.Vanished + len(files) - len(pending)
	if err != nil {
		return result, fmt.Errorf("baseline hashing: %w", err)
	}

	d.logger.Info().Int("hashed", br.Hashed).Int("vanished", br.Vanished).Int("failed", br.Failed).Msg("Extracted file hashes recorded")
	return result, nil
}

// Detect diffs the extracted tree against doc. When doc has no file digests
// yet it falls back to Baseline. Otherwise changeDir is created and changed
// files are copied below it keeping their relative path. When extracted is non-empty only files inside
// those root-relative group directories are considered.
func (d *Detector) Detect(ctx context.Context, doc *hashstore.Document, extracted []string, changeDir string) (Result, error) {
	if doc.FilesEmpty() {
		return d.Baseline(ctx, doc)
	}

	var result Result
	if _, err := common.EnsureDirectory(changeDir); err != nil {
		return result, fmt.Errorf("create change directory: %w", err)
	}
	files, err := d.listFiles(ctx)
	if err != nil {
		return result, err
	}
	result.Files = len(files)

	scope := newScope(extracted)
	seen := make(map[string]struct{})

	for i, file := range files {
		if err := common.ValidateContextCancellation(ctx); err != nil {
			return result, err
		}
		if d.opts.ProgressEvery > 0 && i > 0 && i%d.opts.ProgressEvery == 0 {
			d.logger.Info().Int("done", i).Int("total", len(files)).Msg("Checking extracted files")
		}

		rel := common.CutDirectory(file, d.opts.ExtractedRoot)
		dir, name := common.SplitRelative(rel)
		if !scope.contains(dir) {
			result.Skipped++
			continue
		}

		sum, err := d.digester.Hash(file)
		if err != nil {
			result.Failed++
			d.logger.Warn().Err(err).Str("file", rel).Msg("Could not hash extracted file")
			continue
		}

		old, had := doc.File(rel)
		status := classify(old, had, sum)
		d.metrics.Change(status.String())
		if status == StatusUnchanged {
			result.Unchanged++
			continue
		}

		doc.SetFile(rel, sum)
		if status == StatusNew {
			result.New++
		} else {
			result.Modified++
		}
		result.Records = append(result.Records, Record{Path: rel, OldDigest: old, NewDigest: sum, Status: status})

		if err := fileops.CopyFile(ctx, file, filepath.Join(changeDir, rel), fileops.CopyOptions{PreserveTimes: true}); err != nil {
			result.Failed++
			d.logger.Warn().Err(err).Str("file", rel).Msg("Could not copy changed file")
		} else {
			result.Copied++
		}

		if filesystem.Classify(name) == filesystem.ExtractedAsset {
			candidate := BlueprintName(name)
			if _, dup := seen[candidate]; !dup && candidate != "" {
				seen[candidate] = struct{}{}
				result.Candidates = append(result.Candidates, candidate)
			}
		}
	}

	d.logger.Info().Str("changes", changeDir).Int("new", result.New).Int("modified", result.Modified).Int("unchanged", result.Unchanged).Int("skipped", result.Skipped).Int("candidates", len(result.Candidates)).Msg("Changes logged")
	return result, nil
}

func (d *Detector) listFiles(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(d.opts.ExtractedRoot); os.IsNotExist(err) {
		return nil, nil
	}
	files, err := d.walker.FindAllFiles(ctx, d.opts.ExtractedRoot)
	if err != nil {
		return nil, fmt.Errorf("index extracted files: %w", err)
	}
	return files, nil
}

func classify(old string, had bool, sum string) Status {
	switch {
	case !had:
		return StatusNew
	case old == sum:
		return StatusUnchanged
	default:
		return StatusModified
	}
}

// scope narrows detection to the groups extracted in this run. Group
// directories are stored with a trailing separator so a longest-prefix
// lookup only matches on segment boundaries.
type scope struct {
	tree *radix.Tree
	all  bool
}

func newScope(groups []string) *scope {
	s := &scope{tree: radix.New()}
	if len(groups) == 0 {
		s.all = true
		return s
	}
	for _, g := range groups {
		if g == "" || g == "." {
			s.all = true
			continue
		}
		s.tree.Insert(g+string(os.PathSeparator), struct{}{})
	}
	return s
}

func (s *scope) contains(dir string) bool {
	if s.all {
		return true
	}
	_, _, ok := s.tree.LongestPrefix(dir + string(os.PathSeparator))
	return ok
}
