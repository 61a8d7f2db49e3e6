// Package pipeline runs one incremental extraction pass end to end: backup,
// extraction, change detection, previews and the final save.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/catalog"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/changes"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/config"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/digest"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/extract"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/hashstore"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/journal"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/metrics"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/ports"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/process"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options are the per-run choices made at the prompt.
type Options struct {
	TrackChanges   bool
	CreatePreviews bool
}

// Installer verifies the external tool is present.
type Installer interface {
	CheckInstalled() error
}

// Journal records run history. *journal.Journal implements it.
type Journal interface {
	StartRun(ctx context.Context, root string, now time.Time) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, now time.Time, status string, extracted, changed int) error
	RecordChanges(ctx context.Context, id uuid.UUID, records []changes.Record) error
}

// Layout holds the absolute directories a run works in.
type Layout struct {
	Root         string
	ExtractedDir string
	ChangedDir   string
}

// Summary reports what a run did.
type Summary struct {
	RunID     uuid.UUID
	Backup    string
	ChangeDir string
	Baseline  changes.Result
	Extract   extract.Result
	Changes   changes.Result
	Catalog   catalog.Result
}

// Runner owns the state of a run. Collaborators are injected; Build wires
// the production set from configuration.
type Runner struct {
	layout    Layout
	installer Installer
	store     *hashstore.Store
	walker    *filesystem.Walker
	extractor *extract.Orchestrator
	detector  *changes.Detector
	scheduler *catalog.Scheduler
	journal   Journal
	metrics   *metrics.Metrics
	textfile  string
	ui        ports.Interactor
	logger    zerolog.Logger
	now       func() time.Time
}

// Build assembles a Runner from cfg. j and m may be nil.
func Build(cfg *config.Config, launcher process.Launcher, j Journal, m *metrics.Metrics, ui ports.Interactor, logger zerolog.Logger) (*Runner, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", cfg.Root, err)
	}
	resolved := *cfg
	resolved.Root = root

	ignore, err := filesystem.LoadIgnoreFile(resolved.Path(cfg.Walk.IgnoreFile))
	if err != nil {
		return nil, err
	}

	layout := Layout{
		Root:         root,
		ExtractedDir: resolved.Path(cfg.ExtractedDir),
		ChangedDir:   resolved.Path(cfg.ChangedDir),
	}

	walker := filesystem.NewWalker(filesystem.WalkOptions{
		ExcludeMarker:  cfg.Walk.ExcludeMarker,
		MaxEntries:     cfg.Walk.MaxEntries,
		FollowSymlinks: cfg.Walk.FollowSymlinks,
		Ignore:         ignore,
	}, logger)
	digester := digest.NewDigester(digest.DefaultRetryConfig(), m, logger)
	tool := services.NewGameTool(root, cfg.Executable, cfg.CatalogDir)

	batch := digest.DefaultBatchOptions()
	batch.Workers = cfg.Hashing.Workers
	batch.YieldEvery = cfg.Hashing.YieldEvery

	r := &Runner{
		layout:    layout,
		installer: tool,
		store:     hashstore.New(root, cfg.HashLog, logger),
		walker:    walker,
		extractor: extract.NewOrchestrator(extract.Options{
			Root:           root,
			OutputRoot:     layout.ExtractedDir,
			MaxProcesses:   cfg.Extract.MaxProcesses,
			CheckExitCodes: cfg.Process.CheckExitCodes,
			ProgressEvery:  500,
		}, walker, digester, tool, launcher, m, logger),
		detector: changes.NewDetector(changes.Options{
			ExtractedRoot: layout.ExtractedDir,
			Batch:         batch,
			ProgressEvery: internal.DefaultHashYieldEvery,
		}, walker, digester, m, logger),
		scheduler: catalog.NewScheduler(catalog.Options{
			MaxProcesses:   cfg.Catalog.MaxProcesses,
			Dimension:      cfg.Catalog.Dimension,
			CheckExitCodes: cfg.Process.CheckExitCodes,
			SubDir:         cfg.CatalogDir,
		}, tool, launcher, m, logger),
		journal:  j,
		metrics:  m,
		textfile: resolved.Path(cfg.Metrics.Textfile),
		ui:       ui,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
	if r.ui == nil {
		r.ui = ports.Silent{}
	}
	return r, nil
}

// Store exposes the hash log store for restore.
func (r *Runner) Store() *hashstore.Store {
	return r.store
}

// Run performs one pass. The previous hash log is backed up before anything
// is persisted and the backup is removed only when the pass succeeds.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	var s Summary
	start := r.now()

	if err := r.installer.CheckInstalled(); err != nil {
		return s, err
	}
	if opts.CreatePreviews && !opts.TrackChanges {
		r.logger.Warn().Msg("Previews need change tracking, skipping them")
		opts.CreatePreviews = false
	}

	s.RunID = r.startJournal(ctx, start)
	err := r.run(ctx, opts, start, &s)
	r.finish(s, err)
	return s, err
}

func (r *Runner) run(ctx context.Context, opts Options, start time.Time, s *Summary) error {
	phase := time.Now()
	doc := r.store.Load()
	if !doc.Empty() {
		name, err := r.store.Backup(doc, start)
		if err != nil {
			return err
		}
		s.Backup = name
		r.ui.Output(fmt.Sprintf("Previous hash log saved as %s. If this run fails, restore it with: eae restore %s", name, name))
	}
	if err := r.prepareDirectories(opts); err != nil {
		return err
	}
	r.metrics.ObservePhase("load", phase)

	if opts.TrackChanges && doc.FilesEmpty() {
		phase = time.Now()
		res, err := r.detector.Baseline(ctx, doc)
		s.Baseline = res
		if err != nil {
			return err
		}
		r.metrics.ObservePhase("baseline", phase)
	}

	phase = time.Now()
	groups, err := r.walker.FindArchiveGroups(ctx, r.layout.Root)
	if err != nil {
		return fmt.Errorf("find archive groups: %w", err)
	}
	r.ui.Output(fmt.Sprintf("Found %d archive groups", len(groups)))

	res, extractErr := r.extractor.Run(ctx, groups, doc)
	s.Extract = res
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), extractErr)
	}
	r.metrics.ObservePhase("extract", phase)

	if err := r.store.Save(doc); err != nil {
		return errors.Join(extractErr, err)
	}

	if opts.TrackChanges {
		if err := r.trackChanges(ctx, opts, doc, start, s); err != nil {
			return errors.Join(extractErr, err)
		}
	}

	phase = time.Now()
	if err := r.store.Save(doc); err != nil {
		return errors.Join(extractErr, err)
	}
	r.metrics.ObservePhase("save", phase)

	if extractErr != nil {
		return extractErr
	}
	if err := r.store.RemoveBackup(s.Backup); err != nil {
		r.logger.Warn().Err(err).Msg("Could not remove backup")
	}
	return nil
}

func (r *Runner) trackChanges(ctx context.Context, opts Options, doc *hashstore.Document, start time.Time, s *Summary) error {
	phase := time.Now()
	s.ChangeDir = filepath.Join(r.layout.ChangedDir, start.Format(internal.ChangeDirTimeLayout))
	res, err := r.detector.Detect(ctx, doc, s.Extract.Extracted, s.ChangeDir)
	if res.Baseline {
		s.Baseline = res
		s.ChangeDir = ""
	} else {
		s.Changes = res
	}
	if err != nil {
		return err
	}
	r.metrics.ObservePhase("detect", phase)

	if !res.Baseline {
		r.ui.Output(fmt.Sprintf("%d new and %d modified files copied to %s", res.New, res.Modified, s.ChangeDir))
	}
	if !opts.CreatePreviews || len(res.Candidates) == 0 {
		return nil
	}

	// Digests are already current; a failed preview pass must not lose them.
	if err := r.store.Save(doc); err != nil {
		return err
	}

	phase = time.Now()
	cat, err := r.scheduler.Run(ctx, res.Candidates, s.ChangeDir)
	s.Catalog = cat
	if err != nil {
		return fmt.Errorf("catalog changed blueprints: %w", err)
	}
	r.metrics.ObservePhase("catalog", phase)
	return nil
}

// prepareDirectories creates the extraction root, and the change root when
// changes are tracked.
func (r *Runner) prepareDirectories(opts Options) error {
	if _, err := common.EnsureDirectory(r.layout.ExtractedDir); err != nil {
		return fmt.Errorf("create %s: %w", r.layout.ExtractedDir, err)
	}
	if opts.TrackChanges {
		if _, err := common.EnsureDirectory(r.layout.ChangedDir); err != nil {
			return fmt.Errorf("create %s: %w", r.layout.ChangedDir, err)
		}
	}
	return nil
}

func (r *Runner) startJournal(ctx context.Context, start time.Time) uuid.UUID {
	if r.journal == nil {
		return uuid.Nil
	}
	id, err := r.journal.StartRun(ctx, r.layout.Root, start)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Run journal unavailable")
		return uuid.Nil
	}
	return id
}

// finish stamps the journal and metrics. It runs even after cancellation,
// so it does not use the run context.
func (r *Runner) finish(s Summary, runErr error) {
	success := runErr == nil
	r.metrics.RunFinished(success)
	if err := r.metrics.WriteTextfile(r.textfile); err != nil {
		r.logger.Warn().Err(err).Msg("Could not export metrics")
	}

	if r.journal == nil || s.RunID == uuid.Nil {
		return
	}
	ctx := context.Background()
	if err := r.journal.RecordChanges(ctx, s.RunID, s.Changes.Records); err != nil {
		r.logger.Warn().Err(err).Msg("Could not journal changes")
	}
	status := journal.StatusSucceeded
	if !success {
		status = journal.StatusFailed
	}
	if err := r.journal.FinishRun(ctx, s.RunID, r.now(), status, len(s.Extract.Extracted), len(s.Changes.Records)); err != nil {
		r.logger.Warn().Err(err).Msg("Could not finish journal entry")
	}
}
