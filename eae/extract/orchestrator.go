// Package extract re-extracts the archive groups whose data files changed
// since the last run.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/digest"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/hashstore"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/metrics"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/process"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/services"

	"github.com/rs/zerolog"
)

// Options configures an Orchestrator.
type Options struct {
	// Root is the install root; archive keys are relative to it.
	Root string
	// OutputRoot receives one mirrored directory per extracted group.
	OutputRoot string
	// MaxProcesses bounds concurrently running extractions.
	MaxProcesses int
	// CheckExitCodes forgets the digests of groups whose extraction failed
	// so the next run retries them.
	CheckExitCodes bool
	// ProgressEvery logs progress after that many groups. Zero disables it.
	ProgressEvery int
}

// Result summarizes an extraction phase.
type Result struct {
	Groups int
	// Extracted lists the root-relative group directories handed to the
	// extraction service, in start order.
	Extracted []string
	Hashed    int
	Failed    int
}

// Orchestrator drives the extraction service for changed archive groups.
type Orchestrator struct {
	opts     Options
	walker   *filesystem.Walker
	digester *digest.Digester
	service  services.ExtractionService
	launcher process.Launcher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewOrchestrator creates an orchestrator. m may be nil.
func NewOrchestrator(opts Options, walker *filesystem.Walker, digester *digest.Digester, service services.ExtractionService, launcher process.Launcher, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	if opts.MaxProcesses <= 0 {
		opts.MaxProcesses = internal.DefaultExtractMaxProcesses
	}
	return &Orchestrator{
		opts:     opts,
		walker:   walker,
		digester: digester,
		service:  service,
		launcher: launcher,
		metrics:  m,
		logger:   logger.With().Str("component", "extract").Logger(),
	}
}

type pendingDigest struct {
	rel  string
	old  string
	had  bool
	next string
}

// Run examines groups in order, starts at most one extraction per changed
// group, then blocks until every started extraction has exited. Archive
// digests in doc are updated for every data file that could be read.
func (o *Orchestrator) Run(ctx context.Context, groups []string, doc *hashstore.Document) (Result, error) {
	groups = filesystem.Unique(groups)
	result := Result{Groups: len(groups)}

	sup := process.NewSupervisor(o.launcher, process.Options{
		Kind:           metrics.KindExtract,
		MaxLive:        o.opts.MaxProcesses,
		CheckExitCodes: o.opts.CheckExitCodes,
	}, o.metrics, o.logger)

	// Old digests of extracted groups, restored if their extraction fails.
	rollback := make(map[string][]pendingDigest)

	var runErr error
	for i, group := range groups {
		if err := common.ValidateContextCancellation(ctx); err != nil {
			runErr = err
			break
		}

		relGroup, pending, err := o.runGroup(ctx, sup, group, doc, &result)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			result.Failed++
			o.logger.Warn().Err(err).Str("group", group).Msg("Skipping archive group")
			continue
		}
		if pending != nil {
			rollback[relGroup] = pending
		}

		if o.opts.ProgressEvery > 0 && (i+1)%o.opts.ProgressEvery == 0 {
			o.logger.Info().Int("done", i+1).Int("total", len(groups)).Int("extracting", len(result.Extracted)).Msg("Indexing archives")
		}
	}

	o.logger.Info().Int("started", sup.Started()).Msg("Waiting for extraction processes to finish")
	waitErr := sup.Wait()
	for _, label := range sup.FailedLabels() {
		for _, p := range rollback[label] {
			if p.had {
				doc.SetArchive(p.rel, p.old)
			} else {
				doc.DeleteArchive(p.rel)
			}
		}
	}

	o.logger.Info().Int("groups", result.Groups).Int("extracted", len(result.Extracted)).Int("hashed", result.Hashed).Int("failed", result.Failed).Msg("Extraction phase finished")
	return result, errors.Join(runErr, waitErr)
}

// runGroup hashes the data files of one group and starts its extraction if
// any of them changed. It returns the digests to restore if the extraction
// later fails.
func (o *Orchestrator) runGroup(ctx context.Context, sup *process.Supervisor, group string, doc *hashstore.Document, result *Result) (string, []pendingDigest, error) {
	relGroup := common.CutDirectory(group, o.opts.Root)

	files, err := o.walker.FindArchiveDataFiles(group)
	if err != nil {
		return relGroup, nil, err
	}

	var pending []pendingDigest
	changed := false
	for _, file := range files {
		sum, err := o.digester.Hash(file)
		if err != nil {
			result.Failed++
			o.logger.Warn().Err(err).Str("file", file).Msg("Could not hash archive")
			continue
		}
		result.Hashed++

		rel := common.CutDirectory(file, o.opts.Root)
		old, had := doc.Archive(rel)
		pending = append(pending, pendingDigest{rel: rel, old: old, had: had, next: sum})
		if !had || old != sum {
			changed = true
		}
	}

	if changed {
		output := filepath.Join(o.opts.OutputRoot, relGroup)
		if err := os.MkdirAll(output, 0o755); err != nil {
			o.metrics.GroupExamined(false)
			return relGroup, nil, fmt.Errorf("create output %s: %w", output, err)
		}

		cmd := o.service.ExtractCommand(group, output)
		cmd.Label = relGroup
		if err := sup.Start(ctx, cmd); err != nil {
			o.metrics.GroupExamined(false)
			return relGroup, nil, err
		}
		result.Extracted = append(result.Extracted, relGroup)
		o.logger.Debug().Str("group", relGroup).Msg("Extracting archive group")
	}
	o.metrics.GroupExamined(changed)

	for _, p := range pending {
		doc.SetArchive(p.rel, p.next)
	}
	if !changed {
		return relGroup, nil, nil
	}
	return relGroup, pending, nil
}
