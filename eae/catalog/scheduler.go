// Package catalog renders previews for changed blueprints and files them
// under the run's change directory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/fileops"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/metrics"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/process"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/services"

	"github.com/rs/zerolog"
)

// Options configures a Scheduler.
type Options struct {
	MaxProcesses   int
	Dimension      int
	CheckExitCodes bool
	// SubDir is the folder created inside the change directory.
	SubDir string
}

// Result summarizes a catalog phase.
type Result struct {
	Requested []string
	Relocated int
}

// Scheduler invokes the catalog service once per distinct blueprint name.
type Scheduler struct {
	opts     Options
	service  services.CatalogService
	launcher process.Launcher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler. m may be nil.
func NewScheduler(opts Options, service services.CatalogService, launcher process.Launcher, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	if opts.MaxProcesses <= 0 {
		opts.MaxProcesses = internal.DefaultCatalogMaxProcesses()
	}
	if opts.Dimension <= 0 {
		opts.Dimension = internal.DefaultCatalogDimension
	}
	if opts.SubDir == "" {
		opts.SubDir = internal.DefaultCatalogDir
	}
	return &Scheduler{
		opts:     opts,
		service:  service,
		launcher: launcher,
		metrics:  m,
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
}

// PreviewName drops the redundant blueprint segment from a preview file name.
func PreviewName(name string) string {
	return strings.Replace(name, ".blueprint.png", ".png", 1)
}

// Run catalogs candidates, waits for every catalog process to exit, then
// moves the produced previews into <changeDir>/<SubDir>.
func (s *Scheduler) Run(ctx context.Context, candidates []string, changeDir string) (Result, error) {
	var result Result

	target := filepath.Join(changeDir, s.opts.SubDir)
	if err := fileops.DeleteDirectory(target); err != nil {
		return result, err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return result, fmt.Errorf("create catalog directory: %w", err)
	}

	sup := process.NewSupervisor(s.launcher, process.Options{
		Kind:           metrics.KindCatalog,
		MaxLive:        s.opts.MaxProcesses,
		CheckExitCodes: s.opts.CheckExitCodes,
	}, s.metrics, s.logger)

	s.logger.Info().Int("candidates", len(candidates)).Int("max_processes", s.opts.MaxProcesses).Msg("Cataloging changed blueprints")

	invoked := make(map[string]struct{}, len(candidates))
	var runErr error
	for _, name := range candidates {
		if _, dup := invoked[name]; dup || name == "" {
			continue
		}
		if err := sup.Start(ctx, s.service.CatalogCommand(name, s.opts.Dimension)); err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			s.logger.Warn().Err(err).Str("blueprint", name).Msg("Could not start catalog process")
			continue
		}
		invoked[name] = struct{}{}
		result.Requested = append(result.Requested, name)
		s.metrics.CandidateScheduled()
	}

	s.logger.Info().Int("started", sup.Started()).Msg("Waiting for catalog processes to finish")
	waitErr := sup.Wait()
	if runErr != nil {
		return result, errors.Join(runErr, waitErr)
	}

	n, err := s.relocate(ctx, target)
	result.Relocated = n
	return result, errors.Join(waitErr, err)
}

// relocate copies the service output into target and clears the source.
func (s *Scheduler) relocate(ctx context.Context, target string) (int, error) {
	source := s.service.OutputDir()
	if _, err := os.Stat(source); os.IsNotExist(err) {
		s.logger.Warn().Str("source", source).Msg("Catalog service produced no output")
		return 0, nil
	}

	n, err := fileops.CopyTree(ctx, source, target, fileops.CopyOptions{Rename: PreviewName})
	if err != nil {
		return n, fmt.Errorf("relocate previews: %w", err)
	}
	if err := fileops.DeleteDirectory(source); err != nil {
		return n, err
	}

	s.logger.Info().Int("previews", n).Str("target", target).Msg("Changed files were catalogued")
	return n, nil
}
