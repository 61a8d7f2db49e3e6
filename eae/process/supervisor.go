// Package process runs batches of tool subprocesses under a live-count
// ceiling and joins them with a single blocking call.
package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/metrics"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Command describes one subprocess invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Label identifies the work item in logs and errors.
	Label string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Process is a started subprocess.
type Process interface {
	Wait() error
}

// Launcher starts subprocesses. Tests substitute a fake.
type Launcher interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// ExecLauncher starts real OS processes. They are killed when ctx is cancelled.
type ExecLauncher struct{}

func (ExecLauncher) Start(ctx context.Context, cmd Command) (Process, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures a Supervisor.
type Options struct {
	// Kind labels the batch in logs and metrics.
	Kind string
	// MaxLive is the most subprocesses allowed to run at once.
	MaxLive int
	// CheckExitCodes makes Wait report failed subprocesses. When false a
	// finished subprocess counts as done regardless of its exit status.
	CheckExitCodes bool
}

// Supervisor owns one batch of subprocesses.
type Supervisor struct {
	launcher Launcher
	opts     Options
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	slots chan struct{}
	wg    conc.WaitGroup

	mu       sync.Mutex
	live     int
	peak     int
	started  int
	failures []error
	failed   []string
}

// NewSupervisor creates a supervisor. m may be nil.
func NewSupervisor(launcher Launcher, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Supervisor {
	if opts.MaxLive <= 0 {
		opts.MaxLive = 1
	}
	return &Supervisor{
		launcher: launcher,
		opts:     opts,
		metrics:  m,
		logger:   logger.With().Str("component", "supervisor").Str("kind", opts.Kind).Logger(),
		slots:    make(chan struct{}, opts.MaxLive),
	}
}

// Start blocks until fewer than MaxLive subprocesses are running, then
// starts cmd. It returns without waiting for cmd to finish.
func (s *Supervisor) Start(ctx context.Context, cmd Command) error {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		<-s.slots
		return err
	}

	proc, err := s.launcher.Start(ctx, cmd)
	if err != nil {
		<-s.slots
		return fmt.Errorf("start %s %q: %w", s.opts.Kind, cmd.Label, err)
	}

	s.mu.Lock()
	s.live++
	s.started++
	s.peak = max(s.peak, s.live)
	s.mu.Unlock()
	s.metrics.ProcessStarted(s.opts.Kind)

	started := time.Now()
	s.wg.Go(func() {
		err := proc.Wait()
		s.exited(cmd, err, time.Since(started))
		<-s.slots
	})
	return nil
}

func (s *Supervisor) exited(cmd Command, err error, took time.Duration) {
	s.mu.Lock()
	s.live--
	if err != nil && s.opts.CheckExitCodes {
		s.failures = append(s.failures, fmt.Errorf("%w: %s %q: %w", common.ErrSubprocessFailed, s.opts.Kind, cmd.Label, err))
		s.failed = append(s.failed, cmd.Label)
	}
	s.mu.Unlock()
	s.metrics.ProcessExited(s.opts.Kind, err != nil)

	switch {
	case err != nil && s.opts.CheckExitCodes:
		s.logger.Error().Err(err).Str("item", cmd.Label).Dur("took", took).Msg("Subprocess failed")
	case err != nil:
		s.logger.Debug().Err(err).Str("item", cmd.Label).Dur("took", took).Msg("Subprocess exited with error, ignoring")
	default:
		s.logger.Debug().Str("item", cmd.Label).Dur("took", took).Msg("Subprocess finished")
	}
}

// Wait blocks until every subprocess started so far has exited. With exit
// code checking enabled it returns the joined failures.
func (s *Supervisor) Wait() error {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return nil
	}
	return errors.Join(s.failures...)
}

// FailedLabels returns the labels of subprocesses that exited with an error.
// It is only populated when exit codes are checked.
func (s *Supervisor) FailedLabels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.failed)
}

// Live returns the number of running subprocesses.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Peak returns the highest live count observed.
func (s *Supervisor) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Started returns the number of subprocesses started.
func (s *Supervisor) Started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
