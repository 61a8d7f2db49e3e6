// Package processtest provides an in-memory process.Launcher for tests.
package processtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/process"
)

// Launcher runs fake subprocesses as goroutines and counts how many are
// alive at once.
type Launcher struct {
	// Delay is how long each fake process runs.
	Delay time.Duration
	// Run is executed inside the fake process; its error becomes the exit error.
	Run func(cmd process.Command) error
	// StartErr makes every Start call fail.
	StartErr error

	mu       sync.Mutex
	commands []process.Command
	live     int
	peak     int
}

func (l *Launcher) Start(ctx context.Context, cmd process.Command) (process.Process, error) {
	if l.StartErr != nil {
		return nil, l.StartErr
	}

	l.mu.Lock()
	l.commands = append(l.commands, cmd)
	l.live++
	l.peak = max(l.peak, l.live)
	l.mu.Unlock()

	p := &fakeProcess{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		if l.Delay > 0 {
			timer := time.NewTimer(l.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				p.err = ctx.Err()
			}
		}
		if p.err == nil && l.Run != nil {
			p.err = l.Run(cmd)
		}
		l.mu.Lock()
		l.live--
		l.mu.Unlock()
	}()
	return p, nil
}

// Commands returns the commands started so far in start order.
func (l *Launcher) Commands() []process.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.commands)
}

// Peak returns the highest number of fake processes alive at once.
func (l *Launcher) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

// Live returns the number of fake processes still running.
func (l *Launcher) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

type fakeProcess struct {
	done chan struct{}
	err  error
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}
