package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/ports"
)

var _ ports.Interactor = (*terminal)(nil)

// terminal implements ports.Interactor on the process's standard streams.
// Questions fall back to their default when stdin is not interactive.
type terminal struct {
	in          *bufio.Reader
	out         io.Writer
	errOut      io.Writer
	interactive bool
}

func newTerminal() *terminal {
	return &terminal{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		errOut:      os.Stderr,
		interactive: internal.IsTerminal(os.Stdin) && internal.IsTerminal(os.Stdout),
	}
}

func (t *terminal) Output(message string) {
	fmt.Fprintln(t.out, message)
}

func (t *terminal) Warning(message string) {
	fmt.Fprintln(t.errOut, "Warning: "+message)
}

func (t *terminal) Error(message string, err error) {
	if err != nil {
		fmt.Fprintf(t.errOut, "%s\n%v\n", message, err)
		return
	}
	fmt.Fprintln(t.errOut, message)
}

func (t *terminal) Confirm(question string, def bool) bool {
	if !t.interactive {
		return def
	}
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(t.out, "%s [%s] ", question, hint)

	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

func (t *terminal) Pause(message string) {
	if !t.interactive {
		return
	}
	fmt.Fprint(t.out, message)
	_, _ = t.in.ReadString('\n')
}
