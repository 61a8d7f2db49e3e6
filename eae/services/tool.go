package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"
	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/process"
)

// ExtractionService builds the command that unpacks one archive group into
// output.
type ExtractionService interface {
	ExtractCommand(group, output string) process.Command
}

// CatalogService builds the command that renders previews for a blueprint
// name. Previews land in OutputDir.
type CatalogService interface {
	CatalogCommand(name string, dimension int) process.Command
	OutputDir() string
}

// GameTool drives the game client's built-in dev tools. Both services run
// with the install root as working directory.
type GameTool struct {
	root       string
	executable string
	catalogDir string
}

// NewGameTool creates the adapter. Empty names select the defaults.
func NewGameTool(root, executable, catalogDir string) *GameTool {
	if executable == "" {
		executable = internal.DefaultExecutable
	}
	if catalogDir == "" {
		catalogDir = internal.DefaultCatalogDir
	}
	return &GameTool{root: root, executable: executable, catalogDir: catalogDir}
}

// Path returns the absolute executable path.
func (g *GameTool) Path() string {
	if filepath.IsAbs(g.executable) {
		return g.executable
	}
	return filepath.Join(g.root, g.executable)
}

// CheckInstalled fails with ErrMissingDependency when the executable is absent.
func (g *GameTool) CheckInstalled() error {
	info, err := os.Stat(g.Path())
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %q not found, run this in a game install directory", common.ErrMissingDependency, g.Path())
	}
	return nil
}

func (g *GameTool) ExtractCommand(group, output string) process.Command {
	return process.Command{
		Name:  g.Path(),
		Args:  []string{"-tool", "extractarchive", group, output},
		Dir:   g.root,
		Label: common.CutDirectory(group, g.root),
	}
}

func (g *GameTool) CatalogCommand(name string, dimension int) process.Command {
	return process.Command{
		Name:  g.Path(),
		Args:  []string{"-tool", "catalog", "-filter", name, "-dimension", strconv.Itoa(dimension)},
		Dir:   g.root,
		Label: name,
	}
}

func (g *GameTool) OutputDir() string {
	return filepath.Join(g.root, g.catalogDir)
}
