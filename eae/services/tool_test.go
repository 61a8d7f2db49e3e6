package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/enhanced-archive-extractor/eae/filesystem/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameToolCheckInstalled(t *testing.T) {
	root := t.TempDir()
	tool := NewGameTool(root, "", "")

	assert.ErrorIs(t, tool.CheckInstalled(), common.ErrMissingDependency)

	require.NoError(t, os.WriteFile(filepath.Join(root, "Trove.exe"), nil, 0o755))
	assert.NoError(t, tool.CheckInstalled())

	require.NoError(t, os.Mkdir(filepath.Join(root, "dir.exe"), 0o755))
	assert.ErrorIs(t, NewGameTool(root, "dir.exe", "").CheckInstalled(), common.ErrMissingDependency)
}

func TestGameToolCommands(t *testing.T) {
	root := t.TempDir()
	tool := NewGameTool(root, "", "")

	group := filepath.Join(root, "blueprints")
	output := filepath.Join(root, "Extracted", "blueprints")
	cmd := tool.ExtractCommand(group, output)
	assert.Equal(t, filepath.Join(root, "Trove.exe"), cmd.Name)
	assert.Equal(t, []string{"-tool", "extractarchive", group, output}, cmd.Args)
	assert.Equal(t, root, cmd.Dir)
	assert.Equal(t, "blueprints", cmd.Label)

	cmd = tool.CatalogCommand("Sword_", 256)
	assert.Equal(t, []string{"-tool", "catalog", "-filter", "Sword_", "-dimension", "256"}, cmd.Args)
	assert.Equal(t, "Sword_", cmd.Label)

	assert.Equal(t, filepath.Join(root, "catalog"), tool.OutputDir())
}

func TestGameToolAbsoluteExecutable(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "bin", "Trove.exe")
	tool := NewGameTool(t.TempDir(), exe, "previews")

	assert.Equal(t, exe, tool.Path())
	assert.Equal(t, "previews", filepath.Base(tool.OutputDir()))
}

var (
	_ ExtractionService = (*GameTool)(nil)
	_ CatalogService    = (*GameTool)(nil)
)
