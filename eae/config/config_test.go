package config

import (
	"os"
	"path/filepath"
	"testing"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	suite.tempDir = suite.T().TempDir()
	suite.T().Chdir(suite.tempDir)
}

func (suite *ConfigTestSuite) TestLoadWithDefaults() {
	cfg, err := Load(NewViper(), "")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), ".", cfg.Root)
	assert.Equal(suite.T(), internal.DefaultExecutable, cfg.Executable)
	assert.Equal(suite.T(), internal.DefaultHashLogFile, cfg.HashLog)
	assert.Equal(suite.T(), "Extracted", cfg.ExtractedDir)
	assert.Equal(suite.T(), "Changed", cfg.ChangedDir)
	assert.Equal(suite.T(), "catalog", cfg.CatalogDir)
	assert.Equal(suite.T(), 100, cfg.Extract.MaxProcesses)
	assert.Equal(suite.T(), internal.DefaultCatalogMaxProcesses(), cfg.Catalog.MaxProcesses)
	assert.Equal(suite.T(), 256, cfg.Catalog.Dimension)
	assert.Equal(suite.T(), 2000, cfg.Hashing.YieldEvery)
	assert.Equal(suite.T(), "extracted", cfg.Walk.ExcludeMarker)
	assert.Equal(suite.T(), ".eaeignore", cfg.Walk.IgnoreFile)
	assert.False(suite.T(), cfg.Process.CheckExitCodes)
	assert.True(suite.T(), cfg.Journal.Enabled)
	assert.Equal(suite.T(), "info", cfg.Log.Level)
}

func (suite *ConfigTestSuite) TestLoadWithFile() {
	content := `
root: /games/trove
extract:
  maxProcesses: 8
catalog:
  dimension: 128
process:
  checkExitCodes: true
walk:
  followSymlinks: true
log:
  level: DEBUG
`
	path := filepath.Join(suite.tempDir, "custom.yaml")
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(NewViper(), path)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "/games/trove", cfg.Root)
	assert.Equal(suite.T(), 8, cfg.Extract.MaxProcesses)
	assert.Equal(suite.T(), 128, cfg.Catalog.Dimension)
	assert.True(suite.T(), cfg.Process.CheckExitCodes)
	assert.True(suite.T(), cfg.Walk.FollowSymlinks)
	assert.Equal(suite.T(), "debug", cfg.Log.Level)
	assert.Equal(suite.T(), internal.DefaultExecutable, cfg.Executable, "unset keys keep defaults")
}

func (suite *ConfigTestSuite) TestLoadFromSearchPath() {
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.tempDir, "eae.yaml"), []byte("executable: Game.exe\n"), 0o644))

	cfg, err := Load(NewViper(), "")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Game.exe", cfg.Executable)
}

func (suite *ConfigTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("EAE_EXTRACT_MAXPROCESSES", "12")
	suite.T().Setenv("EAE_ROOT", "/from/env")

	cfg, err := Load(NewViper(), "")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 12, cfg.Extract.MaxProcesses)
	assert.Equal(suite.T(), "/from/env", cfg.Root)
}

func (suite *ConfigTestSuite) TestDotEnvFile() {
	require.NoError(suite.T(), os.WriteFile(filepath.Join(suite.tempDir, ".env"), []byte("EAE_CATALOG_DIMENSION=64\n"), 0o644))
	suite.T().Cleanup(func() { os.Unsetenv("EAE_CATALOG_DIMENSION") })

	cfg, err := Load(NewViper(), "")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 64, cfg.Catalog.Dimension)
}

func (suite *ConfigTestSuite) TestValidationRejectsBadValues() {
	tests := []struct {
		name    string
		content string
	}{
		{"zero ceiling", "extract:\n  maxProcesses: 0\n"},
		{"negative dimension", "catalog:\n  dimension: -1\n"},
		{"unknown level", "log:\n  level: loud\n"},
		{"empty executable", "executable: \"\"\n"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			path := filepath.Join(suite.tempDir, "bad.yaml")
			require.NoError(suite.T(), os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(NewViper(), path)
			assert.ErrorContains(suite.T(), err, "invalid configuration")
		})
	}
}

func (suite *ConfigTestSuite) TestLoadMalformedFile() {
	path := filepath.Join(suite.tempDir, "broken.yaml")
	require.NoError(suite.T(), os.WriteFile(path, []byte("root: [unclosed"), 0o644))

	_, err := Load(NewViper(), path)
	assert.ErrorContains(suite.T(), err, "failed to read config file")
}

func TestConfigPath(t *testing.T) {
	cfg := &Config{Root: filepath.Join("games", "trove")}
	assert.Equal(t, filepath.Join("games", "trove", "Extracted"), cfg.Path("Extracted"))

	abs, err := filepath.Abs("elsewhere")
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.Path(abs))
	assert.Empty(t, cfg.Path(""))
}
