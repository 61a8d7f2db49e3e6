package internal

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

var (
	DefaultAppName       = "eae"
	DefaultConfigName    = "eae"
	DefaultConfigPath    = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultEnvPrefix     = "EAE"
	DefaultExecutable    = "Trove.exe"
	DefaultHashLogFile   = "EAEHashLog.json"
	DefaultBackupPrefix  = "EAEHashLogBackup_"
	DefaultExtractedDir  = "Extracted"
	DefaultChangedDir    = "Changed"
	DefaultCatalogDir    = "catalog"
	DefaultIgnoreFile    = ".eaeignore"
	DefaultJournalFile   = "eae-journal.db"
	DefaultExcludeMarker = "extracted"

	// Timestamp layouts used for generated file and directory names.
	BackupTimeLayout    = "2006-01-02_15.04"
	ChangeDirTimeLayout = "2006-01-02_15-04"

	DefaultMaxWalkEntries      = 5_000_000
	DefaultExtractMaxProcesses = 100
	DefaultCatalogDimension    = 256
	DefaultHashYieldEvery      = 2000
)

// DefaultCatalogMaxProcesses leaves two cores for the OS and the game client.
func DefaultCatalogMaxProcesses() int {
	return max(1, runtime.NumCPU()-2)
}

// DefaultHashWorkers is the first-run hashing pool size.
func DefaultHashWorkers() int {
	return max(1, runtime.NumCPU())
}

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using temp dir: %v", err)
			return os.TempDir()
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// IsTerminal reports whether f is attached to an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// NewLogger builds the application logger. Output is human readable when
// stderr is a terminal and JSON otherwise.
func NewLogger(level string) zerolog.Logger {
	var out io.Writer = os.Stderr
	if IsTerminal(os.Stderr) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
