package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/enhanced-archive-extractor/eae"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file, environment variables and
// bound command-line flags.
type Config struct {
	Root         string `mapstructure:"root" validate:"required"`
	Executable   string `mapstructure:"executable" validate:"required"`
	HashLog      string `mapstructure:"hashLog" validate:"required"`
	ExtractedDir string `mapstructure:"extractedDir" validate:"required"`
	ChangedDir   string `mapstructure:"changedDir" validate:"required"`
	CatalogDir   string `mapstructure:"catalogDir" validate:"required"`

	Walk    WalkConfig    `mapstructure:"walk"`
	Extract ExtractConfig `mapstructure:"extract"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Process ProcessConfig `mapstructure:"process"`
	Hashing HashingConfig `mapstructure:"hashing"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// WalkConfig controls directory traversal.
type WalkConfig struct {
	ExcludeMarker  string `mapstructure:"excludeMarker"`
	IgnoreFile     string `mapstructure:"ignoreFile"`
	MaxEntries     int    `mapstructure:"maxEntries" validate:"gte=1"`
	FollowSymlinks bool   `mapstructure:"followSymlinks"`
}

// ExtractConfig controls the extraction phase.
type ExtractConfig struct {
	MaxProcesses int `mapstructure:"maxProcesses" validate:"gte=1"`
}

// CatalogConfig controls preview generation.
type CatalogConfig struct {
	MaxProcesses int `mapstructure:"maxProcesses" validate:"gte=1"`
	Dimension    int `mapstructure:"dimension" validate:"gte=1"`
}

// ProcessConfig controls subprocess supervision.
type ProcessConfig struct {
	CheckExitCodes bool `mapstructure:"checkExitCodes"`
}

// HashingConfig controls bulk hashing.
type HashingConfig struct {
	YieldEvery int `mapstructure:"yieldEvery" validate:"gte=0"`
	Workers    int `mapstructure:"workers" validate:"gte=1"`
}

// JournalConfig controls the run history database.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
}

// NewViper returns a viper instance carrying every default. Callers bind
// flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("root", ".")
	v.SetDefault("executable", internal.DefaultExecutable)
	v.SetDefault("hashLog", internal.DefaultHashLogFile)
	v.SetDefault("extractedDir", internal.DefaultExtractedDir)
	v.SetDefault("changedDir", internal.DefaultChangedDir)
	v.SetDefault("catalogDir", internal.DefaultCatalogDir)

	v.SetDefault("walk.excludeMarker", internal.DefaultExcludeMarker)
	v.SetDefault("walk.ignoreFile", internal.DefaultIgnoreFile)
	v.SetDefault("walk.maxEntries", internal.DefaultMaxWalkEntries)
	v.SetDefault("walk.followSymlinks", false)

	v.SetDefault("extract.maxProcesses", internal.DefaultExtractMaxProcesses)
	v.SetDefault("catalog.maxProcesses", internal.DefaultCatalogMaxProcesses())
	v.SetDefault("catalog.dimension", internal.DefaultCatalogDimension)
	v.SetDefault("process.checkExitCodes", false)

	v.SetDefault("hashing.yieldEvery", internal.DefaultHashYieldEvery)
	v.SetDefault("hashing.workers", internal.DefaultHashWorkers())

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", internal.DefaultJournalFile)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "info")

	return v
}

// Load reads configuration into a validated Config. An empty configPath
// searches the working directory and the user config directory for eae.yaml.
// A .env file in the working directory is loaded into the environment first.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName(internal.DefaultConfigName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // walk.maxEntries becomes EAE_WALK_MAXENTRIES
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Path resolves a configured location against Root unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
