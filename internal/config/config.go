package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/sightline/internal/dag"
)

// Config represents the complete Sightline configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Refresh RefreshConfig `mapstructure:"refresh"`
	DAG     DAGConfig     `mapstructure:"dag"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Project ProjectConfig `mapstructure:"project"`
	TUI     TUIConfig     `mapstructure:"tui"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether the log file is written (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// RefreshConfig controls how graph refetches are coalesced
type RefreshConfig struct {
	// DebounceMs is the quiet window before a burst of refresh requests
	// turns into one fetch (default: 50, range: 1-1000)
	DebounceMs int `mapstructure:"debounce_ms"`
}

// Debounce returns the debounce window as a time.Duration
func (c *RefreshConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// DAGConfig controls graph analytics
type DAGConfig struct {
	// BottleneckThreshold is the number of incomplete dependents that makes
	// a node a bottleneck (default: 3)
	BottleneckThreshold int `mapstructure:"bottleneck_threshold"`
	// Layout sizes the layered display layout
	Layout LayoutConfig `mapstructure:"layout"`
}

// LayoutConfig sizes node boxes and the gaps between them
type LayoutConfig struct {
	NodeWidth  float64 `mapstructure:"node_width"`
	NodeHeight float64 `mapstructure:"node_height"`
	RankSep    float64 `mapstructure:"rank_sep"`
	NodeSep    float64 `mapstructure:"node_sep"`
}

// Options converts the layout section into dag layout options.
func (c LayoutConfig) Options() dag.LayoutOptions {
	return dag.LayoutOptions{
		NodeWidth:  c.NodeWidth,
		NodeHeight: c.NodeHeight,
		RankSep:    c.RankSep,
		NodeSep:    c.NodeSep,
	}
}

// PathsConfig controls where Sightline stores data
type PathsConfig struct {
	// DataDir holds logs, run history, and the execution cache.
	// If empty, defaults to ".sightline" inside the project.
	// Supports ~ for home directory expansion.
	DataDir string `mapstructure:"data_dir"`

	// RunsDir holds one JSON file per finished run.
	// If empty, defaults to "runs" inside the data directory.
	RunsDir string `mapstructure:"runs_dir"`

	// CachePath is the SQLite execution cache.
	// If empty, defaults to "cache.db" inside the data directory.
	CachePath string `mapstructure:"cache_path"`
}

// ProjectConfig names the project whose graph is observed
type ProjectConfig struct {
	// Path is the project root (default: ".")
	Path string `mapstructure:"path"`
}

// TUIConfig controls the terminal UI behavior
type TUIConfig struct {
	// Enabled uses the interactive view when stdout is a terminal (default: true)
	Enabled bool `mapstructure:"enabled"`
	// RefreshIntervalMs is how often the view redraws (default: 250)
	RefreshIntervalMs int `mapstructure:"refresh_interval_ms"`
}

// RefreshInterval returns the redraw interval as a time.Duration
func (c *TUIConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

// expandPath expands a leading ~ and resolves relative paths against baseDir.
func expandPath(path, baseDir string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// ResolveDataDir returns the resolved data directory for the project at
// projectDir.
func (p *PathsConfig) ResolveDataDir(projectDir string) string {
	if p.DataDir == "" {
		return filepath.Join(projectDir, ".sightline")
	}
	return expandPath(p.DataDir, projectDir)
}

// ResolveRunsDir returns the resolved run history directory.
func (p *PathsConfig) ResolveRunsDir(projectDir string) string {
	dataDir := p.ResolveDataDir(projectDir)
	if p.RunsDir == "" {
		return filepath.Join(dataDir, "runs")
	}
	return expandPath(p.RunsDir, dataDir)
}

// ResolveCachePath returns the resolved execution cache file.
func (p *PathsConfig) ResolveCachePath(projectDir string) string {
	dataDir := p.ResolveDataDir(projectDir)
	if p.CachePath == "" {
		return filepath.Join(dataDir, "cache.db")
	}
	return expandPath(p.CachePath, dataDir)
}

// Default returns a Config with sensible default values
func Default() *Config {
	layout := dag.DefaultLayoutOptions()
	return &Config{
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Refresh: RefreshConfig{
			DebounceMs: 50,
		},
		DAG: DAGConfig{
			BottleneckThreshold: dag.DefaultBottleneckThreshold,
			Layout: LayoutConfig{
				NodeWidth:  layout.NodeWidth,
				NodeHeight: layout.NodeHeight,
				RankSep:    layout.RankSep,
				NodeSep:    layout.NodeSep,
			},
		},
		Paths: PathsConfig{
			DataDir:   "", // Empty means <project>/.sightline
			RunsDir:   "",
			CachePath: "",
		},
		Project: ProjectConfig{
			Path: ".",
		},
		TUI: TUIConfig{
			Enabled:           true,
			RefreshIntervalMs: 250,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Refresh defaults
	viper.SetDefault("refresh.debounce_ms", defaults.Refresh.DebounceMs)

	// DAG defaults
	viper.SetDefault("dag.bottleneck_threshold", defaults.DAG.BottleneckThreshold)
	viper.SetDefault("dag.layout.node_width", defaults.DAG.Layout.NodeWidth)
	viper.SetDefault("dag.layout.node_height", defaults.DAG.Layout.NodeHeight)
	viper.SetDefault("dag.layout.rank_sep", defaults.DAG.Layout.RankSep)
	viper.SetDefault("dag.layout.node_sep", defaults.DAG.Layout.NodeSep)

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
	viper.SetDefault("paths.runs_dir", defaults.Paths.RunsDir)
	viper.SetDefault("paths.cache_path", defaults.Paths.CachePath)

	// Project defaults
	viper.SetDefault("project.path", defaults.Project.Path)

	// TUI defaults
	viper.SetDefault("tui.enabled", defaults.TUI.Enabled)
	viper.SetDefault("tui.refresh_interval_ms", defaults.TUI.RefreshIntervalMs)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sightline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sightline"
	}
	return filepath.Join(home, ".config", "sightline")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
