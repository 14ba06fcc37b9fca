package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "refresh.debounce_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Bounds for numeric settings.
const (
	MinDebounceMs = 1
	MaxDebounceMs = 1000

	minRefreshIntervalMs = 16
	maxRefreshIntervalMs = 10000

	maxLogSizeMB  = 1000 // 1GB
	maxPathLength = 4096
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateRefresh()...)
	errors = append(errors, c.validateDAG()...)
	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateProject()...)
	errors = append(errors, c.validateTUI()...)

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateRefresh validates the RefreshConfig
func (c *Config) validateRefresh() []ValidationError {
	if c.Refresh.DebounceMs < MinDebounceMs || c.Refresh.DebounceMs > MaxDebounceMs {
		return []ValidationError{{
			Field:   "refresh.debounce_ms",
			Value:   c.Refresh.DebounceMs,
			Message: fmt.Sprintf("must be between %d and %d", MinDebounceMs, MaxDebounceMs),
		}}
	}
	return nil
}

// validateDAG validates the DAGConfig
func (c *Config) validateDAG() []ValidationError {
	var errors []ValidationError

	if c.DAG.BottleneckThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "dag.bottleneck_threshold",
			Value:   c.DAG.BottleneckThreshold,
			Message: "must be at least 1",
		})
	}

	layout := c.DAG.Layout
	positive := []struct {
		field string
		value float64
	}{
		{"dag.layout.node_width", layout.NodeWidth},
		{"dag.layout.node_height", layout.NodeHeight},
	}
	for _, f := range positive {
		if f.value <= 0 {
			errors = append(errors, ValidationError{Field: f.field, Value: f.value, Message: "must be positive"})
		}
	}

	gaps := []struct {
		field string
		value float64
	}{
		{"dag.layout.rank_sep", layout.RankSep},
		{"dag.layout.node_sep", layout.NodeSep},
	}
	for _, f := range gaps {
		if f.value < 0 {
			errors = append(errors, ValidationError{Field: f.field, Value: f.value, Message: "must be non-negative"})
		}
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	fields := []struct {
		field string
		value string
	}{
		{"paths.data_dir", c.Paths.DataDir},
		{"paths.runs_dir", c.Paths.RunsDir},
		{"paths.cache_path", c.Paths.CachePath},
	}
	for _, f := range fields {
		errors = append(errors, validatePath(f.field, f.value)...)
	}

	return errors
}

// validatePath checks an optional path for characters and lengths no
// filesystem accepts.
func validatePath(field, path string) []ValidationError {
	if path == "" {
		return nil
	}

	var errors []ValidationError
	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: "path contains invalid null character",
		})
	}
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}
	return errors
}

// validateProject validates the ProjectConfig
func (c *Config) validateProject() []ValidationError {
	if strings.TrimSpace(c.Project.Path) == "" {
		return []ValidationError{{
			Field:   "project.path",
			Value:   c.Project.Path,
			Message: "must not be empty",
		}}
	}
	return validatePath("project.path", c.Project.Path)
}

// validateTUI validates the TUIConfig
func (c *Config) validateTUI() []ValidationError {
	if c.TUI.RefreshIntervalMs < minRefreshIntervalMs || c.TUI.RefreshIntervalMs > maxRefreshIntervalMs {
		return []ValidationError{{
			Field:   "tui.refresh_interval_ms",
			Value:   c.TUI.RefreshIntervalMs,
			Message: fmt.Sprintf("must be between %d and %d", minRefreshIntervalMs, maxRefreshIntervalMs),
		}}
	}
	return nil
}
