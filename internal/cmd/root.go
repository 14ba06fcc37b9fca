// Package cmd implements the sightline command tree.
package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/sightline/internal/config"
	"github.com/Iron-Ham/sightline/internal/logging"
)

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sightline",
		Short: "Follow and analyze coding-agent runs",
		Long: `Sightline folds a coding agent's event stream into a consistent view of
the run and keeps the project's dependency graph in step with it.

Replay a recorded stream, watch a live one, inspect the dependency graph,
and plan incremental re-runs against the execution cache.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/sightline/config.yaml)")
	root.PersistentFlags().StringP("project", "p", "", "project directory (default is project.path from config)")

	root.AddCommand(
		newReplayCmd(),
		newWatchCmd(),
		newDAGCmd(),
		newPlanCmd(),
		newCacheCmd(),
		newRunsCmd(),
		newLogsCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig(cmd *cobra.Command, _ []string) error {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	flags := cmd.Root().PersistentFlags()
	_ = viper.BindPFlag("project.path", flags.Lookup("project"))

	cfgFile, _ := flags.GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SIGHTLINE")
	// e.g. SIGHTLINE_REFRESH_DEBOUNCE_MS for refresh.debounce_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default config is fine; a missing explicit one is not.
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// env is the resolved configuration shared by the commands.
type env struct {
	cfg     *config.Config
	project string
	dataDir string
	logger  *logging.Logger
}

// loadConfigOnly loads and validates the configuration without opening the
// log file.
func loadConfigOnly() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	project, err := filepath.Abs(cfg.Project.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	return &env{
		cfg:     cfg,
		project: project,
		dataDir: cfg.Paths.ResolveDataDir(project),
		logger:  logging.NopLogger(),
	}, nil
}

// loadEnv loads the configuration and opens the log file.
func loadEnv() (*env, error) {
	e, err := loadConfigOnly()
	if err != nil {
		return nil, err
	}
	if !e.cfg.Logging.Enabled {
		return e, nil
	}

	logger, err := logging.NewLoggerWithRotation(e.dataDir, e.cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  e.cfg.Logging.MaxSizeMB,
		MaxBackups: e.cfg.Logging.MaxBackups,
		Compress:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	e.logger = logger
	return e, nil
}

func (e *env) runsDir() string {
	return e.cfg.Paths.ResolveRunsDir(e.project)
}

func (e *env) cachePath() string {
	return e.cfg.Paths.ResolveCachePath(e.project)
}

func (e *env) Close() {
	_ = e.logger.Close()
}
