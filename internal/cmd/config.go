package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/sightline/internal/config"
	"github.com/Iron-Ham/sightline/internal/tui/styles"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View sightline configuration",
		Long: `View sightline configuration.

Settings come from the config file, SIGHTLINE_* environment variables
(e.g. SIGHTLINE_REFRESH_DEBOUNCE_MS), and the built-in defaults.`,
		RunE: runConfigShow,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the effective configuration",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration and report every problem",
			Args:  cobra.NoArgs,
			RunE:  runConfigValidate,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
	)
	return cmd
}

func configSource() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "(none - using defaults)"
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config file: %s\n\n", configSource())

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config file: %s\n", configSource())

	_, err := config.Load()
	var problems config.ValidationErrors
	switch {
	case err == nil:
		fmt.Fprintln(out, styles.SuccessMsg.Render("Configuration is valid."))
		return nil
	case errors.As(err, &problems):
		for _, p := range problems {
			fmt.Fprintln(out, styles.ErrorMsg.Render("✗ "+p.Error()))
		}
		return fmt.Errorf("%d configuration problems", len(problems))
	default:
		return fmt.Errorf("failed to load configuration: %w", err)
	}
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = config.ConfigFile()
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
