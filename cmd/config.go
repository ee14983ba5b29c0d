package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bookrag/bookrag/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bookrag configuration",
	Long:  `Commands for generating and validating bookrag.yaml configuration files.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a bookrag.yaml template with default values",
	Long: `Creates a bookrag.yaml configuration file populated with bookrag's
built-in defaults.

Example:
  bookrag config init
  bookrag config init --output /etc/bookrag/bookrag.yaml`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the fully resolved configuration (flags+env+file+defaults)",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringP("output", "o", "bookrag.yaml", "output file path")
	configInitCmd.Flags().Bool("stdout", false, "print to stdout instead of file")
}

func runConfigInit(cobraCmd *cobra.Command, args []string) error {
	toStdout, _ := cobraCmd.Flags().GetBool("stdout")
	output, _ := cobraCmd.Flags().GetString("output")

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("config init: marshal defaults: %w", err)
	}

	if toStdout {
		fmt.Print(string(data))
		return nil
	}

	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("file %s already exists (use --stdout to print to stdout)", output)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("config init: write %s: %w", output, err)
	}

	fmt.Fprintf(os.Stderr, "Created %s\n", output)
	return nil
}

// runConfigShow reports the configuration already resolved by root.go's
// initConfig, which runs Validate internally — any config/env/file error
// would already have aborted the process, so this command's job is
// purely to print what bookrag actually resolved.
func runConfigShow(cobraCmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config show: marshal: %w", err)
	}
	fmt.Print(string(data))
	return nil
}
