package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/darkwatch/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/darkwatch.yaml
var configTemplate embed.FS

// templatePath is the template inside configTemplate.
const templatePath = "templates/darkwatch.yaml"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a forum configuration file",
		Long: `Init writes a commented darkwatch.yaml to the current directory.

The generated file includes:
- Shared selector defaults
- An example forum with fallback selector lists
- Documentation for every forum field

Examples:
  # Create darkwatch.yaml in the current directory
  darkwatch init

  # Create the file in the XDG config directory, where crawl also looks
  darkwatch init -o ~/.config/darkwatch/darkwatch.yaml

  # Overwrite an existing file
  darkwatch init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Cookies may be added to this file later, so keep it private.
	if err := os.WriteFile(outputPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to describe your forums:")
	fmt.Fprintln(out, "  - Listing URLs and page limits")
	fmt.Fprintln(out, "  - Fallback selector lists per field")
	fmt.Fprintln(out, "  - Session cookies and headers")
	return nil
}
