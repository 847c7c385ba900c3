package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/nao1215/darkwatch/internal/config"
	"github.com/nao1215/darkwatch/internal/quarantine"
	"github.com/spf13/cobra"
)

// errVerifyFailed is returned when at least one manifest entry does not
// match the disk.
var errVerifyFailed = errors.New("quarantine verification failed")

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check quarantined files against the manifest",
		Long: `Verify rehashes every file listed in the quarantine manifest and reports
files that are missing, changed in size or content, or lost their
.quarantine suffix. It exits with an error when any problem is found.

Examples:
  # Verify the default quarantine
  darkwatch verify

  # Verify another quarantine and print the result as JSON
  darkwatch verify -q ./out/quarantine --json`,
		Args: cobra.NoArgs,
		RunE: runVerifyCmd,
	}

	cmd.Flags().StringP("quarantine-dir", "q",
		filepath.Join(config.XDGDataDir(), config.DefaultQuarantineDirName),
		"Quarantine directory holding manifest.jsonl")
	cmd.Flags().BoolP("json", "j", false, "Output the result as JSON")

	return cmd
}

// runVerifyCmd executes the verify command.
func runVerifyCmd(cmd *cobra.Command, _ []string) error {
	root, err := cmd.Flags().GetString("quarantine-dir")
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	res, err := quarantine.Verify(root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(res); err != nil {
			return err
		}
	} else {
		printVerifyResult(out, root, res)
	}

	if len(res.Problems) > 0 {
		return fmt.Errorf("%w: %d of %d files", errVerifyFailed, len(res.Problems), res.Checked)
	}
	return nil
}

func printVerifyResult(w io.Writer, root string, res *quarantine.VerifyResult) {
	fmt.Fprintf(w, "Quarantine: %s\n", root)
	fmt.Fprintf(w, "Checked %s files: %s ok, %s problems\n",
		humanize.Comma(int64(res.Checked)),
		humanize.Comma(int64(res.OK)),
		humanize.Comma(int64(len(res.Problems))),
	)
	for _, p := range res.Problems {
		line := fmt.Sprintf("  [%s] %s", p.Kind, p.Record.StoredPath)
		if p.Detail != "" {
			line += " (" + p.Detail + ")"
		}
		fmt.Fprintln(w, line)
	}
}
