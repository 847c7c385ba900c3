package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for DarkWatch.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "darkwatch",
		Short: "Forum crawler for Tor hidden services",
		Long: `DarkWatch crawls discussion forums reachable only through Tor.

Each forum is described in a YAML file by its listing URLs and ordered CSS
selector lists. Posts are appended to a deduplicated JSON lines log and,
optionally, a SQLite database. Attachments are never opened: they are
renamed with a .quarantine suffix, written read-only to the owner and
listed in a hash manifest.

DarkWatch expects Tor SOCKS listeners on 127.0.0.1:9150 (protocol client)
and 127.0.0.1:9050 (rendering engine). Run "darkwatch init" to create a
forum configuration file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-file", "", "Write logs to a size-rotated file instead of stderr")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
