// Command latchlock runs and inspects the hook coordination core from the
// command line.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/latchwork/latchwork/internal/hooklog"
)

var (
	version = "dev"

	cfgFile string
	debug   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "latchlock",
	Short:   "Two-tier lock coordination for code-quality hooks",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		hooklog.Init(debug)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
}
