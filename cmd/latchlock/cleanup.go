package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one stale/corrupt lock-file sweep immediately",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	co, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer co.Close()

	res, err := co.CleanupStale(0)
	if err != nil {
		return err
	}

	fmt.Printf("scanned=%d removed=%d skipped=%d\n", res.Scanned, res.Removed, res.Skipped)
	return nil
}
