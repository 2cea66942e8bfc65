package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsResetHook string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show or reset per-hook lock statistics",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsResetHook, "reset", "", "reset statistics for a hook (or \"all\")")
}

func runStats(cmd *cobra.Command, args []string) error {
	co, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer co.Close()

	if statsResetHook != "" {
		target := statsResetHook
		if target == "all" {
			target = ""
		}
		co.ResetStats(target)
		fmt.Printf("reset statistics for %q\n", statsResetHook)
		return nil
	}

	for _, s := range co.AllStats() {
		fmt.Printf("%-20s attempts=%-5d successes=%-5d failures=%-3d timeouts=%-3d stale_reclaims=%-3d heartbeat_failures=%-3d success_rate=%-6.2f avg_wait=%-10s avg_exec=%s\n",
			s.HookName, s.Attempts, s.Successes, s.Failures, s.Timeouts, s.StaleReclaimed, s.HeartbeatFailures, s.SuccessRate(), s.AvgWait(), s.AvgExec())
	}
	return nil
}
