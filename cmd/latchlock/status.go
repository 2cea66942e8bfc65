package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the coordinator's current state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	co, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer co.Close()

	status := co.Status()

	if statusJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("enabled:       %t\n", status.Enabled)
	fmt.Printf("lock dir:      %s\n", status.LockDir)
	fmt.Printf("required:      %v\n", status.Required)
	fmt.Printf("held:          %v\n", status.HeldInProcess)
	fmt.Printf("active global: %v\n", status.ActiveGlobal)
	for _, s := range status.Stats {
		fmt.Printf("  %-20s attempts=%d successes=%d failures=%d timeouts=%d stale_reclaims=%d heartbeat_failures=%d avg_wait=%s avg_exec=%s\n",
			s.HookName, s.Attempts, s.Successes, s.Failures, s.Timeouts, s.StaleReclaimed, s.HeartbeatFailures, s.AvgWait(), s.AvgExec())
	}
	return nil
}
