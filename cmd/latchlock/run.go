package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <hook-name> -- <command> [args...]",
	Short: "Acquire a hook's lock, run a command, then release it",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	dashIdx := cmd.ArgsLenAtDash()
	if dashIdx <= 0 || dashIdx >= len(args) {
		return fmt.Errorf("usage: latchlock run <hook-name> -- <command> [args...]")
	}
	hookName := args[0]
	cmdArgs := args[dashIdx:]

	co, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer co.Close()
	co.Register(hookName, 0)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	guard, err := co.Acquire(ctx, hookName)
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", hookName, err)
	}
	defer guard.Release()

	child := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	if err := child.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// os.Exit skips deferred calls, so release explicitly first.
			guard.Release()
			co.Close()
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	return nil
}
