package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func NewLaunchCommand() *cobra.Command {
	var pid int

	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Tell ol-init to start the workload",
		Long: `Send the launch signal (SIGUSR1) to ol-init.

Inside the sandbox ol-init is PID 1, which is the default target. From the
host, pass the supervisor's PID as seen from the host namespace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendLaunchSignal(pid); err != nil {
				return err
			}
			slog.Info("Launch signal sent", "pid", pid)
			return nil
		},
	}
	launchCmd.Flags().IntVar(&pid, "pid", 1, "PID of the ol-init process")

	return launchCmd
}

func sendLaunchSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(pid, unix.SIGUSR1); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return nil
}
