package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/olinit/internal/procinfo"
	"go.olrik.dev/olinit/internal/supervisor"
)

// processStatus is what status reports about the namespace
type processStatus struct {
	Supervisor *procinfo.Info  `json:"supervisor,omitempty"`
	Workloads  []procinfo.Info `json:"workloads"`
	Zombies    []procinfo.Info `json:"zombies"`
}

func NewStatusCommand() *cobra.Command {
	var pid int

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Shows the supervisor, its running workloads and any unreaped zombies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := collectStatus(pid, supervisor.NewParams(supervisor.DefaultWorkload, nil).Prefix())
			if err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				formatStatus(os.Stdout, status)
			case "json":
				jsonBytes, err := json.Marshal(status)
				if err != nil {
					return err
				}
				fmt.Println(string(jsonBytes))
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return nil
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")
	statusCmd.Flags().IntVar(&pid, "pid", 1, "PID of the ol-init process")

	return statusCmd
}

func collectStatus(pid int, prefix []string) (processStatus, error) {
	status := processStatus{}

	if info, err := procinfo.Inspect(pid); err == nil {
		status.Supervisor = &info
	}

	all, err := procinfo.All()
	if err != nil {
		return status, fmt.Errorf("failed to list processes: %w", err)
	}
	for _, p := range all {
		switch {
		case p.Zombie():
			status.Zombies = append(status.Zombies, p)
		case procinfo.HasPrefix(p.Cmdline, prefix):
			status.Workloads = append(status.Workloads, p)
		}
	}
	return status, nil
}

func formatStatus(w io.Writer, status processStatus) {
	if status.Supervisor != nil {
		fmt.Fprintf(w, "Supervisor: PID %d (%s)\n", status.Supervisor.PID, formatCmdline(status.Supervisor.Cmdline))
	} else {
		fmt.Fprintln(w, "Supervisor: not running")
	}

	fmt.Fprintf(w, "Workloads: %d\n", len(status.Workloads))
	for _, p := range status.Workloads {
		fmt.Fprintf(w, "  - PID: %d, PPID: %d, %s\n", p.PID, p.PPID, formatCmdline(p.Cmdline))
	}

	fmt.Fprintf(w, "Zombies: %d\n", len(status.Zombies))
	for _, p := range status.Zombies {
		fmt.Fprintf(w, "  - PID: %d, PPID: %d\n", p.PID, p.PPID)
	}
}

func formatCmdline(cmdline []string) string {
	if len(cmdline) == 0 {
		return "?"
	}
	return strings.Join(cmdline, " ")
}
