package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/olinit/internal/core"
	"go.olrik.dev/olinit/internal/db"
	"golang.org/x/term"
)

// ANSI color codes
const (
	colorReset = "\033[0m"
	colorDim   = "\033[2m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
)

func NewHistoryCommand() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Shows recent launches, reaped children and supervisor events from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := core.Config.JournalPath
			if path == "" {
				return errors.New("journal is disabled, set journal in " + core.ConfigPath())
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no journal at %s: %w", path, err)
			}

			journal, err := db.Open(path)
			if err != nil {
				return err
			}
			defer journal.Close()

			launches, err := journal.GetRecentLaunches(limit)
			if err != nil {
				return fmt.Errorf("failed to read launches: %w", err)
			}
			exits, err := journal.GetRecentExits(limit)
			if err != nil {
				return fmt.Errorf("failed to read exits: %w", err)
			}
			events, err := journal.GetRecentSupervisorEvents(limit)
			if err != nil {
				return fmt.Errorf("failed to read supervisor events: %w", err)
			}

			color := term.IsTerminal(int(os.Stdout.Fd()))
			formatLaunches(os.Stdout, launches, color)
			fmt.Println()
			formatExits(os.Stdout, exits, color)
			fmt.Println()
			formatEvents(os.Stdout, events, color)
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of entries to show")

	return historyCmd
}

func paint(color bool, code, s string) string {
	if !color {
		return s
	}
	return code + s + colorReset
}

func formatLaunches(w io.Writer, launches []db.Launch, color bool) {
	fmt.Fprintf(w, "Launches (%d):\n", len(launches))
	for _, l := range launches {
		when := paint(color, colorDim, l.Timestamp.Local().Format(time.DateTime))
		if l.Outcome == db.OutcomeLaunched {
			fmt.Fprintf(w, "  %s %s via %s, PID: %d, %s\n",
				when, paint(color, colorGreen, l.Outcome), l.Source, l.WorkloadPID, formatCmdline(l.Argv))
			continue
		}
		fmt.Fprintf(w, "  %s %s via %s (%s): %s\n",
			when, paint(color, colorRed, l.Outcome), l.Source, l.ErrorKind, l.Error)
	}
}

func formatExits(w io.Writer, exits []db.Exit, color bool) {
	fmt.Fprintf(w, "Reaped (%d):\n", len(exits))
	for _, e := range exits {
		kind := "orphan"
		if e.Launched {
			kind = "workload"
		}
		fmt.Fprintf(w, "  %s PID: %d (%s) %s\n",
			paint(color, colorDim, e.Timestamp.Local().Format(time.DateTime)), e.PID, kind, e.Status)
	}
}

func formatEvents(w io.Writer, events []db.SupervisorEvent, color bool) {
	fmt.Fprintf(w, "Supervisor events (%d):\n", len(events))
	for _, e := range events {
		fmt.Fprintf(w, "  %s %s: %s\n",
			paint(color, colorDim, e.Timestamp.Local().Format(time.DateTime)), e.EventType, e.Details)
	}
}
