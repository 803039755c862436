package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"go.olrik.dev/olinit/internal/core"
	"go.olrik.dev/olinit/internal/db"
	"go.olrik.dev/olinit/internal/supervisor"
)

// runLoop runs the supervisor; tests replace it to inspect the options
var runLoop = func(ctx context.Context, opts supervisor.Options) error {
	return supervisor.New(opts).Run(ctx)
}

// Supervise is ol-init itself. Every argument is forwarded verbatim to
// "/usr/bin/python /server.py ARGS...". It goes around cobra entirely:
// cobra reserves argument words such as __complete, and ol-init must not
// interpret any of its arguments.
func Supervise(args []string) error {
	return runSupervisor(context.Background(), args)
}

func runSupervisor(ctx context.Context, args []string) error {
	// The launch signal may arrive while the config and journal load
	sigs := supervisor.NotifySignals(supervisor.DefaultLaunchSignal)

	// Built before anything else and never changed afterwards
	params := supervisor.NewParams(supervisor.DefaultWorkload, args)

	if err := core.InitializeConfig(); err != nil {
		signal.Stop(sigs)
		core.SetupLogging(0)
		return fmt.Errorf("failed to load config %s: %w", core.ConfigPath(), err)
	}
	core.SetupLogging(core.Config.Verbose)

	slog.Info("ol-init starting",
		"version", core.FormatVersion(core.Version),
		"pid", os.Getpid(),
		"config", core.ConfigPath())

	var journal *db.DB
	if path := core.Config.JournalPath; path != "" {
		j, err := db.Open(path)
		if err != nil {
			slog.Error("Failed to open journal, continuing without it", "path", path, "error", err)
		} else {
			journal = j
			defer journal.Close()
			slog.Info("Journal opened", "path", path)
		}
	}

	return runLoop(ctx, supervisor.Options{
		Params:       params,
		Config:       core.Config,
		Journal:      journal,
		LaunchSignal: supervisor.DefaultLaunchSignal,
		Signals:      sigs,
	})
}
