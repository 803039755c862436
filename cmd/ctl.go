package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.olrik.dev/olinit/internal/core"
)

const (
	// ControllerEnv selects the controller commands regardless of argv[0]
	ControllerEnv = "OL_INIT_CTL"

	controllerName = "ol-initctl"
)

// ControllerRequested reports whether the binary was started as ol-initctl,
// either through a symlink of that name or with OL_INIT_CTL set.
func ControllerRequested() bool {
	return os.Getenv(ControllerEnv) != "" || filepath.Base(os.Args[0]) == controllerName
}

// NewControllerCommand is the ol-initctl command tree, used by the sandbox
// host or from a shell inside the namespace.
func NewControllerCommand() *cobra.Command {
	var verbose int

	ctlCmd := &cobra.Command{
		Use:           controllerName,
		Short:         "Control the ol-init sandbox supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.InitializeConfig(); err != nil {
				return err
			}
			if verbose > core.Config.Verbose {
				core.Config.Verbose = verbose
			}
			core.SetupLogging(core.Config.Verbose)
			return nil
		},
	}
	ctlCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	ctlCmd.AddCommand(
		NewLaunchCommand(),
		NewStatusCommand(),
		NewHistoryCommand(),
		NewVersionCommand(),
	)

	return ctlCmd
}
