package main

import (
	"fmt"
	"os"

	"go.olrik.dev/olinit/cmd"
	"go.olrik.dev/olinit/internal/spawn"
)

func main() {
	// Re-executed by the supervisor as the intermediate of a launch. The
	// arguments are the workload's argv and must not be parsed either.
	if spawn.Requested() {
		os.Exit(spawn.Main(os.Args[1:]))
	}

	var err error
	switch {
	// Called through the ol-initctl symlink
	case cmd.ControllerRequested():
		err = cmd.NewControllerCommand().Execute()
	// The supervisor parses nothing, so cobra never sees its arguments
	default:
		err = cmd.Supervise(os.Args[1:])
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
