package supervisor

import (
	"fmt"

	"go.olrik.dev/olinit/internal/spawn"
)

// Stage says which step of the double fork failed
type Stage string

const (
	StageIntermediate Stage = "intermediate" // starting or running the first child
	StageWorkload     Stage = "workload"     // the first child starting the workload
	StageHandoff      Stage = "handoff"      // reading the first child's result
)

// LaunchError is returned for every failed launch attempt
type LaunchError struct {
	Stage Stage
	Kind  spawn.Kind
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed at %s stage (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
