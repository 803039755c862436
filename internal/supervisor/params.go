package supervisor

import (
	"slices"
	"strings"
)

// Workload is the program the supervisor launches: always the same
// interpreter running the same script.
type Workload struct {
	Interpreter string
	Script      string
}

// DefaultWorkload is the sandbox's lambda server. Neither path can be
// changed from the command line or the config file.
var DefaultWorkload = Workload{
	Interpreter: "/usr/bin/python",
	Script:      "/server.py",
}

// Params is the argv of the workload: interpreter, script, then the
// supervisor's own arguments verbatim. It is immutable once built.
type Params struct {
	argv []string
}

// NewParams builds the launch parameters from the arguments that follow
// the program name.
func NewParams(w Workload, args []string) Params {
	argv := make([]string, 0, 2+len(args))
	argv = append(argv, w.Interpreter, w.Script)
	argv = append(argv, args...)
	return Params{argv: argv}
}

// Argv returns a copy of the workload argv
func (p Params) Argv() []string {
	return slices.Clone(p.argv)
}

// Prefix returns the interpreter and script, which identify a running
// workload in the process table.
func (p Params) Prefix() []string {
	return slices.Clone(p.argv[:2])
}

func (p Params) String() string {
	return strings.Join(p.argv, " ")
}
