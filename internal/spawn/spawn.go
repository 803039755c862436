// Package spawn is the first-generation child of the supervisor's double
// fork. The supervisor re-executes its own binary with EnvVar set; that
// process starts the workload, reports the outcome on ResultFD and exits
// without waiting, so the workload is reparented to the supervisor.
package spawn

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// EnvVar marks a re-executed ol-init as the intermediate process
const EnvVar = "OL_INIT_SPAWN"

// ResultFD is the descriptor the intermediate writes its Result to
const ResultFD = 3

// Result is the single message the intermediate sends back
type Result struct {
	PID   int    `json:"pid,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// Requested reports whether this process was started as the intermediate
func Requested() bool {
	return os.Getenv(EnvVar) != ""
}

// Main is the intermediate's entry point. argv is the workload argv; the
// return value is the process exit code.
func Main(argv []string) int {
	// The workload must not inherit the result pipe, or the supervisor
	// would never see EOF.
	unix.CloseOnExec(ResultFD)
	result := os.NewFile(ResultFD, "spawn-result")
	defer result.Close()

	return Run(argv, result)
}

// Run starts argv[0] with argv, writes the Result to w and returns the exit
// code. It never waits for the workload.
func Run(argv []string, w io.Writer) int {
	if len(argv) == 0 {
		report(w, Result{Kind: KindUnknown, Error: "empty workload argv"})
		return ExitUsage
	}

	proc, err := os.StartProcess(argv[0], argv, &os.ProcAttr{
		Env:   workloadEnv(os.Environ()),
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	})
	if err != nil {
		kind := Classify(err)
		report(w, Result{Kind: kind, Error: err.Error()})
		return kind.ExitCode()
	}

	pid := proc.Pid
	proc.Release()

	if err := report(w, Result{PID: pid}); err != nil {
		// The workload is running; the supervisor will still reap it.
		return ExitUnknown
	}
	return ExitOK
}

func report(w io.Writer, r Result) error {
	return json.NewEncoder(w).Encode(r)
}

// workloadEnv drops EnvVar so the workload cannot mistake itself for an
// intermediate if it happens to run ol-init.
func workloadEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvVar+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// ReadResult decodes the intermediate's Result. ok is false when the
// intermediate exited without writing anything.
func ReadResult(r io.Reader) (res Result, ok bool, err error) {
	err = json.NewDecoder(r).Decode(&res)
	if errors.Is(err, io.EOF) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("decode spawn result: %w", err)
	}
	return res, true, nil
}
