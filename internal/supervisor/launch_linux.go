//go:build linux

package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.olrik.dev/olinit/internal/procinfo"
	"go.olrik.dev/olinit/internal/spawn"
	"golang.org/x/sys/unix"
)

// DefaultHandoffTimeout bounds how long we wait for the intermediate's
// result. The intermediate only forks and writes a line, so hitting this
// means it is stuck and gets killed.
const DefaultHandoffTimeout = 10 * time.Second

// launch performs the double fork: start the intermediate (our own binary
// in spawn mode), read the workload pid it reports, then reap it so the
// workload is left orphaned and reparented to us.
func (s *Supervisor) launch(source string) LaunchResult {
	argv := s.params.Argv()
	res := LaunchResult{
		Source:  source,
		Argv:    argv,
		Started: time.Now(),
	}

	r, w, err := os.Pipe()
	if err != nil {
		res.Err = &LaunchError{Stage: StageHandoff, Kind: spawn.Classify(err), Err: fmt.Errorf("create result pipe: %w", err)}
		return res
	}
	defer r.Close()

	proc, err := os.StartProcess(s.exe, append([]string{s.exe}, argv...), &os.ProcAttr{
		Env:   append(os.Environ(), spawn.EnvVar+"=1"),
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, w},
	})
	w.Close()
	if err != nil {
		res.Err = &LaunchError{Stage: StageIntermediate, Kind: spawn.Classify(err), Err: err}
		return res
	}
	res.IntermediatePID = proc.Pid
	// We reap the intermediate with wait4 ourselves
	proc.Release()

	slog.Debug("Intermediate started", "pid", res.IntermediatePID, "executable", s.exe)

	if err := r.SetReadDeadline(time.Now().Add(s.handoff)); err != nil {
		slog.Debug("Result pipe does not support deadlines", "error", err)
	}
	result, ok, readErr := spawn.ReadResult(r)
	if errors.Is(readErr, os.ErrDeadlineExceeded) {
		slog.Error("Intermediate did not report in time, killing it",
			"pid", res.IntermediatePID, "timeout", s.handoff)
		if err := unix.Kill(res.IntermediatePID, unix.SIGKILL); err != nil {
			slog.Warn("Failed to kill intermediate", "pid", res.IntermediatePID, "error", err)
		}
	}

	status, waitErr := waitPID(res.IntermediatePID)
	if waitErr != nil {
		slog.Warn("Failed to reap intermediate", "pid", res.IntermediatePID, "error", waitErr)
	} else {
		slog.Debug("Intermediate reaped", "pid", res.IntermediatePID, "status", describeStatus(status))
	}

	switch {
	case readErr != nil:
		res.Err = &LaunchError{Stage: StageHandoff, Kind: spawn.KindUnknown, Err: readErr}
	case !ok:
		kind := spawn.KindUnknown
		if waitErr == nil && status.Exited() {
			kind = spawn.KindFromExitCode(status.ExitStatus())
		}
		res.Err = &LaunchError{
			Stage: StageIntermediate,
			Kind:  kind,
			Err:   fmt.Errorf("intermediate exited without a result (%s)", describeStatus(status)),
		}
	case result.Kind != "":
		res.Err = &LaunchError{Stage: StageWorkload, Kind: result.Kind, Err: errors.New(result.Error)}
	case result.PID <= 0:
		res.Err = &LaunchError{Stage: StageHandoff, Kind: spawn.KindUnknown, Err: fmt.Errorf("invalid workload pid %d", result.PID)}
	default:
		res.WorkloadPID = result.PID
		s.logWorkload(result.PID)
	}

	return res
}

// logWorkload logs what is actually running under the reported pid
func (s *Supervisor) logWorkload(pid int) {
	info, err := procinfo.Inspect(pid)
	if err != nil {
		// A short-lived workload may be gone already
		slog.Debug("Could not inspect workload", "pid", pid, "error", err)
		return
	}
	slog.Debug("Workload process",
		"pid", info.PID,
		"ppid", info.PPID,
		"cmdline", info.Cmdline,
		"status", info.Status)
}
