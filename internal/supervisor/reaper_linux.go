//go:build linux

package supervisor

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// becomeSubreaper makes orphaned descendants reparent to us when we are
// not PID 1, e.g. under a test harness or docker without --init.
func becomeSubreaper() (bool, error) {
	if os.Getpid() == 1 {
		return false, nil
	}
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return false, fmt.Errorf("prctl(PR_SET_CHILD_SUBREAPER) failed: %w", err)
	}
	return true, nil
}

// reapAll collects every child that has exited. Called on SIGCHLD and on
// the reap ticker, since SIGCHLDs coalesce.
func (s *Supervisor) reapAll() int {
	reaped := 0
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err != unix.ECHILD {
				slog.Warn("wait4 failed", "error", err)
			}
			return reaped
		}
		if pid <= 0 {
			return reaped
		}
		reaped++

		s.mu.Lock()
		launched := s.workload[pid]
		delete(s.workload, pid)
		s.mu.Unlock()

		desc := describeStatus(status)
		if launched {
			slog.Info("Workload exited", "pid", pid, "status", desc)
		} else {
			slog.Debug("Reaped orphan", "pid", pid, "status", desc)
		}
		s.journalExit(pid, desc, launched)
	}
}

// waitPID blocks until pid exits and reaps it
func waitPID(pid int) (unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		return status, err
	}
}

func describeStatus(status unix.WaitStatus) string {
	switch {
	case status.Exited():
		return fmt.Sprintf("exit status %d", status.ExitStatus())
	case status.Signaled():
		desc := "signal: " + unix.SignalName(status.Signal())
		if status.CoreDump() {
			desc += " (core dumped)"
		}
		return desc
	case status.Stopped():
		return "stopped: " + unix.SignalName(status.StopSignal())
	}
	return fmt.Sprintf("status %#x", uint32(status))
}
