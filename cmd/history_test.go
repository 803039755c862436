package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/olinit/internal/db"
)

func TestFormatLaunches(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	launches := []db.Launch{
		{
			Source:      "signal",
			WorkloadPID: 42,
			Argv:        []string{"/usr/bin/python", "/server.py", "--port", "8080"},
			Outcome:     db.OutcomeLaunched,
			Timestamp:   ts,
		},
		{
			Source:    "file",
			Outcome:   db.OutcomeFailed,
			ErrorKind: "not_found",
			Error:     "no such file or directory",
			Timestamp: ts,
		},
	}

	var buf bytes.Buffer
	formatLaunches(&buf, launches, false)

	want := "Launches (2):\n" +
		"  2026-03-01 12:00:00 launched via signal, PID: 42, /usr/bin/python /server.py --port 8080\n" +
		"  2026-03-01 12:00:00 failed via file (not_found): no such file or directory\n"
	if got := buf.String(); got != want {
		t.Errorf("formatLaunches() = %q, want %q", got, want)
	}
}

func TestFormatLaunches_Color(t *testing.T) {
	var buf bytes.Buffer
	formatLaunches(&buf, []db.Launch{{Outcome: db.OutcomeFailed, Timestamp: time.Now()}}, true)

	if !strings.Contains(buf.String(), colorRed+db.OutcomeFailed+colorReset) {
		t.Errorf("expected failed outcome in red, got %q", buf.String())
	}
}

func TestFormatExits(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	exits := []db.Exit{
		{PID: 42, Status: "exit status 0", Launched: true, Timestamp: ts},
		{PID: 77, Status: "signal: SIGKILL", Timestamp: ts},
	}

	var buf bytes.Buffer
	formatExits(&buf, exits, false)

	want := "Reaped (2):\n" +
		"  2026-03-01 12:00:00 PID: 42 (workload) exit status 0\n" +
		"  2026-03-01 12:00:00 PID: 77 (orphan) signal: SIGKILL\n"
	if got := buf.String(); got != want {
		t.Errorf("formatExits() = %q, want %q", got, want)
	}
}

func TestFormatExits_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatExits(&buf, nil, false)
	if got := buf.String(); got != "Reaped (0):\n" {
		t.Errorf("formatExits(nil) = %q", got)
	}
}

func TestFormatEvents(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	events := []db.SupervisorEvent{
		{EventType: "trigger_ignored", Details: "signal", Timestamp: ts},
		{EventType: "start", Details: "pid 1, workload: /usr/bin/python /server.py", Timestamp: ts},
	}

	var buf bytes.Buffer
	formatEvents(&buf, events, false)

	want := "Supervisor events (2):\n" +
		"  2026-03-01 12:00:00 trigger_ignored: signal\n" +
		"  2026-03-01 12:00:00 start: pid 1, workload: /usr/bin/python /server.py\n"
	if got := buf.String(); got != want {
		t.Errorf("formatEvents() = %q, want %q", got, want)
	}
}
