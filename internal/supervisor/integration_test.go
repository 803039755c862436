//go:build linux

package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"syscall"
	"testing"
	"time"

	"go.olrik.dev/olinit/internal/core"
	"go.olrik.dev/olinit/internal/procinfo"
	"go.olrik.dev/olinit/internal/spawn"
)

// The test binary doubles as the supervisor and as the intermediate
// process, the same way the ol-init binary does.
const (
	testModeEnv        = "OL_INIT_TEST_MODE"
	testInterpreterEnv = "OL_INIT_TEST_INTERPRETER"
	testScriptEnv      = "OL_INIT_TEST_SCRIPT"
	testPolicyEnv      = "OL_INIT_TEST_POLICY"
	testHoldEnv        = "OL_INIT_TEST_HOLD"
)

func TestMain(m *testing.M) {
	if spawn.Requested() {
		os.Exit(spawn.Main(os.Args[1:]))
	}
	if os.Getenv(testModeEnv) == "supervise" {
		os.Exit(runTestSupervisor())
	}
	os.Exit(m.Run())
}

func runTestSupervisor() int {
	sigs := NotifySignals(DefaultLaunchSignal)

	// Stand in for a slow startup: wait for a line on stdin before Run
	if os.Getenv(testHoldEnv) != "" {
		fmt.Println("registered")
		bufio.NewReader(os.Stdin).ReadString('\n')
	}

	cfg := core.GetDefaultConfig()
	cfg.ReapInterval = 100 * time.Millisecond
	if policy := os.Getenv(testPolicyEnv); policy != "" {
		cfg.Launch.Policy = policy
	}

	workload := Workload{
		Interpreter: os.Getenv(testInterpreterEnv),
		Script:      os.Getenv(testScriptEnv),
	}

	s := New(Options{
		Params:  NewParams(workload, os.Args[1:]),
		Config:  cfg,
		Signals: sigs,
	})
	go func() {
		<-s.Ready()
		fmt.Println("ready")
	}()

	if err := s.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return 1
}

// sleepingScript does not end in sleep, so no shell can exec into it and
// change the workload's command line.
const sleepingScript = "sleep 60\nexit 0"

type testSupervisor struct {
	cmd    *exec.Cmd
	pid    int
	prefix []string
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "workload.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write workload script: %v", err)
	}
	return script
}

// newSupervisorProcess runs the supervisor in its own process group and
// returns a reader for its stdout and a writer for its stdin.
func newSupervisorProcess(t *testing.T, interpreter, script, policy string, hold bool, args ...string) (*testSupervisor, *bufio.Reader, io.WriteCloser) {
	t.Helper()

	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = append(os.Environ(),
		testModeEnv+"=supervise",
		testInterpreterEnv+"="+interpreter,
		testScriptEnv+"="+script,
		testPolicyEnv+"="+policy,
	)
	if hold {
		cmd.Env = append(cmd.Env, testHoldEnv+"=1")
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("failed to create stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("failed to create stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start supervisor: %v", err)
	}
	t.Cleanup(func() {
		// Takes the workloads down with it, they share the process group
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		cmd.Wait()
	})

	ts := &testSupervisor{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		prefix: []string{interpreter, script},
	}
	return ts, bufio.NewReader(stdout), stdin
}

func expectLine(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	line := make(chan string, 1)
	go func() {
		l, _ := r.ReadString('\n')
		line <- l
	}()
	select {
	case got := <-line:
		if got != want+"\n" {
			t.Fatalf("expected %q line from supervisor, got %q", want, got)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("supervisor did not print %q", want)
	}
}

// startSupervisor starts the supervisor and waits until it waits for
// triggers.
func startSupervisor(t *testing.T, interpreter, script, policy string, args ...string) *testSupervisor {
	t.Helper()
	ts, stdout, _ := newSupervisorProcess(t, interpreter, script, policy, false, args...)
	expectLine(t, stdout, "ready")
	return ts
}

func (ts *testSupervisor) signal(t *testing.T) {
	t.Helper()
	if err := syscall.Kill(ts.pid, syscall.SIGUSR1); err != nil {
		t.Fatalf("failed to signal supervisor: %v", err)
	}
}

// children splits the supervisor's children into workloads and the rest
func (ts *testSupervisor) children(t *testing.T) (workloads, others []procinfo.Info) {
	t.Helper()
	children, err := procinfo.ChildrenOf(ts.pid)
	if err != nil {
		t.Fatalf("failed to list children: %v", err)
	}
	for _, c := range children {
		if procinfo.HasPrefix(c.Cmdline, ts.prefix) && !c.Zombie() {
			workloads = append(workloads, c)
		} else {
			others = append(others, c)
		}
	}
	return workloads, others
}

// waitForWorkloads waits until exactly n workloads run as direct children
// and nothing else (no intermediate, no zombie) is left.
func (ts *testSupervisor) waitForWorkloads(t *testing.T, n int) []procinfo.Info {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		workloads, others := ts.children(t)
		if len(workloads) == n && len(others) == 0 {
			return workloads
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d workloads and no other children, got workloads=%v others=%v",
				n, workloads, others)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (ts *testSupervisor) assertAlive(t *testing.T) {
	t.Helper()
	info, err := procinfo.Inspect(ts.pid)
	if err != nil {
		t.Fatalf("supervisor %d is gone: %v", ts.pid, err)
	}
	if info.Zombie() {
		t.Fatalf("supervisor %d exited", ts.pid)
	}
}

func TestSupervisor_LaunchOnSignal(t *testing.T) {
	script := writeScript(t, sleepingScript)
	ts := startSupervisor(t, "/bin/sh", script, core.PolicyEvery, "a", "b")

	// Nothing runs before the trigger
	time.Sleep(100 * time.Millisecond)
	if workloads, others := ts.children(t); len(workloads)+len(others) != 0 {
		t.Fatalf("expected no children before the launch signal, got %v %v", workloads, others)
	}

	ts.signal(t)
	workloads := ts.waitForWorkloads(t, 1)

	want := []string{"/bin/sh", script, "a", "b"}
	if !slices.Equal(workloads[0].Cmdline, want) {
		t.Errorf("expected workload cmdline %q, got %q", want, workloads[0].Cmdline)
	}

	// Still running after the supervisor went back to idle
	time.Sleep(200 * time.Millisecond)
	ts.waitForWorkloads(t, 1)
	ts.assertAlive(t)
}

func TestSupervisor_LaunchTwice(t *testing.T) {
	script := writeScript(t, sleepingScript)
	ts := startSupervisor(t, "/bin/sh", script, core.PolicyEvery)

	ts.signal(t)
	first := ts.waitForWorkloads(t, 1)

	ts.signal(t)
	both := ts.waitForWorkloads(t, 2)

	if both[0].PID == both[1].PID {
		t.Fatalf("expected two distinct workloads, got %v", both)
	}
	found := false
	for _, w := range both {
		if w.PID == first[0].PID {
			found = true
		}
	}
	if !found {
		t.Errorf("first workload %d disappeared after second launch", first[0].PID)
	}
	ts.assertAlive(t)
}

func TestSupervisor_PolicyOnce(t *testing.T) {
	script := writeScript(t, sleepingScript)
	ts := startSupervisor(t, "/bin/sh", script, core.PolicyOnce)

	ts.signal(t)
	ts.waitForWorkloads(t, 1)

	ts.signal(t)
	time.Sleep(500 * time.Millisecond)
	ts.waitForWorkloads(t, 1)
	ts.assertAlive(t)
}

func TestSupervisor_ReapsExitedWorkloads(t *testing.T) {
	script := writeScript(t, "exit 0")
	ts := startSupervisor(t, "/bin/sh", script, core.PolicyEvery)

	for i := 0; i < 5; i++ {
		ts.signal(t)
		// The workload exits at once; all that may remain is nothing
		ts.waitForWorkloads(t, 0)
	}
	time.Sleep(300 * time.Millisecond)
	ts.waitForWorkloads(t, 0)
	ts.assertAlive(t)
}

func TestSupervisor_SurvivesFailedLaunch(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "python")
	ts := startSupervisor(t, missing, "/server.py", core.PolicyEvery)

	ts.signal(t)
	time.Sleep(500 * time.Millisecond)
	ts.waitForWorkloads(t, 0)
	ts.assertAlive(t)

	// A later trigger is still handled
	ts.signal(t)
	time.Sleep(200 * time.Millisecond)
	ts.assertAlive(t)
}

func TestSupervisor_LaunchSignalDuringStartup(t *testing.T) {
	script := writeScript(t, sleepingScript)
	ts, stdout, stdin := newSupervisorProcess(t, "/bin/sh", script, core.PolicyEvery, true)
	expectLine(t, stdout, "registered")

	// Signalled while the supervisor is still starting up
	ts.signal(t)
	time.Sleep(100 * time.Millisecond)
	if workloads, others := ts.children(t); len(workloads)+len(others) != 0 {
		t.Fatalf("expected no children before Run, got %v %v", workloads, others)
	}

	if _, err := io.WriteString(stdin, "go\n"); err != nil {
		t.Fatalf("failed to release supervisor: %v", err)
	}
	expectLine(t, stdout, "ready")

	// The queued signal launches exactly once
	ts.waitForWorkloads(t, 1)
	time.Sleep(300 * time.Millisecond)
	ts.waitForWorkloads(t, 1)
	ts.assertAlive(t)
}
