//go:build linux

// Package supervisor is the PID 1 side of ol-init. It waits for a launch
// trigger, starts the workload through a double fork so that the workload
// ends up as its direct (reparented) child, and reaps every child that
// exits for as long as the namespace lives.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"go.olrik.dev/olinit/internal/core"
	"go.olrik.dev/olinit/internal/db"
	"golang.org/x/sys/unix"
)

// State of the supervisor
type State string

const (
	StateWaiting   State = "waiting"   // no workload launched yet
	StateLaunching State = "launching" // double fork in progress
	StateLaunched  State = "launched"  // at least one workload started, reaping only
)

// Trigger sources
const (
	SourceSignal = "signal"
	SourceFile   = "file"
)

// DefaultLaunchSignal is what the sandbox host sends once the namespace
// is set up.
var DefaultLaunchSignal os.Signal = unix.SIGUSR1

// Options configures a Supervisor
type Options struct {
	Params Params
	Config *core.Configuration

	// Executable is re-executed as the intermediate process. Defaults to
	// our own binary.
	Executable string

	// Journal is optional
	Journal *db.DB

	// LaunchSignal defaults to DefaultLaunchSignal
	LaunchSignal os.Signal

	// Signals is a channel already registered with NotifySignals. Signals
	// queued on it before Run starts are handled once it does. If nil, Run
	// registers its own channel.
	Signals chan os.Signal

	// HandoffTimeout defaults to DefaultHandoffTimeout
	HandoffTimeout time.Duration
}

// NotifySignals registers for the launch signal and SIGCHLD. Called first
// thing at startup so a launch signal sent while ol-init is still loading
// its config is queued instead of dropped.
func NotifySignals(launch os.Signal) chan os.Signal {
	if launch == nil {
		launch = DefaultLaunchSignal
	}
	sigs := make(chan os.Signal, 16)
	signal.Notify(sigs, launch, unix.SIGCHLD)
	return sigs
}

// Supervisor owns every fork and every wait4 of the process. All of its
// work happens on the goroutine that calls Run.
type Supervisor struct {
	params       Params
	cfg          *core.Configuration
	exe          string
	journal      *db.DB
	launchSignal os.Signal
	sigs         chan os.Signal
	handoff      time.Duration

	requests chan string
	ready    chan struct{}
	launchFn func(source string) LaunchResult

	mu       sync.Mutex
	state    State
	launches int
	workload map[int]bool // pids of workloads we started and have not reaped
}

// LaunchResult describes one launch attempt
type LaunchResult struct {
	Source          string
	Argv            []string
	IntermediatePID int
	WorkloadPID     int
	Started         time.Time
	Err             error
}

// New creates a supervisor for the given launch parameters
func New(opts Options) *Supervisor {
	cfg := opts.Config
	if cfg == nil {
		cfg = core.GetDefaultConfig()
	}

	exe := opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			// /proc may not be mounted yet inside a fresh namespace
			slog.Warn("Cannot resolve own executable, falling back to argv[0]",
				"argv0", os.Args[0], "error", err)
			exe = os.Args[0]
		}
	}

	sig := opts.LaunchSignal
	if sig == nil {
		sig = DefaultLaunchSignal
	}

	handoff := opts.HandoffTimeout
	if handoff <= 0 {
		handoff = DefaultHandoffTimeout
	}

	s := &Supervisor{
		params:       opts.Params,
		cfg:          cfg,
		exe:          exe,
		journal:      opts.Journal,
		launchSignal: sig,
		sigs:         opts.Signals,
		handoff:      handoff,
		requests:     make(chan string, 8),
		ready:        make(chan struct{}),
		state:        StateWaiting,
		workload:     make(map[int]bool),
	}
	s.launchFn = s.launch
	return s
}

// Ready is closed once Run has started waiting for triggers. A launch
// signal that arrives before the channel is registered with NotifySignals
// is dropped by the Go runtime.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// State returns the current state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Launches returns the number of successful launches so far
func (s *Supervisor) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()

	if old != state {
		slog.Debug("Supervisor state changed", "from", old, "to", state)
	}
}

// Run blocks until ctx is cancelled. The ol-init binary never cancels it,
// so as PID 1 this runs for the lifetime of the namespace.
func (s *Supervisor) Run(ctx context.Context) error {
	if reaper, err := becomeSubreaper(); err != nil {
		slog.Warn("Failed to become child subreaper, orphans will not be reparented to us", "error", err)
	} else if reaper {
		slog.Info("Not running as PID 1, registered as child subreaper", "pid", os.Getpid())
	}

	sigs := s.sigs
	if sigs == nil {
		sigs = NotifySignals(s.launchSignal)
	}
	defer signal.Stop(sigs)

	if path := s.cfg.Launch.TriggerFile; path != "" {
		if err := s.watchTrigger(ctx, path); err != nil {
			slog.Error("Failed to watch trigger file, only the launch signal will work",
				"path", path, "error", err)
		}
	}

	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	s.journalEvent("start", fmt.Sprintf("pid %d, workload: %s", os.Getpid(), s.params))
	slog.Info("Waiting for launch trigger",
		"signal", s.launchSignal,
		"policy", s.cfg.Launch.Policy,
		"workload", s.params.String())
	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			s.journalEvent("stop", ctx.Err().Error())
			return ctx.Err()

		case sig := <-sigs:
			if sig == unix.SIGCHLD {
				s.reapAll()
				continue
			}
			s.trigger(SourceSignal)

		case source := <-s.requests:
			s.trigger(source)

		case <-ticker.C:
			s.reapAll()
		}
	}
}

// enqueue hands a launch request from another goroutine to Run
func (s *Supervisor) enqueue(ctx context.Context, source string) {
	select {
	case s.requests <- source:
	case <-ctx.Done():
	}
}

// trigger applies the launch policy and launches the workload
func (s *Supervisor) trigger(source string) {
	if s.cfg.Launch.Policy == core.PolicyOnce && s.Launches() > 0 {
		slog.Info("Ignoring launch trigger, workload already launched",
			"source", source, "policy", s.cfg.Launch.Policy)
		s.journalEvent("trigger_ignored", source)
		return
	}

	prev := s.State()
	s.setState(StateLaunching)
	slog.Info("Launch triggered", "source", source)

	res := s.launchFn(source)
	s.journalLaunch(res)

	if res.Err != nil {
		slog.Error("Workload launch failed", "source", source, "error", res.Err)
		s.setState(prev)
		return
	}

	s.mu.Lock()
	s.launches++
	s.workload[res.WorkloadPID] = true
	s.mu.Unlock()
	s.setState(StateLaunched)

	slog.Info("Workload launched",
		"pid", res.WorkloadPID,
		"intermediate_pid", res.IntermediatePID,
		"launches", s.Launches(),
		"took", time.Since(res.Started).Round(time.Microsecond))
}

func (s *Supervisor) journalEvent(eventType, details string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.LogSupervisorEvent(eventType, details); err != nil {
		slog.Warn("Failed to write supervisor event to journal", "event", eventType, "error", err)
	}
}

func (s *Supervisor) journalLaunch(res LaunchResult) {
	if s.journal == nil {
		return
	}
	entry := db.Launch{
		Source:          res.Source,
		IntermediatePID: res.IntermediatePID,
		WorkloadPID:     res.WorkloadPID,
		Argv:            res.Argv,
		Outcome:         db.OutcomeLaunched,
	}
	if res.Err != nil {
		entry.Outcome = db.OutcomeFailed
		entry.Error = res.Err.Error()
		if le, ok := res.Err.(*LaunchError); ok {
			entry.ErrorKind = string(le.Kind)
		}
	}
	if err := s.journal.LogLaunch(entry); err != nil {
		slog.Warn("Failed to write launch to journal", "error", err)
	}
}

func (s *Supervisor) journalExit(pid int, status string, launched bool) {
	if s.journal == nil {
		return
	}
	if err := s.journal.LogExit(pid, status, launched); err != nil {
		slog.Warn("Failed to write exit to journal", "pid", pid, "error", err)
	}
}
