// Package procinfo inspects processes in the namespace through gopsutil.
package procinfo

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// Info is a snapshot of one process
type Info struct {
	PID     int      `json:"pid"`
	PPID    int      `json:"ppid"`
	Cmdline []string `json:"cmdline"`
	Status  []string `json:"status"`
}

// Zombie reports whether the process has exited but was not reaped yet
func (i Info) Zombie() bool {
	return slices.Contains(i.Status, process.Zombie)
}

// Inspect returns a snapshot of pid
func Inspect(pid int) (Info, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Info{}, fmt.Errorf("inspect pid %d: %w", pid, err)
	}
	return snapshot(p)
}

func snapshot(p *process.Process) (Info, error) {
	info := Info{PID: int(p.Pid)}

	ppid, err := p.Ppid()
	if err != nil {
		return info, fmt.Errorf("ppid of %d: %w", p.Pid, err)
	}
	info.PPID = int(ppid)

	// Zombies have an empty cmdline, that is not an error
	cmdline, err := p.CmdlineSlice()
	if err == nil {
		info.Cmdline = cmdline
	}

	status, err := p.Status()
	if err != nil {
		return info, fmt.Errorf("status of %d: %w", p.Pid, err)
	}
	info.Status = status

	return info, nil
}

// All returns a snapshot of every visible process. Processes that vanish
// while being inspected are skipped.
func All() ([]Info, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	infos := make([]Info, 0, len(procs))
	for _, p := range procs {
		info, err := snapshot(p)
		if err != nil {
			slog.Debug("Skipping process", "pid", p.Pid, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ChildrenOf returns the direct children of ppid. gopsutil's Children shells
// out to pgrep, which a minimal sandbox image may not have.
func ChildrenOf(ppid int) ([]Info, error) {
	all, err := All()
	if err != nil {
		return nil, err
	}
	var children []Info
	for _, info := range all {
		if info.PPID == ppid {
			children = append(children, info)
		}
	}
	return children, nil
}

// HasPrefix reports whether cmdline begins with every element of prefix.
// An empty prefix matches nothing.
func HasPrefix(cmdline, prefix []string) bool {
	if len(prefix) == 0 || len(cmdline) < len(prefix) {
		return false
	}
	return slices.Equal(cmdline[:len(prefix)], prefix)
}
