// Package pm is the process lifecycle tracker: it keeps an in-memory
// registry of child processes, reacts to kernel-delivered state-change
// notifications by updating per-process flags, and surfaces a drained
// queue of client-visible events.
package pm

import (
	"sync"

	"github.com/hipc-systems/hipc-core/domain"
)

// StateSource abstracts the kernel object a tracked process is watched
// through: a channel that fires once per state transition, and a query
// call the tracker makes right after a fire to learn the new state. A
// real implementation wraps a process handle and a kernel system event;
// tests substitute a channel and a canned sequence of states.
type StateSource interface {
	Signal() <-chan struct{}
	Query() (domain.ProcessState, error)
	Close() error
}

// ProcessInfo is one tracked process: its identity, its kernel state
// source, and the flags/state the tracker has accumulated for it.
type ProcessInfo struct {
	mu sync.Mutex

	ProcessID uint64
	PinID     uint64
	Source    StateSource

	flags domain.ProcessFlags
	state domain.ProcessState

	// launchBoost is the resource-pool reservation LaunchProgram took out
	// for this process, if any; the tracker unwinds it the moment the
	// process is observed Terminated so a crashed process can't hold its
	// memory boost forever.
	launchBoost *LaunchBoost
}

// NewProcessInfo builds a tracked process. flags seeds the owner's launch
// options (FlagSignalOnExit, FlagSignalOnStart, FlagSignalOnDebugEvent,
// FlagApplication, ...); PinID is assigned by the Tracker on Enqueue.
func NewProcessInfo(processID uint64, source StateSource, flags domain.ProcessFlags) *ProcessInfo {
	return &ProcessInfo{
		ProcessID: processID,
		Source:    source,
		flags:     flags,
	}
}

func (p *ProcessInfo) Flags() domain.ProcessFlags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

func (p *ProcessInfo) State() domain.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
