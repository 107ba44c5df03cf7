package domain

// ProcessFlags is the bitfield tracked per process by the tracker.
type ProcessFlags uint32

const (
	FlagSignalOnExit ProcessFlags = 1 << iota
	FlagExceptionOccurred
	FlagExceptionWaitingAttach
	FlagSignalOnDebugEvent
	FlagSuspendedStateChanged
	FlagSuspended
	FlagApplication
	FlagSignalOnStart
	FlagStartedStateChanged
	FlagUnhandledException
)

func (f ProcessFlags) Has(bit ProcessFlags) bool { return f&bit != 0 }
func (f ProcessFlags) Set(bit ProcessFlags) ProcessFlags   { return f | bit }
func (f ProcessFlags) Clear(bit ProcessFlags) ProcessFlags { return f &^ bit }

// ProcessState is a kernel-delivered process state.
type ProcessState int

const (
	ProcessCreated ProcessState = iota
	ProcessCreatedAttached
	ProcessRunning
	ProcessRunningAttached
	ProcessCrashed
	ProcessTerminating
	ProcessTerminated
	ProcessDebugBreak
)

func (s ProcessState) String() string {
	names := [...]string{
		"Created", "CreatedAttached", "Running", "RunningAttached",
		"Crashed", "Terminating", "Terminated", "DebugBreak",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// ProcessEventKind is a client-visible event surfaced by
// GetProcessEventInfo.
type ProcessEventKind int

const (
	EventNone ProcessEventKind = iota
	EventStarted
	EventDebugBreak
	EventDebugRunning
	EventException
	EventExited
)

func (k ProcessEventKind) String() string {
	names := [...]string{"None", "Started", "DebugBreak", "DebugRunning", "Exception", "Exited"}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

// ProcessEventInfo is one record surfaced to clients draining the event
// queue.
type ProcessEventInfo struct {
	ProcessID uint64
	Kind      ProcessEventKind
}

// FirmwareVersion is an ordinal used by a handful of state-table rules
// that are gated on firmware version.
type FirmwareVersion uint32

const (
	FwVer2_0_0 FirmwareVersion = 2_000_000
	FwVer5_0_0 FirmwareVersion = 5_000_000
)
