package pm

import "github.com/hipc-systems/hipc-core/domain"

// EventCh fires whenever a new client-visible event is ready to drain.
// Callers implementing the blocking GetProcessEventInfo IPC surface
// select on it; GetProcessEventInfo itself never blocks.
func (t *Tracker) EventCh() <-chan struct{} { return t.eventCh }

// GetProcessEventInfo drains at most one event per call: it scans the
// live list in insertion order for the first latched condition (Started,
// Suspended-changed, Exception, and — pre-5.0.0 only — a terminated
// SignalOnExit process), clearing that one latch and returning. If
// nothing in live matched and firmware is 5.0.0+, it dequeues the front
// of the exiting list instead. With nothing to report, it returns
// EventNone.
func (t *Tracker) GetProcessEventInfo() domain.ProcessEventInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < len(t.live); i++ {
		pi := t.live[i]
		pi.mu.Lock()
		kind, matched, terminal := drainLatch(&pi.flags, pi.state, t.fwVer)
		pid := pi.ProcessID
		pi.mu.Unlock()

		if !matched {
			continue
		}
		if terminal {
			t.live = append(t.live[:i], t.live[i+1:]...)
		}
		return domain.ProcessEventInfo{ProcessID: pid, Kind: kind}
	}

	if t.fwVer >= domain.FwVer5_0_0 && len(t.exiting) > 0 {
		pi := t.exiting[0]
		t.exiting = t.exiting[1:]
		return domain.ProcessEventInfo{ProcessID: pi.ProcessID, Kind: domain.EventExited}
	}

	return domain.ProcessEventInfo{Kind: domain.EventNone}
}

// drainLatch checks, in priority order, the four latches a live entry
// can present and clears (at most) the first one it finds set. terminal
// reports whether the matched condition also means the entry should be
// removed from the live list (only true for the pre-5.0.0 Exited case;
// the fw>=5.0.0 Exited path never reaches here because it is moved to
// the exiting list before this scan runs).
func drainLatch(flags *domain.ProcessFlags, state domain.ProcessState, fwVer domain.FirmwareVersion) (kind domain.ProcessEventKind, matched, terminal bool) {
	switch {
	case flags.Has(domain.FlagStartedStateChanged):
		*flags = flags.Clear(domain.FlagStartedStateChanged)
		return domain.EventStarted, true, false

	case flags.Has(domain.FlagSuspendedStateChanged):
		*flags = flags.Clear(domain.FlagSuspendedStateChanged)
		if flags.Has(domain.FlagSuspended) {
			return domain.EventDebugBreak, true, false
		}
		return domain.EventDebugRunning, true, false

	case flags.Has(domain.FlagExceptionOccurred):
		*flags = flags.Clear(domain.FlagExceptionOccurred)
		return domain.EventException, true, false

	case fwVer < domain.FwVer5_0_0 && flags.Has(domain.FlagSignalOnExit) && state == domain.ProcessTerminated:
		*flags = flags.Clear(domain.FlagSignalOnExit)
		return domain.EventExited, true, true
	}
	return domain.EventNone, false, false
}
