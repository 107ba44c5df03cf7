package pm

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hipc-systems/hipc-core/domain"
)

// Tracker is the single dedicated track thread: one goroutine waits on
// an enqueue channel and a fan-in of every tracked process's state-change
// signal, which stands in for a kernel multi-wait over a set that grows
// and shrinks at runtime (Go has no primitive for select-over-a-slice,
// so each watched process gets its own forwarding goroutine instead).
type Tracker struct {
	fwVer   domain.FirmwareVersion
	metrics *Metrics

	mu      sync.Mutex
	live    []*ProcessInfo
	exiting []*ProcessInfo

	// nextPinID is a monotonic counter distinct from ProcessID: pin ids
	// are never reused for the tracker's lifetime, so a debugger attach
	// keyed on one can never alias a later process that reuses the same
	// kernel process id.
	nextPinID uint64

	enqueueCh chan *ProcessInfo
	signalCh  chan *ProcessInfo
	eventCh   chan struct{}

	cancel context.CancelFunc
}

// NewTracker creates a Tracker; call Start to launch its track thread.
func NewTracker(fwVer domain.FirmwareVersion, metrics *Metrics) *Tracker {
	return &Tracker{
		fwVer:     fwVer,
		metrics:   metrics,
		enqueueCh: make(chan *ProcessInfo),
		signalCh:  make(chan *ProcessInfo, 64),
		eventCh:   make(chan struct{}, 1),
	}
}

// Start launches the track thread in a background goroutine.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx)
}

func (t *Tracker) Shutdown() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tracker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pi := <-t.enqueueCh:
			t.mu.Lock()
			pi.PinID = t.allocatePinIDLocked()
			t.live = append(t.live, pi)
			t.mu.Unlock()
			go t.watch(ctx, pi)
		case pi := <-t.signalCh:
			t.handleStateChange(ctx, pi)
		}
	}
}

// Enqueue hands a new ProcessInfo to the tracker; LaunchProgram calls
// this once a process has been created. It blocks until the track
// thread has received the process; the track thread links it into the
// live list right after, so LiveCount may not include it yet when
// Enqueue returns.
func (t *Tracker) Enqueue(ctx context.Context, pi *ProcessInfo) error {
	select {
	case t.enqueueCh <- pi:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) watch(ctx context.Context, pi *ProcessInfo) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-pi.Source.Signal():
			if !ok {
				return
			}
			select {
			case t.signalCh <- pi:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleStateChange implements the per-process signal algorithm: query
// the fresh state, apply the state table, and on Terminated unlink the
// process from the live list (and, if requested, park it on the exiting
// list for GetProcessEventInfo to drain).
func (t *Tracker) handleStateChange(ctx context.Context, pi *ProcessInfo) {
	state, err := pi.Source.Query()
	if err != nil {
		logrus.WithError(err).WithField("process_id", pi.ProcessID).Warn("pm: state query failed")
		return
	}

	pi.mu.Lock()
	pi.state = state
	signal := applyStateTable(&pi.flags, state, t.fwVer)
	signalOnExit := pi.flags.Has(domain.FlagSignalOnExit)
	pi.mu.Unlock()

	if signal {
		t.signalEvent()
	}

	if state != domain.ProcessTerminated {
		return
	}
	_ = pi.Source.Close()
	if pi.launchBoost != nil {
		if err := pi.launchBoost.UnwindAll(); err != nil {
			logrus.WithError(err).WithField("process_id", pi.ProcessID).Warn("pm: unwinding launch boost failed")
		}
	}

	switch {
	case signalOnExit && t.fwVer >= domain.FwVer5_0_0:
		// Move straight to the exiting list; GetProcessEventInfo drains
		// it from there instead of scanning for it among the live.
		t.mu.Lock()
		t.removeLiveLocked(pi)
		t.exiting = append(t.exiting, pi)
		t.mu.Unlock()
		t.signalEvent()
	case signalOnExit:
		// Pre-5.0.0: stays on the live list, Terminated+SignalOnExit, so
		// GetProcessEventInfo's live-list scan is what surfaces Exited
		// and frees it.
	default:
		t.mu.Lock()
		t.removeLiveLocked(pi)
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.ObserveProcessFreed()
		}
	}
}

func (t *Tracker) removeLiveLocked(pi *ProcessInfo) {
	for i, p := range t.live {
		if p == pi {
			t.live = append(t.live[:i], t.live[i+1:]...)
			return
		}
	}
}

func (t *Tracker) signalEvent() {
	select {
	case t.eventCh <- struct{}{}:
	default:
	}
}

// applyStateTable mutates flags for a newly observed state and reports
// whether a client-visible signal should fire. It is pure with respect
// to fwVer and state so it can be unit-tested without a running Tracker.
func applyStateTable(flags *domain.ProcessFlags, state domain.ProcessState, fwVer domain.FirmwareVersion) (signal bool) {
	switch state {
	case domain.ProcessRunning:
		if flags.Has(domain.FlagSignalOnDebugEvent) {
			*flags = flags.Clear(domain.FlagSuspended)
			*flags = flags.Set(domain.FlagSuspendedStateChanged)
			signal = true
		} else if flags.Has(domain.FlagSignalOnStart) && fwVer >= domain.FwVer2_0_0 {
			*flags = flags.Set(domain.FlagStartedStateChanged)
			*flags = flags.Clear(domain.FlagSignalOnStart)
			signal = true
		}
		*flags = flags.Clear(domain.FlagUnhandledException)

	case domain.ProcessCrashed:
		if !flags.Has(domain.FlagUnhandledException) {
			*flags = flags.Set(domain.FlagExceptionOccurred)
			signal = true
		}
		*flags = flags.Set(domain.FlagExceptionWaitingAttach)

	case domain.ProcessRunningAttached:
		if flags.Has(domain.FlagSignalOnDebugEvent) {
			*flags = flags.Clear(domain.FlagSuspended)
			*flags = flags.Set(domain.FlagSuspendedStateChanged)
			signal = true
		}
		*flags = flags.Clear(domain.FlagUnhandledException)

	case domain.ProcessDebugBreak:
		if flags.Has(domain.FlagSignalOnDebugEvent) {
			*flags = flags.Set(domain.FlagSuspended)
			*flags = flags.Set(domain.FlagSuspendedStateChanged)
			signal = true
		}

	case domain.ProcessTerminated:
		signal = true
	}
	return signal
}

func (t *Tracker) allocatePinIDLocked() uint64 {
	t.nextPinID++
	return t.nextPinID
}

// LiveCount and ExitingCount expose the registry sizes for metrics and
// tests.
func (t *Tracker) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *Tracker) ExitingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exiting)
}
