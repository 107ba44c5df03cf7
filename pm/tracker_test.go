package pm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

type fakeSource struct {
	sig chan struct{}

	mu     sync.Mutex
	state  domain.ProcessState
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{sig: make(chan struct{}, 8)}
}

func (f *fakeSource) Signal() <-chan struct{} { return f.sig }

func (f *fakeSource) Query() (domain.ProcessState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) fire(state domain.ProcessState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	f.sig <- struct{}{}
}

func startTestTracker(t *testing.T, fwVer domain.FirmwareVersion) (*Tracker, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tr := NewTracker(fwVer, nil)
	tr.Start(ctx)
	return tr, ctx
}

func TestTrackerRunningWithSignalOnStartSurfacesStarted(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer2_0_0)
	src := newFakeSource()
	pi := NewProcessInfo(1, src, domain.FlagSignalOnStart)
	require.NoError(t, tr.Enqueue(ctx, pi))

	src.fire(domain.ProcessRunning)

	require.Eventually(t, func() bool {
		return pi.Flags().Has(domain.FlagStartedStateChanged)
	}, time.Second, time.Millisecond)
	assert.False(t, pi.Flags().Has(domain.FlagSignalOnStart), "SignalOnStart is consumed once used")

	ev := tr.GetProcessEventInfo()
	assert.Equal(t, domain.EventStarted, ev.Kind)
	assert.Equal(t, uint64(1), ev.ProcessID)
	assert.False(t, pi.Flags().Has(domain.FlagStartedStateChanged))
}

func TestTrackerCrashedSetsExceptionLatches(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer5_0_0)
	src := newFakeSource()
	pi := NewProcessInfo(2, src, 0)
	require.NoError(t, tr.Enqueue(ctx, pi))

	src.fire(domain.ProcessCrashed)

	require.Eventually(t, func() bool {
		return pi.Flags().Has(domain.FlagExceptionWaitingAttach)
	}, time.Second, time.Millisecond)
	assert.True(t, pi.Flags().Has(domain.FlagExceptionOccurred))

	ev := tr.GetProcessEventInfo()
	assert.Equal(t, domain.EventException, ev.Kind)
}

func TestTrackerTerminatedWithoutSignalOnExitFreesImmediately(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer5_0_0)
	src := newFakeSource()
	pi := NewProcessInfo(3, src, 0)
	require.NoError(t, tr.Enqueue(ctx, pi))

	src.fire(domain.ProcessTerminated)

	require.Eventually(t, func() bool {
		return tr.LiveCount() == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, tr.ExitingCount())
	assert.True(t, src.closed)
}

func TestTrackerTerminatedWithSignalOnExitPost5FwMovesToExitingList(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer5_0_0)
	src := newFakeSource()
	pi := NewProcessInfo(4, src, domain.FlagSignalOnExit)
	require.NoError(t, tr.Enqueue(ctx, pi))

	src.fire(domain.ProcessTerminated)

	require.Eventually(t, func() bool {
		return tr.ExitingCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, tr.LiveCount())

	ev := tr.GetProcessEventInfo()
	assert.Equal(t, domain.EventExited, ev.Kind)
	assert.Equal(t, uint64(4), ev.ProcessID)
	assert.Equal(t, 0, tr.ExitingCount())
}

func TestTrackerTerminatedWithSignalOnExitPre5FwStaysLiveUntilDrained(t *testing.T) {
	tr, ctx := startTestTracker(t, 1_000_000) // below FwVer2_0_0, certainly below FwVer5_0_0
	src := newFakeSource()
	pi := NewProcessInfo(5, src, domain.FlagSignalOnExit)
	require.NoError(t, tr.Enqueue(ctx, pi))

	src.fire(domain.ProcessTerminated)

	require.Eventually(t, func() bool {
		return pi.State() == domain.ProcessTerminated
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, tr.LiveCount(), "pre-5.0.0 a SignalOnExit process is not unlinked until drained")

	ev := tr.GetProcessEventInfo()
	assert.Equal(t, domain.EventExited, ev.Kind)
	assert.Equal(t, 0, tr.LiveCount())
}
