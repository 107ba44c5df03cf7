package pm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

func fakeCreate(pid uint64, src StateSource) CreateProcessFunc {
	return func(context.Context) (uint64, StateSource, error) {
		return pid, src, nil
	}
}

func failingCreate(err error) CreateProcessFunc {
	return func(context.Context) (uint64, StateSource, error) {
		return 0, nil, err
	}
}

func TestLaunchProgramReservesBoostAndEnqueues(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer5_0_0)
	pool, err := NewResourcePool(100, 0, 100)
	require.NoError(t, err)

	src := newFakeSource()
	pi, err := LaunchProgram(ctx, tr, pool, fakeCreate(7, src), LaunchRequest{SystemBoost: 20, MitmBoost: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), pi.ProcessID)

	require.Eventually(t, func() bool { return tr.LiveCount() == 1 }, time.Second, time.Millisecond)

	_, system, application := pool.Snapshot()
	assert.Equal(t, uint64(25), system)
	assert.Equal(t, uint64(75), application)
}

func TestLaunchProgramUnwindsBoostOnCreateFailure(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer5_0_0)
	pool, err := NewResourcePool(100, 0, 100)
	require.NoError(t, err)

	wantErr := domain.NewError(domain.KindProcessCreationFailed, "boom")
	_, err = LaunchProgram(ctx, tr, pool, failingCreate(wantErr), LaunchRequest{SystemBoost: 20})
	require.Error(t, err)

	_, system, application := pool.Snapshot()
	assert.Equal(t, uint64(0), system, "the boost must be unwound after a failed create")
	assert.Equal(t, uint64(100), application)
}

func TestLaunchProgramWaitsForAvailableWhenApplicationPoolIsShort(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer5_0_0)
	pool, err := NewResourcePool(100, 90, 10)
	require.NoError(t, err)

	done := make(chan struct{})
	var launched *ProcessInfo
	go func() {
		src := newFakeSource()
		pi, launchErr := LaunchProgram(ctx, tr, pool, fakeCreate(9, src), LaunchRequest{SystemBoost: 50})
		require.NoError(t, launchErr)
		launched = pi
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("LaunchProgram returned before the application pool had room")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, pool.Unwind(60))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LaunchProgram never woke up after Unwind freed room")
	}
	assert.Equal(t, uint64(9), launched.ProcessID)
}

func TestLaunchProgramUnwindsBoostWhenProcessTerminates(t *testing.T) {
	tr, ctx := startTestTracker(t, domain.FwVer5_0_0)
	pool, err := NewResourcePool(100, 0, 100)
	require.NoError(t, err)

	src := newFakeSource()
	_, err = LaunchProgram(ctx, tr, pool, fakeCreate(11, src), LaunchRequest{SystemBoost: 30})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.LiveCount() == 1 }, time.Second, time.Millisecond)

	src.fire(domain.ProcessTerminated)

	require.Eventually(t, func() bool {
		_, system, _ := pool.Snapshot()
		return system == 0
	}, time.Second, time.Millisecond, "the launch boost must be unwound once the process is observed terminated")
}
