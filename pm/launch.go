package pm

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hipc-systems/hipc-core/domain"
)

// LaunchRequest carries the per-launch parameters LaunchProgram needs:
// the memory boost to reserve before creating the process, and the
// signal flags the tracked ProcessInfo should start with.
type LaunchRequest struct {
	SystemBoost uint64
	MitmBoost   uint64
	Flags       domain.ProcessFlags
}

// CreateProcessFunc actually creates the OS process once a launch's
// memory boost has been reserved. It returns the new process's kernel
// id and the StateSource the tracker watches it through. Taking this as
// a collaborator instead of calling an SVC directly keeps LaunchProgram
// testable with a fake.
type CreateProcessFunc func(ctx context.Context) (pid uint64, source StateSource, err error)

// LaunchProgram runs the boost/wait/create/enqueue sequence a process
// launch goes through: reserve req's memory boost against pool, waiting
// on pool.Available and retrying if the application pool can't absorb
// it yet; create the process via create; hand the result to tracker.
// Any failure after the boost is reserved unwinds it before returning,
// and any failure after the process is created closes its StateSource
// too, so a failed launch never leaks memory or a dangling process.
func LaunchProgram(ctx context.Context, tracker *Tracker, pool *ResourcePool, create CreateProcessFunc, req LaunchRequest) (*ProcessInfo, error) {
	boost, err := reserveBoostWaiting(ctx, pool, req.SystemBoost, req.MitmBoost)
	if err != nil {
		return nil, err
	}

	pid, source, err := create(ctx)
	if err != nil {
		if unwindErr := boost.UnwindAll(); unwindErr != nil {
			logrus.WithError(unwindErr).Warn("pm: unwinding launch boost after failed create failed")
		}
		return nil, err
	}

	pi := NewProcessInfo(pid, source, req.Flags)
	pi.launchBoost = boost

	if err := tracker.Enqueue(ctx, pi); err != nil {
		_ = source.Close()
		if unwindErr := boost.UnwindAll(); unwindErr != nil {
			logrus.WithError(unwindErr).Warn("pm: unwinding launch boost after failed enqueue failed")
		}
		return nil, err
	}

	return pi, nil
}

// reserveBoostWaiting retries NewLaunchBoost until it succeeds for a
// reason other than KindOutOfMemory, blocking on pool.Available between
// attempts — the Go stand-in for waiting on the kernel's per-resource-
// limit "resource available" signal before retrying a launch.
func reserveBoostWaiting(ctx context.Context, pool *ResourcePool, systemAmt, mitmAmt uint64) (*LaunchBoost, error) {
	for {
		boost, err := NewLaunchBoost(pool, systemAmt, mitmAmt)
		if err == nil {
			return boost, nil
		}
		if kind, _ := domain.ErrorKind(err); kind != domain.KindOutOfMemory {
			return nil, err
		}
		select {
		case <-pool.Available():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
