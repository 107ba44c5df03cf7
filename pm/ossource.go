package pm

import (
	"context"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/hipc-systems/hipc-core/domain"
)

// NewOSCreateProcessFunc returns a CreateProcessFunc that starts path
// (with args) as a child process and watches it through an
// OSProcessSource, standing in for the SVC that would create a process
// from an already-loaded NSO/NRO in the real kernel.
func NewOSCreateProcessFunc(path string, args ...string) CreateProcessFunc {
	return func(ctx context.Context) (uint64, StateSource, error) {
		cmd := exec.CommandContext(ctx, path, args...)
		if err := cmd.Start(); err != nil {
			return 0, nil, domain.NewError(domain.KindProcessCreationFailed, "pm: starting %s: %v", path, err)
		}
		return uint64(cmd.Process.Pid), NewOSProcessSource(cmd.Process.Pid, domain.ProcessRunning), nil
	}
}

// OSProcessSource is the StateSource backing an actual child process: a
// goroutine blocks in wait4 on the pid and translates each reported
// wait-status change into a single Signal fire, leaving Query to decode
// that status into a ProcessState. This is the concrete counterpart
// tests substitute a fake for.
type OSProcessSource struct {
	pid int

	mu       sync.Mutex
	state    domain.ProcessState
	err      error
	sig      chan struct{}
	closed   bool
	closeCh  chan struct{}
	closeErr error
}

// NewOSProcessSource starts watching pid via wait4; state seeds the
// initial observed state (ProcessRunning for a just-started child).
func NewOSProcessSource(pid int, initial domain.ProcessState) *OSProcessSource {
	s := &OSProcessSource{
		pid:     pid,
		state:   initial,
		sig:     make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	go s.wait()
	return s
}

func (s *OSProcessSource) wait() {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(s.pid, &ws, 0, nil)
		s.mu.Lock()
		if err != nil {
			s.err = err
			s.state = domain.ProcessTerminated
		} else {
			s.state = decodeWaitStatus(ws)
		}
		done := s.state == domain.ProcessTerminated
		s.mu.Unlock()

		select {
		case s.sig <- struct{}{}:
		default:
		}
		if done {
			return
		}
	}
}

func decodeWaitStatus(ws unix.WaitStatus) domain.ProcessState {
	switch {
	case ws.Exited() || ws.Signaled():
		return domain.ProcessTerminated
	case ws.Stopped():
		return domain.ProcessDebugBreak
	default:
		return domain.ProcessRunning
	}
}

func (s *OSProcessSource) Signal() <-chan struct{} { return s.sig }

func (s *OSProcessSource) Query() (domain.ProcessState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Close sends SIGKILL to the still-running process; it is a no-op once
// the process has already been observed as Terminated.
func (s *OSProcessSource) Close() error {
	s.mu.Lock()
	terminated := s.state == domain.ProcessTerminated
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if terminated || closed {
		return nil
	}
	return unix.Kill(s.pid, unix.SIGKILL)
}
