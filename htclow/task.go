package htclow

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hipc-systems/hipc-core/domain"
)

// Task is an outstanding asynchronous operation on a channel: a
// future-like handle of {id, event, trigger} whose completion is
// signaled by closing a channel rather than invoking a callback.
type Task struct {
	ID   uuid.UUID
	Kind domain.TaskKind

	mu      sync.Mutex
	done    chan struct{}
	trigger domain.Trigger
	err     error
	closed  bool

	// want is the number of bytes a TaskReceive is waiting to accumulate
	// before it completes with TriggerReceiveData; unused by other kinds.
	want int
}

// NewTask allocates a Task with a fresh id.
func NewTask(kind domain.TaskKind, want int) *Task {
	return &Task{
		ID:   uuid.New(),
		Kind: kind,
		done: make(chan struct{}),
		want: want,
	}
}

// Complete latches the task's trigger/err and signals Done(). Calling
// Complete more than once is a no-op past the first call.
func (t *Task) Complete(trigger domain.Trigger, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.trigger = trigger
	t.err = err
	t.closed = true
	close(t.done)
}

// Done returns a channel closed when the task completes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the task's trigger and error; only meaningful after
// Done() has fired.
func (t *Task) Result() (domain.Trigger, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trigger, t.err
}

// Wants reports the byte count a TaskReceive is waiting for.
func (t *Task) Wants() int { return t.want }
