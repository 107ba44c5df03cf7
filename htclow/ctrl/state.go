// Package ctrl implements the HTC control-service state machine and the
// always-present control conversation: handshake, sleep/resume, disconnect.
package ctrl

import (
	"sync"

	"github.com/hipc-systems/hipc-core/domain"
)

// transitions is the fixed partial function defining the control state
// machine. A transition attempt outside this table fails with
// StateTransitionNotAllowed.
var transitions = map[domain.ControlState]map[domain.ControlState]bool{
	domain.StateDriverDisconnected: {
		domain.StateDriverConnected: true,
	},
	domain.StateDriverConnected: {
		domain.StateSentConnectFromHost: true,
		domain.StateDisconnected:        true,
		domain.StateDriverDisconnected:  true,
		domain.StateError:               true,
	},
	domain.StateSentConnectFromHost: {
		domain.StateConnected:          true,
		domain.StateDisconnected:       true,
		domain.StateDriverDisconnected: true,
		domain.StateError:              true,
	},
	domain.StateConnected: {
		domain.StateSentReadyFromHost:  true,
		domain.StateDisconnected:       true,
		domain.StateDriverDisconnected: true,
		domain.StateError:              true,
	},
	domain.StateSentReadyFromHost: {
		domain.StateReady:              true,
		domain.StateDisconnected:       true,
		domain.StateDriverDisconnected: true,
		domain.StateError:              true,
	},
	domain.StateReady: {
		domain.StateSentSuspendFromTarget: true,
		domain.StateDisconnected:          true,
		domain.StateDriverDisconnected:    true,
		domain.StateError:                 true,
	},
	domain.StateSentSuspendFromTarget: {
		domain.StateEnterSleep:         true,
		domain.StateDisconnected:       true,
		domain.StateDriverDisconnected: true,
		domain.StateError:              true,
	},
	domain.StateEnterSleep: {
		domain.StateSleep:              true,
		domain.StateDisconnected:       true,
		domain.StateDriverDisconnected: true,
		domain.StateError:              true,
	},
	domain.StateSleep: {
		domain.StateExitSleep: true,
	},
	domain.StateExitSleep: {
		domain.StateSentResumeFromTarget: true,
		domain.StateDisconnected:         true,
		domain.StateDriverDisconnected:   true,
		domain.StateError:                true,
	},
	domain.StateSentResumeFromTarget: {
		domain.StateReady:              true,
		domain.StateDisconnected:       true,
		domain.StateDriverDisconnected: true,
		domain.StateError:              true,
	},
	domain.StateDisconnected: {
		domain.StateSentConnectFromHost: true,
		domain.StateDisconnected:        true,
		domain.StateDriverDisconnected:  true,
		domain.StateError:               true,
	},
	domain.StateError: {
		domain.StateDisconnected:       true,
		domain.StateDriverDisconnected: true,
		domain.StateError:              true,
	},
}

// StateMachine is a mutex-protected ControlState holder implementing the
// transition table and per-state predicates below.
type StateMachine struct {
	mu    sync.RWMutex
	state domain.ControlState
}

// NewStateMachine starts in DriverDisconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: domain.StateDriverDisconnected}
}

func (m *StateMachine) Current() domain.ControlState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition attempts to move to next, failing with
// StateTransitionNotAllowed if the table has no entry for (current, next).
func (m *StateMachine) Transition(next domain.ControlState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed, ok := transitions[m.state]
	if !ok || !allowed[next] {
		return domain.NewError(domain.KindStateTransitionNotAllowed, "cannot transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}

func (m *StateMachine) IsDisconnected() bool {
	s := m.Current()
	return s == domain.StateDisconnected || s == domain.StateDriverDisconnected
}

func (m *StateMachine) IsConnecting() bool {
	s := m.Current()
	return s == domain.StateDriverConnected || s == domain.StateSentConnectFromHost
}

// IsConnected matches anything from Connected through SentResumeFromTarget.
func (m *StateMachine) IsConnected() bool {
	switch m.Current() {
	case domain.StateConnected, domain.StateSentReadyFromHost, domain.StateReady,
		domain.StateSentSuspendFromTarget, domain.StateEnterSleep, domain.StateSleep,
		domain.StateExitSleep, domain.StateSentResumeFromTarget:
		return true
	}
	return false
}

// IsReadied matches Ready and its sleep-related descendants.
func (m *StateMachine) IsReadied() bool {
	switch m.Current() {
	case domain.StateReady, domain.StateSentSuspendFromTarget, domain.StateEnterSleep,
		domain.StateSleep, domain.StateExitSleep, domain.StateSentResumeFromTarget:
		return true
	}
	return false
}

// IsSleeping matches SentSuspendFromTarget through SentResumeFromTarget.
func (m *StateMachine) IsSleeping() bool {
	switch m.Current() {
	case domain.StateSentSuspendFromTarget, domain.StateEnterSleep, domain.StateSleep, domain.StateExitSleep, domain.StateSentResumeFromTarget:
		return true
	}
	return false
}
