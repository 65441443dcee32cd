package domain

import "time"

const (
	StateStringUninitialized = "uninitialized"
	StateStringInitializing  = "initializing"
	StateStringReady         = "ready"
	StateStringDegraded      = "degraded"
	StateStringFailed        = "failed"
)

type ReadinessState string

const (
	StateUninitialized ReadinessState = StateStringUninitialized
	StateInitializing  ReadinessState = StateStringInitializing
	StateReady         ReadinessState = StateStringReady
	StateDegraded      ReadinessState = StateStringDegraded
	StateFailed        ReadinessState = StateStringFailed
)

func (s ReadinessState) String() string {
	return string(s)
}

// IsTerminal is true once initialisation has produced an outcome
func (s ReadinessState) IsTerminal() bool {
	switch s {
	case StateReady, StateDegraded, StateFailed:
		return true
	default:
		return false
	}
}

// IsUsable reports whether requests may be issued in this state.
// Degraded is usable unless the caller is strict about it.
func (s ReadinessState) IsUsable(allowDegraded bool) bool {
	switch s {
	case StateReady:
		return true
	case StateDegraded:
		return allowDegraded
	default:
		return false
	}
}

// CanTransitionTo encodes the allowed transition table. Any state may move
// to Failed; Ready and Degraded otherwise stay put.
func (s ReadinessState) CanTransitionTo(next ReadinessState) bool {
	if next == StateFailed {
		return true
	}
	switch s {
	case StateUninitialized:
		return next == StateInitializing
	case StateInitializing:
		return next == StateReady || next == StateDegraded
	default:
		return false
	}
}

// ReadinessChange is published once per distinct transition
type ReadinessChange struct {
	At     time.Time
	From   ReadinessState
	To     ReadinessState
	Reason string
}
