package session

type Phase string

const (
	PhaseInitializing      Phase = "initializing"
	PhaseAwaitingChallenge Phase = "awaiting_challenge"
	PhaseReady             Phase = "ready"
	PhaseDisconnected      Phase = "disconnected"
	PhaseAuthFailed        Phase = "auth_failed"
)

type EventKind string

const (
	EventChallenge    EventKind = "challenge"
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
	EventAuthFailure  EventKind = "auth_failure"
)

// Transition maps a lifecycle event onto the next phase. It is pure; the
// controller applies the matching side effects (cache invalidation, scheduled
// rebuild) around it.
func Transition(current Phase, event EventKind) Phase {
	switch event {
	case EventChallenge:
		return PhaseAwaitingChallenge
	case EventReady:
		return PhaseReady
	case EventDisconnected:
		return PhaseDisconnected
	case EventAuthFailure:
		return PhaseAuthFailed
	default:
		return current
	}
}
