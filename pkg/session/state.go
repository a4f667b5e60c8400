package session

import (
	"voice-agent-server/pkg/errors"
)

// State is the lifecycle state of one call session.
type State int32

const (
	// StateConnecting is the window between transport accept and the
	// media stream start event
	StateConnecting State = iota

	// StateStreaming is the active conversation
	StateStreaming

	// StateEnding means teardown has begun; no new frames are accepted
	StateEnding

	// StateEnded is terminal
	StateEnded

	// StateError marks an abnormal failure on the way to Ended
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// validTransitions is the total order of the lifecycle. Error is
// reachable from any live state; Ended is terminal.
var validTransitions = map[State][]State{
	StateConnecting: {StateStreaming, StateEnding, StateError},
	StateStreaming:  {StateEnding, StateError},
	StateEnding:     {StateEnded, StateError},
	StateError:      {StateEnded},
	StateEnded:      {},
}

func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(callID string, from, to State) error {
	return errors.NewInvalidInput("invalid state transition").
		WithFields(map[string]interface{}{
			"call_id": callID,
			"from":    from.String(),
			"to":      to.String(),
		}).
		WithCode("INVALID_STATE_TRANSITION")
}
