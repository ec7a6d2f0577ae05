package acquisition

import (
	"fmt"

	"github.com/xtxerr/digirec/internal/errors"
)

// =============================================================================
// State Machine
// =============================================================================

// State represents the worker's instrument state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateArmed
	StateExited
)

// String returns a human-readable representation of the State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateArmed:
		return "ARMED"
	case StateExited:
		return "EXITED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type transition struct {
	from State
	kind Kind
}

// validTransitions maps an accepted command to the state it leads to on
// success. A failed CONNECT always leaves StateDisconnected.
var validTransitions = map[transition]State{
	// CONNECT from any non-exited state
	{StateDisconnected, KindConnect}: StateConnected,
	{StateConnected, KindConnect}:    StateConnected,
	{StateArmed, KindConnect}:        StateConnected,

	{StateConnected, KindStart}: StateArmed,
	{StateArmed, KindStop}:      StateConnected,

	// EXIT from any state
	{StateDisconnected, KindExit}: StateExited,
	{StateConnected, KindExit}:    StateExited,
	{StateArmed, KindExit}:        StateExited,
	{StateExited, KindExit}:       StateExited,
}

// Transition returns the state cmd leads to from s, or ErrInvalidTransition.
func Transition(s State, kind Kind) (State, error) {
	next, ok := validTransitions[transition{from: s, kind: kind}]
	if !ok {
		return s, fmt.Errorf("%w: %s in state %s", errors.ErrInvalidTransition, kind, s)
	}
	return next, nil
}
