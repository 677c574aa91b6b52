package fetch

import "fmt"

// State is a step of the fetch state machine.
type State int

const (
	StateAttempting State = iota
	StateBackoff
	StateDecoding
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateDecoding:
		return "decoding"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

var transitions = map[State][]State{
	StateAttempting: {StateDecoding, StateBackoff, StateFailed},
	StateBackoff:    {StateAttempting, StateFailed}, // failed: canceled while waiting
	StateDecoding:   {StateSucceeded, StateFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the current state of one fetch.
type machine struct {
	state State
}

func (m *machine) to(next State) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("fetch: illegal transition %s -> %s", m.state, next))
	}
	m.state = next
}
