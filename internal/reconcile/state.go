package reconcile

import "fmt"

type State int

const (
	StateUninitialized State = iota
	StateResolving
	StateBound
	StateTerminal
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResolving:
		return "resolving"
	case StateBound:
		return "bound"
	case StateTerminal:
		return "terminal"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitionMap = map[State][]State{
	StateUninitialized: {StateResolving},
	StateResolving:     {StateBound, StateTerminal, StateFailed},
	StateBound:         {StateResolving, StateTerminal, StateUninitialized},
	StateTerminal:      {StateResolving, StateUninitialized},
	StateFailed:        {StateResolving, StateUninitialized},
}

func ValidTransition(from, to State) bool {
	for _, allowed := range transitionMap[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
