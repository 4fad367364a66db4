package ledger

import (
	"fmt"
)

// State is the workflow state of a transaction.
// The zero value is not a valid state; transactions start in StateDraft.
type State uint8

const (
	StateDraft State = iota + 1
	StatePendingApproval
	StateApproved
	StatePosted
	StateVoid
	StateRejected
)

var stateNames = map[State]string{
	StateDraft:           "draft",
	StatePendingApproval: "pending_approval",
	StateApproved:        "approved",
	StatePosted:          "posted",
	StateVoid:            "void",
	StateRejected:        "rejected",
}

// transitions lists every edge of the workflow graph.
// Guards that depend on the transaction (approval policy, validation) are applied by the Ledger.
var transitions = map[State][]State{
	StateDraft:           {StatePendingApproval, StatePosted},
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StatePosted, StateRejected},
	StatePosted:          {StateVoid},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateVoid || s == StateRejected
}

// Deletable reports whether a transaction in s may be removed outright.
// Neither state has ever applied a balance effect.
func (s State) Deletable() bool {
	return s == StateDraft || s == StateRejected
}

// CanTransition reports whether the workflow graph has an edge from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseState returns the state named s.
func ParseState(s string) (State, error) {
	for state, name := range stateNames {
		if name == s {
			return state, nil
		}
	}
	return 0, invalid("state", fmt.Errorf("unknown state %q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("ledger: cannot encode %s", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// States returns every declared state in workflow order.
func States() []State {
	return []State{StateDraft, StatePendingApproval, StateApproved, StatePosted, StateVoid, StateRejected}
}
