package service

import (
	"fmt"
	"slices"
	"strings"

	"github.com/c360/semconnect/errors"
)

// State is the lifecycle state of a service. The zero value is no state and
// is never a valid transition source or target.
type State int

// Service states
const (
	StateUnknown State = iota + 1
	StateAvailable
	StateDeploying
	StateCreated
	StateStarting
	StateRunning
	StateReconfiguring
	StateFailed
	StateRecovering
	StateRecovered
	StatePassivating
	StatePassivated
	StateMigrating
	StateActivating
	StateStopping
	StateStopped
	StateUndeploying
)

var stateNames = map[State]string{
	StateUnknown:       "UNKNOWN",
	StateAvailable:     "AVAILABLE",
	StateDeploying:     "DEPLOYING",
	StateCreated:       "CREATED",
	StateStarting:      "STARTING",
	StateRunning:       "RUNNING",
	StateReconfiguring: "RECONFIGURING",
	StateFailed:        "FAILED",
	StateRecovering:    "RECOVERING",
	StateRecovered:     "RECOVERED",
	StatePassivating:   "PASSIVATING",
	StatePassivated:    "PASSIVATED",
	StateMigrating:     "MIGRATING",
	StateActivating:    "ACTIVATING",
	StateStopping:      "STOPPING",
	StateStopped:       "STOPPED",
	StateUndeploying:   "UNDEPLOYING",
}

// transitions lists the allowed targets per source state.
var transitions = map[State][]State{
	StateUnknown:       {StateAvailable},
	StateAvailable:     {StateDeploying, StateUndeploying},
	StateDeploying:     {StateCreated, StateFailed},
	StateCreated:       {StateStarting, StateUndeploying},
	StateStarting:      {StateRunning, StateFailed},
	StateRunning:       {StateFailed, StateReconfiguring, StatePassivating, StateStopping},
	StateReconfiguring: {StateRunning, StateFailed},
	StateFailed:        {StateRecovering, StateStopping},
	StateRecovering:    {StateRecovered, StateFailed},
	StateRecovered:     {StateRunning},
	StatePassivating:   {StatePassivated, StateFailed},
	StatePassivated:    {StateMigrating, StateActivating},
	StateMigrating:     {StateActivating, StateFailed},
	StateActivating:    {StateRunning, StateFailed},
	StateStopping:      {StateStopped, StateFailed},
	StateStopped:       {StateAvailable, StateStarting, StateUndeploying},
	StateUndeploying:   nil,
}

// States returns all states in declaration order.
func States() []State {
	all := make([]State, 0, len(stateNames))
	for s := StateUnknown; s <= StateUndeploying; s++ {
		all = append(all, s)
	}
	return all
}

// String returns the upper case state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState parses a state name, ignoring case.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range stateNames {
		if n == upper {
			return s, nil
		}
	}
	return 0, errors.WrapInvalid(fmt.Errorf("%w: state %q", errors.ErrInvalidData, name), "service", "ParseState", "state lookup")
}

// Targets returns the states reachable from s in one transition.
func (s State) Targets() []State {
	return slices.Clone(transitions[s])
}

// CanTransition reports whether from → to is an allowed transition.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// ValidateTransition returns ErrInvalidTransition unless from → to is
// allowed.
func ValidateTransition(from, to State) error {
	if !from.Valid() || !to.Valid() || !CanTransition(from, to) {
		return errors.WrapInvalid(fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, from, to),
			"service", "ValidateTransition", "transition check")
	}
	return nil
}
