package status

import (
	"fmt"
	"slices"
)

// Status represents a message lifecycle state.
type Status string

const (
	Sending  Status = "sending"
	Sent     Status = "sent"
	Failed   Status = "failed"
	Recalled Status = "recalled"
)

// validTransitions defines allowed status transitions.
// Recalled is terminal.
var validTransitions = map[Status][]Status{
	Sending:  {Sent, Failed},
	Sent:     {Recalled},
	Failed:   {Sending},
	Recalled: {},
}

// TransitionError is returned when a status change is not in the transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// Parse converts a wire value into a Status.
func Parse(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown message status %q", v)
	}
	return s, nil
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Transition validates from -> to and returns the new state.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// All returns every known status in lifecycle order.
func All() []Status {
	return []Status{Sending, Sent, Failed, Recalled}
}
