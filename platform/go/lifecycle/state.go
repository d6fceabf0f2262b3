// Package lifecycle holds the state machine shared by tenants, channels,
// connectors, queues and users.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle of a soft-deletable record.
type State string

const (
	Active   State = "ACTIVE"
	Disabled State = "DISABLED"
	Deleted  State = "DELETED"
)

var (
	ErrUnknownState      = errors.New("unknown lifecycle state")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Parse accepts the state name in any case.
func Parse(raw string) (State, error) {
	switch s := State(strings.ToUpper(strings.TrimSpace(raw))); s {
	case Active, Disabled, Deleted:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownState, raw)
	}
}

func (s State) String() string { return string(s) }

// IsActive reports whether the record can take part in message flows.
func (s State) IsActive() bool { return s == Active }

// Transition validates a move from s to next. Deleted is terminal.
func (s State) Transition(next State) (State, error) {
	if _, err := Parse(string(next)); err != nil {
		return s, err
	}
	if s == Deleted && next != Deleted {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}
