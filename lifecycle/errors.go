package lifecycle

import (
	"errors"
	"fmt"

	"firecore/protocol"
)

var (
	ErrInvalidTransition      = errors.New("lifecycle: invalid transition")
	ErrConcurrentModification = errors.New("lifecycle: concurrent modification")
	ErrRetryExhausted         = errors.New("lifecycle: retry exhausted")
	ErrUnknownKind            = errors.New("lifecycle: unknown entity kind")
)

// InvalidTransitionError carries the rejected move. It matches
// ErrInvalidTransition with errors.Is.
type InvalidTransitionError struct {
	Kind   protocol.EntityKind
	ID     int64
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("lifecycle: invalid %s transition %s -> %s (id %d): %s", e.Kind, e.From, e.To, e.ID, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
