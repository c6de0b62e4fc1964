package store

import (
	"errors"
	"fmt"

	"github.com/zurk-ai/zurk/pkg/types"
)

// Sentinel errors for missing records. Callers match with errors.Is.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrSessionNotFound = errors.New("session not found")
)

// StateError reports an illegal session status transition.
type StateError struct {
	SessionID string
	Current   types.SessionStatus
	Target    types.SessionStatus
	Reason    string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid state transition for session %s: %s", e.SessionID, e.Reason)
	}
	return fmt.Sprintf("invalid state transition for session %s: %s -> %s (valid transitions from %s: %v)",
		e.SessionID, e.Current, e.Target, e.Current, types.ValidTransitions[e.Current])
}

// IsStateError reports whether err is a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
