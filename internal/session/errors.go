package session

import (
	"errors"
	"fmt"
)

var (
	// ErrDirectoryCreation means the storage directory could not be created
	ErrDirectoryCreation = errors.New("failed to create storage directory")
	// ErrRecorderStart means the recorder refused or timed out starting capture
	ErrRecorderStart = errors.New("failed to start recorder")
	// ErrRecorderRuntime wraps an error reported by the recorder mid-capture
	ErrRecorderRuntime = errors.New("recorder failed")
	// ErrRenameConflict means the move to the final name was refused
	ErrRenameConflict = errors.New("failed to rename recording")
	// ErrNoActiveSession means there is no stopped recording to rename
	ErrNoActiveSession = errors.New("no current recording to rename")
	// ErrInvalidState means the operation is not legal in the current state
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrClosed is returned after the controller has been closed
	ErrClosed = errors.New("session controller closed")
)

func invalidState(op string, state State) error {
	return fmt.Errorf("cannot %s while %s: %w", op, state, ErrInvalidState)
}
