// internal/messaging/errors.go

package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks a store or transport failure worth trying again later
	ErrTransient = errors.New("transient network error")
	// ErrPermanent marks a failure that will not succeed on retry
	ErrPermanent = errors.New("permanent store error")
	// ErrClosed is returned for operations on a torn-down conversation
	ErrClosed = errors.New("conversation closed")
	// ErrNotParticipant is returned for records outside the open pair
	ErrNotParticipant = errors.New("not a participant in this conversation")

	errNoStorage = errors.New("no storage service configured")
	errBadRecord = errors.New("store returned a record without a permanent id")
	errDiscarded = errors.New("provisional message discarded")
)

// Transient wraps err as a transient failure
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// Permanent wraps err as a permanent failure
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPermanent, err)
}

// ValidationError rejects an operation before any state changes
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return "validation failed: " + e.Field + " is invalid"
	}
	return "validation failed: " + e.Reason
}

// SendError is the recoverable "failed to send" signal. The provisional
// entry identified by TempID has already been removed when it is returned.
type SendError struct {
	TempID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send %s: %v", e.TempID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Direction names one side of the conversation for bulk deletes
type Direction struct {
	SenderID   string
	ReceiverID string
}

func (d Direction) String() string {
	return d.SenderID + "->" + d.ReceiverID
}

// PartialFailureError reports a clear where only one direction was deleted.
// Local state is left untouched when it is returned.
type PartialFailureError struct {
	Deleted Direction
	Failed  Direction
	Err     error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("clear conversation partially failed: deleted %s, failed %s: %v", e.Deleted, e.Failed, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries ErrTransient
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
