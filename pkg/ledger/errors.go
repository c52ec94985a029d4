package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Store when no ledger exists yet.
	ErrNotFound = errors.New("ledger not found")

	// ErrCorrupt is returned by a Store when the durable ledger cannot be parsed.
	ErrCorrupt = errors.New("ledger corrupt")

	// ErrLengthMismatch is returned when a ledger does not have one slot per work item.
	ErrLengthMismatch = errors.New("ledger length mismatch")

	// ErrIndexOutOfRange is returned by Merge for an index outside the ledger.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// LengthMismatchError reports a ledger whose length differs from the input.
type LengthMismatchError struct {
	Location string
	Got      int
	Want     int
}

// Error implements the error interface.
func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("ledger %s has %d entries, input has %d", e.Location, e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrLengthMismatch.
func (e *LengthMismatchError) Unwrap() error {
	return ErrLengthMismatch
}
