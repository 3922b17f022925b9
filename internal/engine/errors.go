package engine

import (
	"errors"
	"fmt"
	"strings"

	"transcriptdesk/internal/domain"
)

var (
	// ErrAlreadyAssigned is the routine losing outcome of a self-claim race.
	ErrAlreadyAssigned = errors.New("already assigned")
	// ErrConcurrentLockConflict means another batch took a member first; nothing was locked.
	ErrConcurrentLockConflict = errors.New("concurrent lock conflict")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrNothingToLock          = errors.New("nothing to lock")
	// ErrUnknownIntent may be transient: the provider can call back before the intent is visible.
	ErrUnknownIntent   = errors.New("unknown payment intent")
	ErrItemLocked      = errors.New("item locked for payment")
	ErrInactiveActor   = errors.New("actor inactive")
	ErrNotOwner        = errors.New("not the item owner")
	ErrNotWithdrawable = errors.New("item was assigned or batched and cannot be withdrawn")
	ErrInvalidInput    = errors.New("invalid input")
)

// InvalidTransitionError names the state and event that did not match the table.
type InvalidTransitionError struct {
	ItemID string
	From   domain.Status
	Event  Event
}

func (e *InvalidTransitionError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("invalid transition: %s from %s", e.Event, e.From)
	}
	return fmt.Sprintf("invalid transition: %s from %s (item %s)", e.Event, e.From, e.ItemID)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// LockConflictError lists the filtered members a concurrent batch locked first.
type LockConflictError struct {
	ItemIDs []string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("concurrent lock conflict on %s", strings.Join(e.ItemIDs, ","))
}

func (e *LockConflictError) Is(target error) bool {
	return target == ErrConcurrentLockConflict
}

// IsContention reports outcomes caused by concurrent access rather than bad
// input. Callers refresh state instead of retrying with the same precondition.
func IsContention(err error) bool {
	return errors.Is(err, ErrAlreadyAssigned) || errors.Is(err, ErrConcurrentLockConflict)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
