package engine

import (
	"fmt"

	"transcriptdesk/internal/domain"
)

// Event drives the payment lifecycle of a work item.
type Event string

const (
	EventLock             Event = "lock-for-payment"
	EventUnlock           Event = "unlock"
	EventPaymentConfirmed Event = "payment-confirmed"
	EventMarkDelivered    Event = "mark-delivered"
	EventReject           Event = "reject"

	// Gated operations: allowed only in some states, status unchanged.
	EventClaim    Event = "claim"
	EventAddUnits Event = "add-units"
	EventWithdraw Event = "withdraw"
)

type transition struct {
	From domain.Status
	To   domain.Status
}

// Each event has exactly one source state. locked -> pending is the only
// backward edge.
var transitions = map[Event]transition{
	EventLock:             {From: domain.StatusPending, To: domain.StatusLocked},
	EventUnlock:           {From: domain.StatusLocked, To: domain.StatusPending},
	EventPaymentConfirmed: {From: domain.StatusLocked, To: domain.StatusPaid},
	EventMarkDelivered:    {From: domain.StatusPaid, To: domain.StatusCompleted},
	EventReject:           {From: domain.StatusPending, To: domain.StatusRejected},
}

var gates = map[Event][]domain.Status{
	EventClaim:    {domain.StatusPending, domain.StatusPaid},
	EventAddUnits: {domain.StatusPending},
	EventWithdraw: {domain.StatusPending},
}

// Transition returns the state ev leads to from, or an InvalidTransitionError.
func Transition(from domain.Status, ev Event) (domain.Status, error) {
	tr, ok := transitions[ev]
	if !ok || tr.From != from {
		return "", &InvalidTransitionError{From: from, Event: ev}
	}
	return tr.To, nil
}

// source returns the single state ev may start from.
func source(ev Event) domain.Status {
	tr, ok := transitions[ev]
	if !ok {
		panic(fmt.Sprintf("no transition for event %s", ev))
	}
	return tr.From
}

// openStates lists the states in which a gated operation may run.
func openStates(ev Event) []domain.Status {
	return gates[ev]
}

// Permits reports whether a gated operation may run in status.
func Permits(status domain.Status, ev Event) bool {
	for _, s := range gates[ev] {
		if s == status {
			return true
		}
	}
	return false
}

// gateError explains why a gated operation could not run on it. Items bound
// to an open payment batch get ErrItemLocked.
func gateError(it domain.WorkItem, ev Event) error {
	if it.Status == domain.StatusLocked {
		return fmt.Errorf("%w: item %s is in payment batch", ErrItemLocked, it.ID)
	}
	return &InvalidTransitionError{ItemID: it.ID, From: it.Status, Event: ev}
}
