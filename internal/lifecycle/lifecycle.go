// Package lifecycle validates trade status transitions. It is pure: no I/O,
// no clock, no storage. Stores call Validate before applying any status
// mutation so an illegal edge can never reach a record.
package lifecycle

import (
	"fmt"

	"solana-mirror-engine/internal/domain"
)

// transitions is the complete edge set. Any pair not listed here, including
// self-transitions and anything out of Closed/DeadLetter, is illegal.
var transitions = map[domain.TradeStatus][]domain.TradeStatus{
	domain.StatusPending:    {domain.StatusQueued, domain.StatusDeadLetter},
	domain.StatusQueued:     {domain.StatusExecuting, domain.StatusDeadLetter},
	domain.StatusExecuting:  {domain.StatusActive, domain.StatusFailed, domain.StatusDeadLetter},
	domain.StatusActive:     {domain.StatusExiting},
	domain.StatusExiting:    {domain.StatusClosed, domain.StatusActive},
	domain.StatusFailed:     {domain.StatusRetry},
	domain.StatusRetry:      {domain.StatusExecuting, domain.StatusDeadLetter},
	domain.StatusClosed:     nil,
	domain.StatusDeadLetter: nil,
}

// TransitionError identifies the rejected status pair.
type TransitionError struct {
	From domain.TradeStatus
	To   domain.TradeStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid trade transition: %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to domain.TradeStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns a *TransitionError naming the pair when from -> to is not
// a legal edge, nil otherwise. Illegal edges are never coerced.
func Validate(from, to domain.TradeStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
