package reconciliation

import (
	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/data/refund"
	"github.com/eventtix/psp-server/pkg/psp"
)

// Result classifies the outcome of mapping a PSP status onto a local record.
type Result uint8

const (
	// ResultTransition indicates a valid forward transition to the mapped
	// next state.
	ResultTransition Result = iota

	// ResultNoChange indicates the mapped target is equal to or behind the
	// current state. This is how duplicate and out-of-order notifications
	// resolve.
	ResultNoChange

	// ResultInvalidTransition indicates the notification cannot be applied
	// at all: unknown PSP status, amount mismatch, or a target the current
	// state can never reach. The record is left untouched.
	ResultInvalidTransition
)

func (r Result) String() string {
	switch r {
	case ResultTransition:
		return "transition"
	case ResultNoChange:
		return "no_change"
	case ResultInvalidTransition:
		return "invalid_transition"
	}
	return "unknown"
}

// paymentStateRank defines the total order used to decide whether a mapped
// target moves a payment forward:
//
//	Created < Pending < {Confirmed|Failed|Canceled} < PartiallyRefunded < Refunded
func paymentStateRank(state payment.State) int {
	switch state {
	case payment.StateCreated:
		return 0
	case payment.StatePending:
		return 1
	case payment.StateConfirmed, payment.StateFailed, payment.StateCanceled:
		return 2
	case payment.StatePartiallyRefunded:
		return 3
	case payment.StateRefunded:
		return 4
	}
	return -1
}

// targetPaymentState maps a PSP status onto the platform state it implies,
// independent of any current state.
func targetPaymentState(status psp.Status, isPartial bool) (payment.State, bool) {
	switch status {
	case psp.StatusCreated, psp.StatusProceed, psp.StatusPending, psp.StatusOnHold, psp.StatusIssueResolved:
		return payment.StatePending, true
	case psp.StatusAccepted, psp.StatusAuthorized, psp.StatusPaid, psp.StatusWaitingForShipment, psp.StatusSubscriptionApproved:
		return payment.StateConfirmed, true
	case psp.StatusDenied, psp.StatusIssue, psp.StatusSubscriptionDeclined:
		return payment.StateFailed, true
	case psp.StatusVoid:
		return payment.StateCanceled, true
	case psp.StatusRefund:
		if isPartial {
			return payment.StatePartiallyRefunded, true
		}
		return payment.StateRefunded, true
	}
	return payment.StateUnknown, false
}

// MapPaymentState is the pure state mapper for payments. Given the current
// local state and an observed PSP status, it yields the next state and a
// Result classifying the outcome. Deterministic: no clock, no randomness,
// so replaying a notification always resolves the same way.
//
// amountMatches must be false when a notification carries an amount that
// differs from the payment record's immutable amount. Such notifications
// never transition state.
func MapPaymentState(current payment.State, status psp.Status, amountMatches, isPartial bool) (payment.State, Result) {
	target, ok := targetPaymentState(status, isPartial)
	if !ok {
		return current, ResultInvalidTransition
	}

	if !amountMatches {
		return current, ResultInvalidTransition
	}

	currentRank := paymentStateRank(current)
	targetRank := paymentStateRank(target)

	if currentRank < 0 || targetRank < 0 {
		return current, ResultInvalidTransition
	}
	if targetRank <= currentRank {
		return current, ResultNoChange
	}

	// Only the confirmed states can move into the refund states
	if target == payment.StateRefunded || target == payment.StatePartiallyRefunded {
		switch current {
		case payment.StateConfirmed, payment.StatePartiallyRefunded:
		default:
			return current, ResultInvalidTransition
		}
	}

	return target, ResultTransition
}

// refundStateRank defines the refund-scoped total order:
//
//	Requested < Submitted < {Confirmed|Failed}
func refundStateRank(state refund.State) int {
	switch state {
	case refund.StateRequested:
		return 0
	case refund.StateSubmitted:
		return 1
	case refund.StateConfirmed, refund.StateFailed:
		return 2
	}
	return -1
}

func targetRefundState(status psp.Status) (refund.State, bool) {
	switch status {
	case psp.StatusCreated, psp.StatusProceed, psp.StatusPending:
		return refund.StateSubmitted, true
	case psp.StatusRefund, psp.StatusAccepted, psp.StatusPaid:
		return refund.StateConfirmed, true
	case psp.StatusDenied, psp.StatusIssue, psp.StatusVoid:
		return refund.StateFailed, true
	}
	return refund.StateUnknown, false
}

// MapRefundState is the refund-scoped counterpart of MapPaymentState,
// applied to notifications about compensating transactions.
func MapRefundState(current refund.State, status psp.Status, amountMatches bool) (refund.State, Result) {
	target, ok := targetRefundState(status)
	if !ok {
		return current, ResultInvalidTransition
	}

	if !amountMatches {
		return current, ResultInvalidTransition
	}

	currentRank := refundStateRank(current)
	targetRank := refundStateRank(target)

	if currentRank < 0 || targetRank < 0 {
		return current, ResultInvalidTransition
	}
	if targetRank <= currentRank {
		return current, ResultNoChange
	}

	return target, ResultTransition
}
