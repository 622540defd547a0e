package payment

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"github.com/eventtix/psp-server/pkg/currency"
	"github.com/eventtix/psp-server/pkg/pointer"
)

type State uint8

const (
	StateUnknown           State = iota
	StateCreated                 // Local record exists, remote transaction may not
	StatePending                 // Remote transaction created, awaiting payment
	StateConfirmed               // PSP captured the funds
	StateFailed                  // PSP denied the payment
	StateCanceled                // Aborted before capture
	StatePartiallyRefunded       // Confirmed, with some funds returned
	StateRefunded                // Confirmed, with all funds returned
)

// IsTerminal reports whether no further transition is possible, other than
// the explicitly modelled refund flows out of the confirmed states.
func (s State) IsTerminal() bool {
	switch s {
	case StateFailed, StateCanceled, StateRefunded:
		return true
	}
	return false
}

// The structure for one attempt to pay for an order. A payment record is
// never deleted; a new attempt for the same order gets a new record.
//
// State transitions are owned exclusively by the reconciliation engine and
// guarded by the Version counter, which every Update compares and bumps.
type Record struct {
	Id uint64 // The internal database id for this payment

	PaymentId        string  // Public opaque id for this payment attempt
	OrderId          string  // Reference into the external order store
	PspTransactionId *string // Immutable once set

	Amount   uint64 // In the currency's minor units, immutable
	Currency currency.Code
	Method   string

	State State

	// Last known PSP response payload, overwritten on each reconciliation
	// as an audit trail.
	ProviderPayload []byte

	// Bank transfer details for prepayment methods, shown to the user while
	// the payment is pending.
	Instructions []byte

	// Ordering token of the most recently applied notification. Events with
	// an older token are discarded as duplicates.
	LastNotificationSeq uint64

	// Set when polling retries are exhausted and an operator needs to look
	// at the payment.
	ReviewRequired bool

	// Set when the record entered a state whose order-store side effects
	// haven't succeeded yet; cleared once they have. Lets a redelivery
	// retry the side effects without re-running the transition.
	SideEffectsPending bool

	FailureReason *string

	PollAttempts uint8
	NextPollAt   *time.Time

	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Record) Validate() error {
	if len(r.PaymentId) == 0 {
		return errors.New("payment id is required")
	}

	if len(r.OrderId) == 0 {
		return errors.New("order id is required")
	}

	if r.PspTransactionId != nil && len(*r.PspTransactionId) == 0 {
		return errors.New("psp transaction id cannot be empty when set")
	}

	if r.Amount == 0 {
		return errors.New("amount must be positive")
	}

	if _, err := currency.NewCode(r.Currency.String()); err != nil {
		return err
	}

	if r.State == StateUnknown {
		return errors.New("state is required")
	}

	if r.State.IsTerminal() && r.NextPollAt != nil {
		return errors.New("next poll timestamp cannot be set in a terminal state")
	}

	return nil
}

func (r *Record) Clone() Record {
	return Record{
		Id: r.Id,

		PaymentId:        r.PaymentId,
		OrderId:          r.OrderId,
		PspTransactionId: pointer.StringCopy(r.PspTransactionId),

		Amount:   r.Amount,
		Currency: r.Currency,
		Method:   r.Method,

		State: r.State,

		ProviderPayload: bytes.Clone(r.ProviderPayload),
		Instructions:    bytes.Clone(r.Instructions),

		LastNotificationSeq: r.LastNotificationSeq,
		ReviewRequired:      r.ReviewRequired,
		SideEffectsPending:  r.SideEffectsPending,
		FailureReason:       pointer.StringCopy(r.FailureReason),

		PollAttempts: r.PollAttempts,
		NextPollAt:   pointer.TimeCopy(r.NextPollAt),

		Version: r.Version,

		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.PaymentId = r.PaymentId
	dst.OrderId = r.OrderId
	dst.PspTransactionId = pointer.StringCopy(r.PspTransactionId)

	dst.Amount = r.Amount
	dst.Currency = r.Currency
	dst.Method = r.Method

	dst.State = r.State

	dst.ProviderPayload = bytes.Clone(r.ProviderPayload)
	dst.Instructions = bytes.Clone(r.Instructions)

	dst.LastNotificationSeq = r.LastNotificationSeq
	dst.ReviewRequired = r.ReviewRequired
	dst.SideEffectsPending = r.SideEffectsPending
	dst.FailureReason = pointer.StringCopy(r.FailureReason)

	dst.PollAttempts = r.PollAttempts
	dst.NextPollAt = pointer.TimeCopy(r.NextPollAt)

	dst.Version = r.Version

	dst.CreatedAt = r.CreatedAt
	dst.UpdatedAt = r.UpdatedAt
}

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateCreated:
		return "created"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	case StatePartiallyRefunded:
		return "partially_refunded"
	case StateRefunded:
		return "refunded"
	}
	return "unknown"
}
