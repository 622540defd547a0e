package refund

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"github.com/eventtix/psp-server/pkg/currency"
	"github.com/eventtix/psp-server/pkg/pointer"
)

type State uint8

const (
	StateUnknown   State = iota
	StateRequested       // Local record exists, nothing sent to the PSP yet
	StateSubmitted       // Accepted by the PSP, awaiting the compensating transaction
	StateConfirmed       // PSP reported the funds returned
	StateFailed          // PSP rejected the refund
)

// IsActive reports whether the refund still counts against the payment's
// refundable amount.
func (s State) IsActive() bool {
	switch s {
	case StateRequested, StateSubmitted, StateConfirmed:
		return true
	}
	return false
}

// The structure for a single refund against a confirmed payment. A payment
// can accumulate multiple partial refunds, but their total never exceeds
// the captured amount.
type Record struct {
	Id uint64

	RefundId    string  // Public opaque id for this refund
	PaymentId   string  // The payment being refunded
	PspRefundId *string // The PSP's compensating transaction id, immutable once set

	Amount   uint64 // In the currency's minor units, immutable
	Currency currency.Code

	State State

	// Last known PSP response payload for this refund
	ProviderPayload []byte

	// Set when the refund confirmed but its order-store side effects
	// haven't succeeded yet; cleared once they have.
	SideEffectsPending bool

	FailureReason *string

	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Record) Validate() error {
	if len(r.RefundId) == 0 {
		return errors.New("refund id is required")
	}

	if len(r.PaymentId) == 0 {
		return errors.New("payment id is required")
	}

	if r.PspRefundId != nil && len(*r.PspRefundId) == 0 {
		return errors.New("psp refund id cannot be empty when set")
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

	return nil
}

func (r *Record) Clone() Record {
	return Record{
		Id: r.Id,

		RefundId:    r.RefundId,
		PaymentId:   r.PaymentId,
		PspRefundId: pointer.StringCopy(r.PspRefundId),

		Amount:   r.Amount,
		Currency: r.Currency,

		State: r.State,

		ProviderPayload:    bytes.Clone(r.ProviderPayload),
		SideEffectsPending: r.SideEffectsPending,
		FailureReason:      pointer.StringCopy(r.FailureReason),

		Version: r.Version,

		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.RefundId = r.RefundId
	dst.PaymentId = r.PaymentId
	dst.PspRefundId = pointer.StringCopy(r.PspRefundId)

	dst.Amount = r.Amount
	dst.Currency = r.Currency

	dst.State = r.State

	dst.ProviderPayload = bytes.Clone(r.ProviderPayload)
	dst.SideEffectsPending = r.SideEffectsPending
	dst.FailureReason = pointer.StringCopy(r.FailureReason)

	dst.Version = r.Version

	dst.CreatedAt = r.CreatedAt
	dst.UpdatedAt = r.UpdatedAt
}

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateRequested:
		return "requested"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
