package reconciliation

import "context"

// Event kinds passed to the Notifier
const (
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCanceled  = "payment.canceled"
	EventRefundConfirmed  = "refund.confirmed"
)

// OrderStore is the ticketing platform's order state surface as the engine
// needs it. All operations are assumed idempotent by the implementation, so
// re-triggering a side effect after a crash is safe.
type OrderStore interface {
	// MarkPaid flags an order as paid by a payment
	MarkPaid(ctx context.Context, orderRef, paymentId string) error

	// MarkFailed flags a payment attempt as failed so reserved stock can be
	// released
	MarkFailed(ctx context.Context, orderRef, paymentId, reason string) error

	// RecordRefund records a confirmed refund against an order
	RecordRefund(ctx context.Context, orderRef, refundId string, amount uint64) error
}

// Notifier dispatches best-effort notifications (email, push, etc). Failures
// are logged and never roll back a state transition.
type Notifier interface {
	Notify(ctx context.Context, orderRef, eventKind string) error
}
