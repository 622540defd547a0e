package refund

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("refund record not found")
	ErrAlreadyExists = errors.New("refund record already exists")

	// ErrStaleRecord indicates the record was modified since it was read.
	// Callers must re-read and re-validate before retrying the update.
	ErrStaleRecord = errors.New("refund record is stale")

	// ErrPspRefundIdSet indicates an attempt to change an already set psp
	// refund id, which is immutable.
	ErrPspRefundIdSet = errors.New("psp refund id is immutable")
)

type Store interface {
	// Put creates a refund record
	//
	// Returns ErrAlreadyExists if a record already exists.
	Put(ctx context.Context, record *Record) error

	// Update updates a refund record. The update is compare-and-swap on the
	// record's version counter.
	//
	// Returns ErrNotFound if no record exists, ErrStaleRecord if the
	// version doesn't match the stored record, and ErrPspRefundIdSet if
	// the update attempts to change a set psp refund id.
	Update(ctx context.Context, record *Record) error

	// GetByRefundId finds the record for a given public refund ID
	//
	// Returns ErrNotFound if no record is found.
	GetByRefundId(ctx context.Context, refundId string) (*Record, error)

	// GetByPspRefundId finds the record for a given PSP compensating
	// transaction ID
	//
	// Returns ErrNotFound if no record is found.
	GetByPspRefundId(ctx context.Context, pspRefundId string) (*Record, error)

	// GetAllByPaymentId gets all refunds for a payment, most recent first.
	//
	// Returns ErrNotFound if no records are found.
	GetAllByPaymentId(ctx context.Context, paymentId string) ([]*Record, error)

	// GetConfirmedAmountByPaymentId sums the amounts of all confirmed
	// refunds for a payment.
	GetConfirmedAmountByPaymentId(ctx context.Context, paymentId string) (uint64, error)

	// GetCommittedAmountByPaymentId sums the amounts of all refunds for a
	// payment that are confirmed or still in flight. This is the value the
	// over-refund check uses, so a failed refund frees its amount up again.
	GetCommittedAmountByPaymentId(ctx context.Context, paymentId string) (uint64, error)
}
