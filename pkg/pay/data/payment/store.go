package payment

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("payment record not found")
	ErrAlreadyExists = errors.New("payment record already exists")

	// ErrStaleRecord indicates the record was modified since it was read.
	// Callers must re-read and re-validate before retrying the update.
	ErrStaleRecord = errors.New("payment record is stale")

	// ErrPspTransactionIdSet indicates an attempt to change an already set
	// psp transaction id, which is immutable.
	ErrPspTransactionIdSet = errors.New("psp transaction id is immutable")
)

type Store interface {
	// Put creates a payment record
	//
	// Returns ErrAlreadyExists if a record already exists.
	Put(ctx context.Context, record *Record) error

	// Update updates a payment record. The update is compare-and-swap on
	// the record's version counter.
	//
	// Returns ErrNotFound if no record exists, ErrStaleRecord if the
	// version doesn't match the stored record, and ErrPspTransactionIdSet
	// if the update attempts to change a set psp transaction id.
	Update(ctx context.Context, record *Record) error

	// GetByPaymentId finds the record for a given public payment ID
	//
	// Returns ErrNotFound if no record is found.
	GetByPaymentId(ctx context.Context, paymentId string) (*Record, error)

	// GetByPspTransactionId finds the record for a given PSP transaction ID
	//
	// Returns ErrNotFound if no record is found.
	GetByPspTransactionId(ctx context.Context, pspTransactionId string) (*Record, error)

	// GetAllByOrderId gets all payment attempts for an order, most recent
	// first.
	//
	// Returns ErrNotFound if no records are found.
	GetAllByOrderId(ctx context.Context, orderId string) ([]*Record, error)

	// GetAllPendingReadyToPoll gets all records in the pending state with a
	// poll scheduled at or before now.
	//
	// Returns ErrNotFound if no records are found.
	//
	// Note: No traditional pagination since it's expected the next poll
	//       timestamp is updated or the state transitions to a terminal
	//       value.
	GetAllPendingReadyToPoll(ctx context.Context, limit uint64) ([]*Record, error)

	// CountByState counts all payment records in a provided state
	CountByState(ctx context.Context, state State) (uint64, error)
}
