package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/eventtix/psp-server/pkg/pay/data/refund"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres refund.Store
func New(db *sql.DB) refund.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Put implements refund.Store.Put
func (s *store) Put(ctx context.Context, record *refund.Record) error {
	model, err := toModel(record)
	if err != nil {
		return err
	}

	if err := model.dbPut(ctx, s.db); err != nil {
		return err
	}

	fromModel(model).CopyTo(record)
	return nil
}

// Update implements refund.Store.Update
func (s *store) Update(ctx context.Context, record *refund.Record) error {
	model, err := toModel(record)
	if err != nil {
		return err
	}

	if err := model.dbUpdate(ctx, s.db); err != nil {
		return err
	}

	fromModel(model).CopyTo(record)
	return nil
}

// GetByRefundId implements refund.Store.GetByRefundId
func (s *store) GetByRefundId(ctx context.Context, refundId string) (*refund.Record, error) {
	model, err := dbGetByRefundId(ctx, s.db, refundId)
	if err != nil {
		return nil, err
	}
	return fromModel(model), nil
}

// GetByPspRefundId implements refund.Store.GetByPspRefundId
func (s *store) GetByPspRefundId(ctx context.Context, pspRefundId string) (*refund.Record, error) {
	model, err := dbGetByPspRefundId(ctx, s.db, pspRefundId)
	if err != nil {
		return nil, err
	}
	return fromModel(model), nil
}

// GetAllByPaymentId implements refund.Store.GetAllByPaymentId
func (s *store) GetAllByPaymentId(ctx context.Context, paymentId string) ([]*refund.Record, error) {
	models, err := dbGetAllByPaymentId(ctx, s.db, paymentId)
	if err != nil {
		return nil, err
	}

	records := make([]*refund.Record, len(models))
	for i, model := range models {
		records[i] = fromModel(model)
	}
	return records, nil
}

// GetConfirmedAmountByPaymentId implements refund.Store.GetConfirmedAmountByPaymentId
func (s *store) GetConfirmedAmountByPaymentId(ctx context.Context, paymentId string) (uint64, error) {
	return dbGetAmountByPaymentIdInStates(ctx, s.db, paymentId, []refund.State{
		refund.StateConfirmed,
	})
}

// GetCommittedAmountByPaymentId implements refund.Store.GetCommittedAmountByPaymentId
func (s *store) GetCommittedAmountByPaymentId(ctx context.Context, paymentId string) (uint64, error) {
	return dbGetAmountByPaymentIdInStates(ctx, s.db, paymentId, []refund.State{
		refund.StateRequested,
		refund.StateSubmitted,
		refund.StateConfirmed,
	})
}
