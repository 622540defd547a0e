package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/eventtix/psp-server/pkg/pay/data/payment"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres payment.Store
func New(db *sql.DB) payment.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Put implements payment.Store.Put
func (s *store) Put(ctx context.Context, record *payment.Record) error {
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

// Update implements payment.Store.Update
func (s *store) Update(ctx context.Context, record *payment.Record) error {
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

// GetByPaymentId implements payment.Store.GetByPaymentId
func (s *store) GetByPaymentId(ctx context.Context, paymentId string) (*payment.Record, error) {
	model, err := dbGetByPaymentId(ctx, s.db, paymentId)
	if err != nil {
		return nil, err
	}
	return fromModel(model), nil
}

// GetByPspTransactionId implements payment.Store.GetByPspTransactionId
func (s *store) GetByPspTransactionId(ctx context.Context, pspTransactionId string) (*payment.Record, error) {
	model, err := dbGetByPspTransactionId(ctx, s.db, pspTransactionId)
	if err != nil {
		return nil, err
	}
	return fromModel(model), nil
}

// GetAllByOrderId implements payment.Store.GetAllByOrderId
func (s *store) GetAllByOrderId(ctx context.Context, orderId string) ([]*payment.Record, error) {
	models, err := dbGetAllByOrderId(ctx, s.db, orderId)
	if err != nil {
		return nil, err
	}

	records := make([]*payment.Record, len(models))
	for i, model := range models {
		records[i] = fromModel(model)
	}
	return records, nil
}

// GetAllPendingReadyToPoll implements payment.Store.GetAllPendingReadyToPoll
func (s *store) GetAllPendingReadyToPoll(ctx context.Context, limit uint64) ([]*payment.Record, error) {
	models, err := dbGetAllPendingReadyToPoll(ctx, s.db, limit)
	if err != nil {
		return nil, err
	}

	records := make([]*payment.Record, len(models))
	for i, model := range models {
		records[i] = fromModel(model)
	}
	return records, nil
}

// CountByState implements payment.Store.CountByState
func (s *store) CountByState(ctx context.Context, state payment.State) (uint64, error) {
	return dbCountByState(ctx, s.db, state)
}
