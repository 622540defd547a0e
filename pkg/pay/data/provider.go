package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	pg "github.com/eventtix/psp-server/pkg/database/postgres"

	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/data/refund"

	payment_memory_client "github.com/eventtix/psp-server/pkg/pay/data/payment/memory"
	refund_memory_client "github.com/eventtix/psp-server/pkg/pay/data/refund/memory"

	payment_postgres_client "github.com/eventtix/psp-server/pkg/pay/data/payment/postgres"
	refund_postgres_client "github.com/eventtix/psp-server/pkg/pay/data/refund/postgres"
)

type Provider interface {
	// Payments
	// --------------------------------------------------------------------------------
	CreatePayment(ctx context.Context, record *payment.Record) error
	UpdatePayment(ctx context.Context, record *payment.Record) error
	GetPaymentByPaymentId(ctx context.Context, paymentId string) (*payment.Record, error)
	GetPaymentByPspTransactionId(ctx context.Context, pspTransactionId string) (*payment.Record, error)
	GetAllPaymentsByOrderId(ctx context.Context, orderId string) ([]*payment.Record, error)
	GetAllPaymentsReadyToPoll(ctx context.Context, limit uint64) ([]*payment.Record, error)
	GetPaymentCountByState(ctx context.Context, state payment.State) (uint64, error)

	// Refunds
	// --------------------------------------------------------------------------------
	CreateRefund(ctx context.Context, record *refund.Record) error
	UpdateRefund(ctx context.Context, record *refund.Record) error
	GetRefundByRefundId(ctx context.Context, refundId string) (*refund.Record, error)
	GetRefundByPspRefundId(ctx context.Context, pspRefundId string) (*refund.Record, error)
	GetAllRefundsByPaymentId(ctx context.Context, paymentId string) ([]*refund.Record, error)
	GetConfirmedRefundAmount(ctx context.Context, paymentId string) (uint64, error)
	GetCommittedRefundAmount(ctx context.Context, paymentId string) (uint64, error)

	// ExecuteInTx runs fn inside a database transaction that's shared
	// across all store operations performed within it.
	ExecuteInTx(ctx context.Context, isolation sql.IsolationLevel, fn func(ctx context.Context) error) error
}

type DatabaseProvider struct {
	payments payment.Store
	refunds  refund.Store

	db *sqlx.DB
}

func NewDatabaseProvider(dbConfig *pg.Config) (Provider, error) {
	db, err := pg.NewWithUsernameAndPassword(
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		fmt.Sprint(dbConfig.Port),
		dbConfig.DbName,
	)
	if err != nil {
		return nil, err
	}

	if dbConfig.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(dbConfig.MaxOpenConnections)
	}
	if dbConfig.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(dbConfig.MaxIdleConnections)
	}
	db.SetConnMaxIdleTime(time.Hour)
	db.SetConnMaxLifetime(time.Hour)

	return &DatabaseProvider{
		payments: payment_postgres_client.New(db),
		refunds:  refund_postgres_client.New(db),

		db: sqlx.NewDb(db, "pgx"),
	}, nil
}

func NewTestProvider() Provider {
	return &DatabaseProvider{
		payments: payment_memory_client.New(),
		refunds:  refund_memory_client.New(),
	}
}

func (dp *DatabaseProvider) ExecuteInTx(ctx context.Context, isolation sql.IsolationLevel, fn func(ctx context.Context) error) error {
	if dp.db == nil {
		return fn(ctx)
	}

	return pg.ExecuteTxWithinCtx(ctx, dp.db, isolation, fn)
}

// Payments
// --------------------------------------------------------------------------------
func (dp *DatabaseProvider) CreatePayment(ctx context.Context, record *payment.Record) error {
	return dp.payments.Put(ctx, record)
}
func (dp *DatabaseProvider) UpdatePayment(ctx context.Context, record *payment.Record) error {
	return dp.payments.Update(ctx, record)
}
func (dp *DatabaseProvider) GetPaymentByPaymentId(ctx context.Context, paymentId string) (*payment.Record, error) {
	return dp.payments.GetByPaymentId(ctx, paymentId)
}
func (dp *DatabaseProvider) GetPaymentByPspTransactionId(ctx context.Context, pspTransactionId string) (*payment.Record, error) {
	return dp.payments.GetByPspTransactionId(ctx, pspTransactionId)
}
func (dp *DatabaseProvider) GetAllPaymentsByOrderId(ctx context.Context, orderId string) ([]*payment.Record, error) {
	return dp.payments.GetAllByOrderId(ctx, orderId)
}
func (dp *DatabaseProvider) GetAllPaymentsReadyToPoll(ctx context.Context, limit uint64) ([]*payment.Record, error) {
	return dp.payments.GetAllPendingReadyToPoll(ctx, limit)
}
func (dp *DatabaseProvider) GetPaymentCountByState(ctx context.Context, state payment.State) (uint64, error) {
	return dp.payments.CountByState(ctx, state)
}

// Refunds
// --------------------------------------------------------------------------------
func (dp *DatabaseProvider) CreateRefund(ctx context.Context, record *refund.Record) error {
	return dp.refunds.Put(ctx, record)
}
func (dp *DatabaseProvider) UpdateRefund(ctx context.Context, record *refund.Record) error {
	return dp.refunds.Update(ctx, record)
}
func (dp *DatabaseProvider) GetRefundByRefundId(ctx context.Context, refundId string) (*refund.Record, error) {
	return dp.refunds.GetByRefundId(ctx, refundId)
}
func (dp *DatabaseProvider) GetRefundByPspRefundId(ctx context.Context, pspRefundId string) (*refund.Record, error) {
	return dp.refunds.GetByPspRefundId(ctx, pspRefundId)
}
func (dp *DatabaseProvider) GetAllRefundsByPaymentId(ctx context.Context, paymentId string) ([]*refund.Record, error) {
	return dp.refunds.GetAllByPaymentId(ctx, paymentId)
}
func (dp *DatabaseProvider) GetConfirmedRefundAmount(ctx context.Context, paymentId string) (uint64, error) {
	return dp.refunds.GetConfirmedAmountByPaymentId(ctx, paymentId)
}
func (dp *DatabaseProvider) GetCommittedRefundAmount(ctx context.Context, paymentId string) (uint64, error) {
	return dp.refunds.GetCommittedAmountByPaymentId(ctx, paymentId)
}
