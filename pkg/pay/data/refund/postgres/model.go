package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/eventtix/psp-server/pkg/currency"
	pgutil "github.com/eventtix/psp-server/pkg/database/postgres"
	"github.com/eventtix/psp-server/pkg/pay/data/refund"
)

const (
	tableName = "eventtix__pay_refund"

	tableColumns = `
		refund_id,
		payment_id,
		psp_refund_id,

		amount,
		currency,
		state,

		provider_payload,
		side_effects_pending,
		failure_reason,

		version,
		created_at,
		updated_at
	`
)

type model struct {
	Id                 sql.NullInt64  `db:"id"`
	RefundId           string         `db:"refund_id"`
	PaymentId          string         `db:"payment_id"`
	PspRefundId        sql.NullString `db:"psp_refund_id"`
	Amount             uint64         `db:"amount"`
	Currency           string         `db:"currency"`
	State              refund.State   `db:"state"`
	ProviderPayload    []byte         `db:"provider_payload"`
	SideEffectsPending bool           `db:"side_effects_pending"`
	FailureReason      sql.NullString `db:"failure_reason"`
	Version            uint64         `db:"version"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func toModel(obj *refund.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	m := &model{
		Id:                 sql.NullInt64{Int64: int64(obj.Id), Valid: obj.Id > 0},
		RefundId:           obj.RefundId,
		PaymentId:          obj.PaymentId,
		Amount:             obj.Amount,
		Currency:           strings.ToLower(string(obj.Currency)),
		State:              obj.State,
		ProviderPayload:    obj.ProviderPayload,
		SideEffectsPending: obj.SideEffectsPending,
		Version:            obj.Version,
		CreatedAt:          obj.CreatedAt.UTC(),
		UpdatedAt:          obj.UpdatedAt.UTC(),
	}

	if obj.PspRefundId != nil {
		m.PspRefundId = sql.NullString{String: *obj.PspRefundId, Valid: true}
	}
	if obj.FailureReason != nil {
		m.FailureReason = sql.NullString{String: *obj.FailureReason, Valid: true}
	}

	return m, nil
}

func fromModel(obj *model) *refund.Record {
	record := &refund.Record{
		Id:                 uint64(obj.Id.Int64),
		RefundId:           obj.RefundId,
		PaymentId:          obj.PaymentId,
		Amount:             obj.Amount,
		Currency:           currency.Code(obj.Currency),
		State:              obj.State,
		ProviderPayload:    obj.ProviderPayload,
		SideEffectsPending: obj.SideEffectsPending,
		Version:            obj.Version,
		CreatedAt:          obj.CreatedAt.UTC(),
		UpdatedAt:          obj.UpdatedAt.UTC(),
	}

	if obj.PspRefundId.Valid {
		record.PspRefundId = &obj.PspRefundId.String
	}
	if obj.FailureReason.Valid {
		record.FailureReason = &obj.FailureReason.String
	}

	return record
}

func (m *model) dbPut(ctx context.Context, db *sqlx.DB) error {
	return pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		query := `INSERT INTO ` + tableName + ` (` + tableColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10) RETURNING *;`

		m.CreatedAt = time.Now().UTC()

		err := tx.QueryRowxContext(ctx, query,
			m.RefundId,
			m.PaymentId,
			m.PspRefundId,
			m.Amount,
			m.Currency,
			m.State,
			m.ProviderPayload,
			m.SideEffectsPending,
			m.FailureReason,
			m.CreatedAt,
		).StructScan(m)

		return pgutil.CheckUniqueViolation(err, refund.ErrAlreadyExists)
	})
}

func (m *model) dbUpdate(ctx context.Context, db *sqlx.DB) error {
	return pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		current := &model{}
		err := tx.GetContext(ctx, current,
			`SELECT * FROM `+tableName+` WHERE refund_id = $1 FOR UPDATE`,
			m.RefundId,
		)
		if err != nil {
			return pgutil.CheckNoRows(err, refund.ErrNotFound)
		}

		if current.Version != m.Version {
			return refund.ErrStaleRecord
		}
		if current.PspRefundId.Valid && current.PspRefundId != m.PspRefundId {
			return refund.ErrPspRefundIdSet
		}

		query := `UPDATE ` + tableName + `
			SET
				psp_refund_id        = $2,
				state                = $3,
				provider_payload     = $4,
				side_effects_pending = $5,
				failure_reason       = $6,
				version              = version + 1,
				updated_at           = $7
			WHERE refund_id = $1 RETURNING *;`

		return tx.QueryRowxContext(ctx, query,
			m.RefundId,
			m.PspRefundId,
			m.State,
			m.ProviderPayload,
			m.SideEffectsPending,
			m.FailureReason,
			time.Now().UTC(),
		).StructScan(m)
	})
}

func dbGetByRefundId(ctx context.Context, db *sqlx.DB, refundId string) (*model, error) {
	res := &model{}
	err := db.GetContext(ctx, res,
		`SELECT * FROM `+tableName+` WHERE refund_id = $1 LIMIT 1`,
		refundId,
	)
	return res, pgutil.CheckNoRows(err, refund.ErrNotFound)
}

func dbGetByPspRefundId(ctx context.Context, db *sqlx.DB, pspRefundId string) (*model, error) {
	res := &model{}
	err := db.GetContext(ctx, res,
		`SELECT * FROM `+tableName+` WHERE psp_refund_id = $1 LIMIT 1`,
		pspRefundId,
	)
	return res, pgutil.CheckNoRows(err, refund.ErrNotFound)
}

func dbGetAllByPaymentId(ctx context.Context, db *sqlx.DB, paymentId string) ([]*model, error) {
	res := []*model{}
	err := db.SelectContext(ctx, &res,
		`SELECT * FROM `+tableName+` WHERE payment_id = $1 ORDER BY created_at DESC, id DESC`,
		paymentId,
	)

	if err != nil {
		return nil, pgutil.CheckNoRows(err, refund.ErrNotFound)
	}
	if len(res) == 0 {
		return nil, refund.ErrNotFound
	}

	return res, nil
}

func dbGetAmountByPaymentIdInStates(ctx context.Context, db *sqlx.DB, paymentId string, states []refund.State) (uint64, error) {
	var res sql.NullInt64

	query, args, err := sqlx.In(
		`SELECT SUM(amount) FROM `+tableName+` WHERE payment_id = ? AND state IN (?)`,
		paymentId, states,
	)
	if err != nil {
		return 0, err
	}

	err = db.GetContext(ctx, &res, db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}

	if !res.Valid {
		return 0, nil
	}
	return uint64(res.Int64), nil
}
