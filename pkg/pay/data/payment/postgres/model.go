package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/eventtix/psp-server/pkg/currency"
	pgutil "github.com/eventtix/psp-server/pkg/database/postgres"
	"github.com/eventtix/psp-server/pkg/pay/data/payment"
)

const (
	tableName = "eventtix__pay_payment"

	tableColumns = `
		payment_id,
		order_id,
		psp_transaction_id,

		amount,
		currency,
		method,
		state,

		provider_payload,
		instructions,

		last_notification_seq,
		review_required,
		side_effects_pending,
		failure_reason,

		poll_attempts,
		next_poll_at,

		version,
		created_at,
		updated_at
	`
)

type model struct {
	Id                  sql.NullInt64  `db:"id"`
	PaymentId           string         `db:"payment_id"`
	OrderId             string         `db:"order_id"`
	PspTransactionId    sql.NullString `db:"psp_transaction_id"`
	Amount              uint64         `db:"amount"`
	Currency            string         `db:"currency"`
	Method              string         `db:"method"`
	State               payment.State  `db:"state"`
	ProviderPayload     []byte         `db:"provider_payload"`
	Instructions        []byte         `db:"instructions"`
	LastNotificationSeq uint64         `db:"last_notification_seq"`
	ReviewRequired      bool           `db:"review_required"`
	SideEffectsPending  bool           `db:"side_effects_pending"`
	FailureReason       sql.NullString `db:"failure_reason"`
	PollAttempts        uint8          `db:"poll_attempts"`
	NextPollAt          sql.NullTime   `db:"next_poll_at"`
	Version             uint64         `db:"version"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func toModel(obj *payment.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	m := &model{
		Id:                  sql.NullInt64{Int64: int64(obj.Id), Valid: obj.Id > 0},
		PaymentId:           obj.PaymentId,
		OrderId:             obj.OrderId,
		Amount:              obj.Amount,
		Currency:            strings.ToLower(string(obj.Currency)),
		Method:              obj.Method,
		State:               obj.State,
		ProviderPayload:     obj.ProviderPayload,
		Instructions:        obj.Instructions,
		LastNotificationSeq: obj.LastNotificationSeq,
		ReviewRequired:      obj.ReviewRequired,
		SideEffectsPending:  obj.SideEffectsPending,
		PollAttempts:        obj.PollAttempts,
		Version:             obj.Version,
		CreatedAt:           obj.CreatedAt.UTC(),
		UpdatedAt:           obj.UpdatedAt.UTC(),
	}

	if obj.PspTransactionId != nil {
		m.PspTransactionId = sql.NullString{String: *obj.PspTransactionId, Valid: true}
	}
	if obj.FailureReason != nil {
		m.FailureReason = sql.NullString{String: *obj.FailureReason, Valid: true}
	}
	if obj.NextPollAt != nil {
		m.NextPollAt = sql.NullTime{Time: obj.NextPollAt.UTC(), Valid: true}
	}

	return m, nil
}

func fromModel(obj *model) *payment.Record {
	record := &payment.Record{
		Id:                  uint64(obj.Id.Int64),
		PaymentId:           obj.PaymentId,
		OrderId:             obj.OrderId,
		Amount:              obj.Amount,
		Currency:            currency.Code(obj.Currency),
		Method:              obj.Method,
		State:               obj.State,
		ProviderPayload:     obj.ProviderPayload,
		Instructions:        obj.Instructions,
		LastNotificationSeq: obj.LastNotificationSeq,
		ReviewRequired:      obj.ReviewRequired,
		SideEffectsPending:  obj.SideEffectsPending,
		PollAttempts:        obj.PollAttempts,
		Version:             obj.Version,
		CreatedAt:           obj.CreatedAt.UTC(),
		UpdatedAt:           obj.UpdatedAt.UTC(),
	}

	if obj.PspTransactionId.Valid {
		record.PspTransactionId = &obj.PspTransactionId.String
	}
	if obj.FailureReason.Valid {
		record.FailureReason = &obj.FailureReason.String
	}
	if obj.NextPollAt.Valid {
		nextPollAt := obj.NextPollAt.Time.UTC()
		record.NextPollAt = &nextPollAt
	}

	return record
}

func (m *model) dbPut(ctx context.Context, db *sqlx.DB) error {
	return pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		query := `INSERT INTO ` + tableName + ` (` + tableColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $16) RETURNING *;`

		m.CreatedAt = time.Now().UTC()

		err := tx.QueryRowxContext(ctx, query,
			m.PaymentId,
			m.OrderId,
			m.PspTransactionId,
			m.Amount,
			m.Currency,
			m.Method,
			m.State,
			m.ProviderPayload,
			m.Instructions,
			m.LastNotificationSeq,
			m.ReviewRequired,
			m.SideEffectsPending,
			m.FailureReason,
			m.PollAttempts,
			m.NextPollAt,
			m.CreatedAt,
		).StructScan(m)

		return pgutil.CheckUniqueViolation(err, payment.ErrAlreadyExists)
	})
}

func (m *model) dbUpdate(ctx context.Context, db *sqlx.DB) error {
	return pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		current := &model{}
		err := tx.GetContext(ctx, current,
			`SELECT * FROM `+tableName+` WHERE payment_id = $1 FOR UPDATE`,
			m.PaymentId,
		)
		if err != nil {
			return pgutil.CheckNoRows(err, payment.ErrNotFound)
		}

		if current.Version != m.Version {
			return payment.ErrStaleRecord
		}
		if current.PspTransactionId.Valid && current.PspTransactionId != m.PspTransactionId {
			return payment.ErrPspTransactionIdSet
		}

		query := `UPDATE ` + tableName + `
			SET
				psp_transaction_id    = $2,
				state                 = $3,
				provider_payload      = $4,
				instructions          = $5,
				last_notification_seq = $6,
				review_required       = $7,
				side_effects_pending  = $8,
				failure_reason        = $9,
				poll_attempts         = $10,
				next_poll_at          = $11,
				version               = version + 1,
				updated_at            = $12
			WHERE payment_id = $1 RETURNING *;`

		return tx.QueryRowxContext(ctx, query,
			m.PaymentId,
			m.PspTransactionId,
			m.State,
			m.ProviderPayload,
			m.Instructions,
			m.LastNotificationSeq,
			m.ReviewRequired,
			m.SideEffectsPending,
			m.FailureReason,
			m.PollAttempts,
			m.NextPollAt,
			time.Now().UTC(),
		).StructScan(m)
	})
}

func dbGetByPaymentId(ctx context.Context, db *sqlx.DB, paymentId string) (*model, error) {
	res := &model{}
	err := db.GetContext(ctx, res,
		`SELECT * FROM `+tableName+` WHERE payment_id = $1 LIMIT 1`,
		paymentId,
	)
	return res, pgutil.CheckNoRows(err, payment.ErrNotFound)
}

func dbGetByPspTransactionId(ctx context.Context, db *sqlx.DB, pspTransactionId string) (*model, error) {
	res := &model{}
	err := db.GetContext(ctx, res,
		`SELECT * FROM `+tableName+` WHERE psp_transaction_id = $1 LIMIT 1`,
		pspTransactionId,
	)
	return res, pgutil.CheckNoRows(err, payment.ErrNotFound)
}

func dbGetAllByOrderId(ctx context.Context, db *sqlx.DB, orderId string) ([]*model, error) {
	res := []*model{}
	err := db.SelectContext(ctx, &res,
		`SELECT * FROM `+tableName+` WHERE order_id = $1 ORDER BY created_at DESC, id DESC`,
		orderId,
	)

	if err != nil {
		return nil, pgutil.CheckNoRows(err, payment.ErrNotFound)
	}
	if len(res) == 0 {
		return nil, payment.ErrNotFound
	}

	return res, nil
}

func dbGetAllPendingReadyToPoll(ctx context.Context, db *sqlx.DB, limit uint64) ([]*model, error) {
	res := []*model{}
	err := db.SelectContext(ctx, &res,
		`SELECT * FROM `+tableName+`
			WHERE state = $1 AND next_poll_at IS NOT NULL AND next_poll_at <= $2
			ORDER BY next_poll_at ASC
			LIMIT $3`,
		payment.StatePending,
		time.Now().UTC(),
		limit,
	)

	if err != nil {
		return nil, pgutil.CheckNoRows(err, payment.ErrNotFound)
	}
	if len(res) == 0 {
		return nil, payment.ErrNotFound
	}

	return res, nil
}

func dbCountByState(ctx context.Context, db *sqlx.DB, state payment.State) (uint64, error) {
	var res uint64
	err := db.GetContext(ctx, &res,
		`SELECT COUNT(*) FROM `+tableName+` WHERE state = $1`,
		state,
	)
	if err != nil {
		return 0, err
	}
	return res, nil
}
