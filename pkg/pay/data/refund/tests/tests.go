package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventtix/psp-server/pkg/pay/data/refund"
	"github.com/eventtix/psp-server/pkg/pointer"
)

func RunTests(t *testing.T, s refund.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s refund.Store){
		testHappyPath,
		testUpdateGuards,
		testAmountQueries,
	} {
		tf(t, s)
		teardown()
	}
}

func testHappyPath(t *testing.T, s refund.Store) {
	t.Run("testHappyPath", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()
		time.Sleep(time.Millisecond)

		record := &refund.Record{
			RefundId:  "refund_id",
			PaymentId: "payment_id",
			Amount:    2500,
			Currency:  "eur",
			State:     refund.StateRequested,
		}
		cloned := record.Clone()

		_, err := s.GetByRefundId(ctx, record.RefundId)
		assert.Equal(t, refund.ErrNotFound, err)
		assert.Equal(t, refund.ErrNotFound, s.Update(ctx, record))

		require.NoError(t, s.Put(ctx, record))
		assert.Equal(t, refund.ErrAlreadyExists, s.Put(ctx, record))

		actual, err := s.GetByRefundId(ctx, record.RefundId)
		require.NoError(t, err)
		assert.True(t, actual.Id > 0)
		assert.EqualValues(t, 1, actual.Version)
		assert.True(t, actual.CreatedAt.After(start))
		assertEquivalentRecords(t, &cloned, actual)

		record = actual
		record.PspRefundId = pointer.String("PTX_456")
		record.State = refund.StateSubmitted
		record.ProviderPayload = []byte(`{"status":"refund"}`)
		record.SideEffectsPending = true
		cloned = record.Clone()
		require.NoError(t, s.Update(ctx, record))
		assert.EqualValues(t, 2, record.Version)

		actual, err = s.GetByPspRefundId(ctx, "PTX_456")
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)

		_, err = s.GetByPspRefundId(ctx, "PTX_missing")
		assert.Equal(t, refund.ErrNotFound, err)

		all, err := s.GetAllByPaymentId(ctx, "payment_id")
		require.NoError(t, err)
		require.Len(t, all, 1)

		_, err = s.GetAllByPaymentId(ctx, "other_payment_id")
		assert.Equal(t, refund.ErrNotFound, err)
	})
}

func testUpdateGuards(t *testing.T, s refund.Store) {
	t.Run("testUpdateGuards", func(t *testing.T) {
		ctx := context.Background()

		record := &refund.Record{
			RefundId:    "refund_id",
			PaymentId:   "payment_id",
			PspRefundId: pointer.String("PTX_456"),
			Amount:      2500,
			Currency:    "eur",
			State:       refund.StateSubmitted,
		}
		require.NoError(t, s.Put(ctx, record))

		stale := record.Clone()
		stale.Version = 100
		stale.State = refund.StateConfirmed
		assert.Equal(t, refund.ErrStaleRecord, s.Update(ctx, &stale))

		updated := record.Clone()
		updated.PspRefundId = pointer.String("PTX_other")
		assert.Equal(t, refund.ErrPspRefundIdSet, s.Update(ctx, &updated))

		updated = record.Clone()
		updated.PspRefundId = nil
		assert.Equal(t, refund.ErrPspRefundIdSet, s.Update(ctx, &updated))

		updated = record.Clone()
		updated.State = refund.StateConfirmed
		require.NoError(t, s.Update(ctx, &updated))

		actual, err := s.GetByRefundId(ctx, record.RefundId)
		require.NoError(t, err)
		assert.Equal(t, refund.StateConfirmed, actual.State)
	})
}

func testAmountQueries(t *testing.T, s refund.Store) {
	t.Run("testAmountQueries", func(t *testing.T) {
		ctx := context.Background()

		confirmed, err := s.GetConfirmedAmountByPaymentId(ctx, "payment_id")
		require.NoError(t, err)
		assert.EqualValues(t, 0, confirmed)

		records := []*refund.Record{
			{RefundId: "id1", PaymentId: "payment_id", Amount: 100, Currency: "eur", State: refund.StateConfirmed},
			{RefundId: "id2", PaymentId: "payment_id", Amount: 200, Currency: "eur", State: refund.StateConfirmed},
			{RefundId: "id3", PaymentId: "payment_id", Amount: 400, Currency: "eur", State: refund.StateSubmitted},
			{RefundId: "id4", PaymentId: "payment_id", Amount: 800, Currency: "eur", State: refund.StateRequested},
			{RefundId: "id5", PaymentId: "payment_id", Amount: 1600, Currency: "eur", State: refund.StateFailed},
			{RefundId: "id6", PaymentId: "other_payment_id", Amount: 3200, Currency: "eur", State: refund.StateConfirmed},
		}
		for _, record := range records {
			require.NoError(t, s.Put(ctx, record))
		}

		confirmed, err = s.GetConfirmedAmountByPaymentId(ctx, "payment_id")
		require.NoError(t, err)
		assert.EqualValues(t, 300, confirmed)

		committed, err := s.GetCommittedAmountByPaymentId(ctx, "payment_id")
		require.NoError(t, err)
		assert.EqualValues(t, 1500, committed)
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *refund.Record) {
	assert.Equal(t, obj1.RefundId, obj2.RefundId)
	assert.Equal(t, obj1.PaymentId, obj2.PaymentId)
	assert.EqualValues(t, obj1.Amount, obj2.Amount)
	assert.Equal(t, obj1.Currency, obj2.Currency)
	assert.Equal(t, obj1.State, obj2.State)
	assert.Equal(t, obj1.ProviderPayload, obj2.ProviderPayload)
	assert.Equal(t, obj1.SideEffectsPending, obj2.SideEffectsPending)

	if obj1.PspRefundId == nil {
		assert.Nil(t, obj2.PspRefundId)
	} else {
		require.NotNil(t, obj2.PspRefundId)
		assert.Equal(t, *obj1.PspRefundId, *obj2.PspRefundId)
	}

	if obj1.FailureReason == nil {
		assert.Nil(t, obj2.FailureReason)
	} else {
		require.NotNil(t, obj2.FailureReason)
		assert.Equal(t, *obj1.FailureReason, *obj2.FailureReason)
	}
}
