package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pointer"
)

func RunTests(t *testing.T, s payment.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s payment.Store){
		testHappyPath,
		testUpdateGuards,
		testOrderQueries,
		testPollerQueries,
		testCounting,
	} {
		tf(t, s)
		teardown()
	}
}

func testHappyPath(t *testing.T, s payment.Store) {
	t.Run("testHappyPath", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()
		time.Sleep(time.Millisecond)

		record := &payment.Record{
			PaymentId: "payment_id",
			OrderId:   "order_id",
			Amount:    10000,
			Currency:  "eur",
			Method:    "creditcard",
			State:     payment.StateCreated,
		}
		cloned := record.Clone()

		_, err := s.GetByPaymentId(ctx, record.PaymentId)
		assert.Equal(t, payment.ErrNotFound, err)
		assert.Equal(t, payment.ErrNotFound, s.Update(ctx, record))

		require.NoError(t, s.Put(ctx, record))
		assert.Equal(t, payment.ErrAlreadyExists, s.Put(ctx, record))

		actual, err := s.GetByPaymentId(ctx, record.PaymentId)
		require.NoError(t, err)
		assert.True(t, actual.Id > 0)
		assert.EqualValues(t, 1, actual.Version)
		assert.True(t, actual.CreatedAt.After(start))
		assertEquivalentRecords(t, &cloned, actual)

		record = actual
		record.PspTransactionId = pointer.String("STX_123")
		record.State = payment.StatePending
		record.ProviderPayload = []byte(`{"status":"pending"}`)
		record.LastNotificationSeq = 42
		record.SideEffectsPending = true
		record.NextPollAt = pointer.Time(time.Now().Add(time.Minute))
		cloned = record.Clone()
		require.NoError(t, s.Update(ctx, record))
		assert.EqualValues(t, 2, record.Version)

		actual, err = s.GetByPspTransactionId(ctx, "STX_123")
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)

		_, err = s.GetByPspTransactionId(ctx, "STX_missing")
		assert.Equal(t, payment.ErrNotFound, err)
	})
}

func testUpdateGuards(t *testing.T, s payment.Store) {
	t.Run("testUpdateGuards", func(t *testing.T) {
		ctx := context.Background()

		record := &payment.Record{
			PaymentId:        "payment_id",
			OrderId:          "order_id",
			PspTransactionId: pointer.String("STX_123"),
			Amount:           10000,
			Currency:         "eur",
			State:            payment.StatePending,
		}
		require.NoError(t, s.Put(ctx, record))

		// Stale version
		stale := record.Clone()
		stale.Version = 100
		stale.State = payment.StateConfirmed
		assert.Equal(t, payment.ErrStaleRecord, s.Update(ctx, &stale))

		// A set psp transaction id cannot change
		updated := record.Clone()
		updated.PspTransactionId = pointer.String("STX_other")
		assert.Equal(t, payment.ErrPspTransactionIdSet, s.Update(ctx, &updated))

		updated = record.Clone()
		updated.PspTransactionId = nil
		assert.Equal(t, payment.ErrPspTransactionIdSet, s.Update(ctx, &updated))

		// Untouched record still updatable
		updated = record.Clone()
		updated.State = payment.StateConfirmed
		require.NoError(t, s.Update(ctx, &updated))

		actual, err := s.GetByPaymentId(ctx, record.PaymentId)
		require.NoError(t, err)
		assert.Equal(t, payment.StateConfirmed, actual.State)
	})
}

func testOrderQueries(t *testing.T, s payment.Store) {
	t.Run("testOrderQueries", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAllByOrderId(ctx, "order1")
		assert.Equal(t, payment.ErrNotFound, err)

		records := []*payment.Record{
			{PaymentId: "id1", OrderId: "order1", Amount: 100, Currency: "eur", State: payment.StateFailed},
			{PaymentId: "id2", OrderId: "order1", Amount: 100, Currency: "eur", State: payment.StatePending},
			{PaymentId: "id3", OrderId: "order2", Amount: 200, Currency: "usd", State: payment.StateCreated},
		}
		for _, record := range records {
			time.Sleep(time.Millisecond)
			require.NoError(t, s.Put(ctx, record))
		}

		actual, err := s.GetAllByOrderId(ctx, "order1")
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assert.Equal(t, "id2", actual[0].PaymentId)
		assert.Equal(t, "id1", actual[1].PaymentId)
	})
}

func testPollerQueries(t *testing.T, s payment.Store) {
	t.Run("testPollerQueries", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAllPendingReadyToPoll(ctx, 10)
		assert.Equal(t, payment.ErrNotFound, err)

		records := []*payment.Record{
			{PaymentId: "id1", OrderId: "order1", Amount: 100, Currency: "eur", State: payment.StateCreated},
			{PaymentId: "id2", OrderId: "order2", Amount: 100, Currency: "eur", State: payment.StatePending, NextPollAt: pointer.Time(time.Now().Add(-2 * time.Second))},
			{PaymentId: "id3", OrderId: "order3", Amount: 100, Currency: "eur", State: payment.StatePending, NextPollAt: pointer.Time(time.Now().Add(-1 * time.Second))},
			{PaymentId: "id4", OrderId: "order4", Amount: 100, Currency: "eur", State: payment.StatePending, NextPollAt: pointer.Time(time.Now().Add(time.Hour))},
			{PaymentId: "id5", OrderId: "order5", Amount: 100, Currency: "eur", State: payment.StatePending},
			{PaymentId: "id6", OrderId: "order6", Amount: 100, Currency: "eur", State: payment.StateConfirmed},
		}
		for _, record := range records {
			require.NoError(t, s.Put(ctx, record))
		}

		actual, err := s.GetAllPendingReadyToPoll(ctx, 10)
		require.NoError(t, err)
		require.Len(t, actual, 2)

		var ids []string
		for _, record := range actual {
			ids = append(ids, record.PaymentId)
		}
		assert.ElementsMatch(t, []string{"id2", "id3"}, ids)

		actual, err = s.GetAllPendingReadyToPoll(ctx, 1)
		require.NoError(t, err)
		require.Len(t, actual, 1)
	})
}

func testCounting(t *testing.T, s payment.Store) {
	t.Run("testCounting", func(t *testing.T) {
		ctx := context.Background()

		records := []*payment.Record{
			{PaymentId: "id1", OrderId: "order1", Amount: 100, Currency: "eur", State: payment.StateCreated},
			{PaymentId: "id2", OrderId: "order2", Amount: 100, Currency: "eur", State: payment.StatePending},
			{PaymentId: "id3", OrderId: "order3", Amount: 100, Currency: "eur", State: payment.StatePending},
			{PaymentId: "id4", OrderId: "order4", Amount: 100, Currency: "eur", State: payment.StateConfirmed},
		}
		for _, record := range records {
			require.NoError(t, s.Put(ctx, record))
		}

		count, err := s.CountByState(ctx, payment.StatePending)
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)

		count, err = s.CountByState(ctx, payment.StateRefunded)
		require.NoError(t, err)
		assert.EqualValues(t, 0, count)
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *payment.Record) {
	assert.Equal(t, obj1.PaymentId, obj2.PaymentId)
	assert.Equal(t, obj1.OrderId, obj2.OrderId)
	assert.EqualValues(t, obj1.Amount, obj2.Amount)
	assert.Equal(t, obj1.Currency, obj2.Currency)
	assert.Equal(t, obj1.Method, obj2.Method)
	assert.Equal(t, obj1.State, obj2.State)
	assert.Equal(t, obj1.ProviderPayload, obj2.ProviderPayload)
	assert.Equal(t, obj1.Instructions, obj2.Instructions)
	assert.Equal(t, obj1.LastNotificationSeq, obj2.LastNotificationSeq)
	assert.Equal(t, obj1.ReviewRequired, obj2.ReviewRequired)
	assert.Equal(t, obj1.SideEffectsPending, obj2.SideEffectsPending)
	assert.Equal(t, obj1.PollAttempts, obj2.PollAttempts)

	if obj1.FailureReason == nil {
		assert.Nil(t, obj2.FailureReason)
	} else {
		require.NotNil(t, obj2.FailureReason)
		assert.Equal(t, *obj1.FailureReason, *obj2.FailureReason)
	}

	if obj1.PspTransactionId == nil {
		assert.Nil(t, obj2.PspTransactionId)
	} else {
		require.NotNil(t, obj2.PspTransactionId)
		assert.Equal(t, *obj1.PspTransactionId, *obj2.PspTransactionId)
	}

	if obj1.NextPollAt == nil {
		assert.Nil(t, obj2.NextPollAt)
	} else {
		require.NotNil(t, obj2.NextPollAt)
		assert.Equal(t, obj1.NextPollAt.Unix(), obj2.NextPollAt.Unix())
	}
}
