package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pay_data "github.com/eventtix/psp-server/pkg/pay/data"
	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/data/refund"
	"github.com/eventtix/psp-server/pkg/pay/webhook"
	"github.com/eventtix/psp-server/pkg/psp"
)

type testEnv struct {
	ctx      context.Context
	data     pay_data.Provider
	client   *mockPspClient
	orders   *mockOrderStore
	notifier *mockNotifier
	engine   *Engine
}

func setup(t *testing.T, overrides *testOverrides) *testEnv {
	if overrides == nil {
		overrides = &testOverrides{}
	}

	data := pay_data.NewTestProvider()
	client := &mockPspClient{}
	orders := newMockOrderStore()
	notifier := &mockNotifier{}

	return &testEnv{
		ctx:      context.Background(),
		data:     data,
		client:   client,
		orders:   orders,
		notifier: notifier,
		engine:   NewEngine(data, client, orders, notifier, withManualTestOverrides(overrides)),
	}
}

func (env *testEnv) createPendingPayment(t *testing.T, orderId string, amount uint64) *payment.Record {
	record, err := env.engine.CreatePayment(env.ctx, orderId, amount, "eur", psp.MethodCreditCard, "https://shop.example.com/return", "https://shop.example.com/hook")
	require.NoError(t, err)
	require.Equal(t, payment.StatePending, record.State)
	require.NotNil(t, record.PspTransactionId)
	return record
}

func (env *testEnv) createConfirmedPayment(t *testing.T, orderId string, amount uint64) *payment.Record {
	record := env.createPendingPayment(t, orderId, amount)
	require.NoError(t, env.engine.Handle(env.ctx, paymentEvent(*record.PspTransactionId, psp.StatusPaid, amount, 10)))

	record, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	require.Equal(t, payment.StateConfirmed, record.State)
	return record
}

func paymentEvent(pspTransactionId string, status psp.Status, amount, seq uint64) *webhook.NotificationEvent {
	return &webhook.NotificationEvent{
		PspTransactionId: pspTransactionId,
		Status:           status,
		Amount:           amount,
		Currency:         "eur",
		SequenceHint:     seq,
		RawPayload:       []byte(fmt.Sprintf(`{"status_simple":%d,"seq":%d}`, status, seq)),
		ReceivedAt:       time.Now(),
	}
}

func refundEvent(pspTransactionId, pspRefundId string, status psp.Status, amount, seq uint64) *webhook.NotificationEvent {
	event := paymentEvent(pspTransactionId, status, amount, seq)
	event.IsRefund = true
	event.PspRefundId = &pspRefundId
	return event
}

func TestEngine_PendingToConfirmed(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	// Pending notification with bank transfer instructions
	event := paymentEvent(pspTransactionId, psp.StatusPending, 10000, 1)
	event.Instructions = []byte(`{"iban":"DE02100100100006820101"}`)
	require.NoError(t, env.engine.Handle(env.ctx, event))

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StatePending, actual.State)
	assert.JSONEq(t, `{"iban":"DE02100100100006820101"}`, string(actual.Instructions))
	assert.Equal(t, 0, env.orders.markPaidCount("order1"))

	// Confirmation with the full amount
	require.NoError(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPaid, 10000, 2)))

	actual, err = env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateConfirmed, actual.State)
	assert.Nil(t, actual.NextPollAt)
	assert.Equal(t, 1, env.orders.markPaidCount("order1"))
	assert.Equal(t, []string{EventPaymentConfirmed}, env.notifier.kinds("order1"))
}

func TestEngine_DuplicateDelivery(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	// Same notification delivered three times
	for i := 0; i < 3; i++ {
		require.NoError(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPaid, 10000, 5)))
	}

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateConfirmed, actual.State)
	assert.Equal(t, 1, env.orders.markPaidCount("order1"))
}

func TestEngine_OrderStoreOutageRedelivery(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	// The order store is down when the confirmation first arrives. The
	// delivery must not be acknowledged, but the transition still commits.
	env.orders.setErr(errors.New("order service unavailable"))
	require.Error(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPaid, 10000, 5)))

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateConfirmed, actual.State)
	assert.True(t, actual.SideEffectsPending)
	assert.Equal(t, 0, env.orders.markPaidCount("order1"))

	// Redelivery after the outage runs the side effects exactly once
	env.orders.setErr(nil)
	require.NoError(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPaid, 10000, 5)))

	actual, err = env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.False(t, actual.SideEffectsPending)
	assert.Equal(t, 1, env.orders.markPaidCount("order1"))
	assert.Equal(t, []string{EventPaymentConfirmed}, env.notifier.kinds("order1"))

	// A further duplicate is dropped outright
	require.NoError(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPaid, 10000, 5)))
	assert.Equal(t, 1, env.orders.markPaidCount("order1"))
}

func TestEngine_OutOfOrderDelivery(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	require.NoError(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPaid, 10000, 5)))

	// A stale pending notification arrives after the confirmation
	require.NoError(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPending, 10000, 3)))

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateConfirmed, actual.State)
	assert.EqualValues(t, 5, actual.LastNotificationSeq)
	assert.Equal(t, 1, env.orders.markPaidCount("order1"))
}

func TestEngine_AmountMismatch(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	event := paymentEvent(pspTransactionId, psp.StatusPaid, 9999, 7)
	require.NoError(t, env.engine.Handle(env.ctx, event))

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StatePending, actual.State)
	assert.Equal(t, 0, env.orders.markPaidCount("order1"))

	// The anomaly still leaves an audit trail
	assert.Equal(t, event.RawPayload, actual.ProviderPayload)
	assert.EqualValues(t, 7, actual.LastNotificationSeq)
}

func TestEngine_UnknownTransaction(t *testing.T) {
	env := setup(t, nil)

	err := env.engine.Handle(env.ctx, paymentEvent("STX_unknown", psp.StatusPaid, 10000, 1))
	assert.Equal(t, ErrPaymentNotFound, err)
}

func TestEngine_ConcurrentReconciliation(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	var wg sync.WaitGroup
	for seq := uint64(10); seq < 20; seq++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			assert.NoError(t, env.engine.Handle(env.ctx, paymentEvent(pspTransactionId, psp.StatusPaid, 10000, seq)))
		}(seq)
	}
	wg.Wait()

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateConfirmed, actual.State)
	assert.Equal(t, 1, env.orders.markPaidCount("order1"))
}

func TestEngine_PollConfirms(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)

	env.client.setFetchStatusResult(psp.StatusPaid)
	require.NoError(t, env.engine.Poll(env.ctx, record.PaymentId))

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateConfirmed, actual.State)
	assert.Equal(t, 1, env.orders.markPaidCount("order1"))

	// Polling a terminal payment is a no-op
	require.NoError(t, env.engine.Poll(env.ctx, record.PaymentId))
	assert.Equal(t, 1, env.client.counts().fetchStatus)
}

func TestEngine_PollTransientBackoff(t *testing.T) {
	env := setup(t, &testOverrides{
		pollRetryCeiling: 3,
	})

	record := env.createPendingPayment(t, "order1", 10000)

	env.client.setErr(psp.ErrTransient)
	for i := 0; i < 3; i++ {
		require.NoError(t, env.engine.Poll(env.ctx, record.PaymentId))
	}

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)

	// Network trouble never fails a payment, it flags it for review
	assert.Equal(t, payment.StatePending, actual.State)
	assert.True(t, actual.ReviewRequired)
	assert.Nil(t, actual.NextPollAt)
	assert.EqualValues(t, 3, actual.PollAttempts)
	assert.Equal(t, 0, env.orders.markFailedCount("order1"))
}

func TestEngine_PollBackoffDelayCapped(t *testing.T) {
	env := setup(t, &testOverrides{
		pollRetryCeiling: 64,
	})

	record := env.createPendingPayment(t, "order1", 10000)

	env.client.setErr(psp.ErrTransient)
	for i := 0; i < 40; i++ {
		start := time.Now()
		require.NoError(t, env.engine.Poll(env.ctx, record.PaymentId))

		actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
		require.NoError(t, err)
		require.NotNil(t, actual.NextPollAt)

		// The doubling backoff never schedules in the past or past the cap
		assert.True(t, actual.NextPollAt.After(start))
		assert.False(t, actual.NextPollAt.After(start.Add(maxPollDelay+time.Minute)))
	}
}

func TestEngine_PollAuthFailureHaltsPspCalls(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)

	env.client.setErr(psp.ErrAuth)
	assert.Equal(t, ErrPspCallsHalted, env.engine.Poll(env.ctx, record.PaymentId))
	countsAfterFailure := env.client.counts()

	// Everything touching the PSP is halted until an operator intervenes
	assert.Equal(t, ErrPspCallsHalted, env.engine.Poll(env.ctx, record.PaymentId))
	_, err := env.engine.RequestRefund(env.ctx, record.PaymentId, 100)
	assert.Equal(t, ErrPspCallsHalted, err)
	assert.Equal(t, ErrPspCallsHalted, env.engine.Cancel(env.ctx, record.PaymentId))
	_, err = env.engine.CreatePayment(env.ctx, "order2", 100, "eur", psp.MethodCreditCard, "", "")
	assert.Equal(t, ErrPspCallsHalted, err)
	assert.Equal(t, countsAfterFailure, env.client.counts())

	env.client.setErr(nil)
	env.client.setFetchStatusResult(psp.StatusPending)
	env.engine.ResumePspCalls()
	require.NoError(t, env.engine.Poll(env.ctx, record.PaymentId))
}

func TestEngine_PartialRefundFlow(t *testing.T) {
	env := setup(t, nil)

	record := env.createConfirmedPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	refundRecord, err := env.engine.RequestRefund(env.ctx, record.PaymentId, 4000)
	require.NoError(t, err)
	assert.Equal(t, refund.StateSubmitted, refundRecord.State)
	require.NotNil(t, refundRecord.PspRefundId)

	// The PSP confirms the compensating transaction
	require.NoError(t, env.engine.Handle(env.ctx, refundEvent(pspTransactionId, *refundRecord.PspRefundId, psp.StatusRefund, 4000, 20)))

	actualRefund, err := env.data.GetRefundByRefundId(env.ctx, refundRecord.RefundId)
	require.NoError(t, err)
	assert.Equal(t, refund.StateConfirmed, actualRefund.State)

	actualPayment, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StatePartiallyRefunded, actualPayment.State)

	assert.Equal(t, 1, env.orders.recordRefundCount("order1"))

	// Refunding the remainder moves the payment to fully refunded
	refundRecord, err = env.engine.RequestRefund(env.ctx, record.PaymentId, 6000)
	require.NoError(t, err)
	require.NoError(t, env.engine.Handle(env.ctx, refundEvent(pspTransactionId, *refundRecord.PspRefundId, psp.StatusRefund, 6000, 21)))

	actualPayment, err = env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateRefunded, actualPayment.State)
	assert.Equal(t, 2, env.orders.recordRefundCount("order1"))
}

func TestEngine_RefundOrderStoreOutageRedelivery(t *testing.T) {
	env := setup(t, nil)

	record := env.createConfirmedPayment(t, "order1", 10000)
	pspTransactionId := *record.PspTransactionId

	refundRecord, err := env.engine.RequestRefund(env.ctx, record.PaymentId, 4000)
	require.NoError(t, err)
	require.NotNil(t, refundRecord.PspRefundId)

	env.orders.setErr(errors.New("order service unavailable"))
	require.Error(t, env.engine.Handle(env.ctx, refundEvent(pspTransactionId, *refundRecord.PspRefundId, psp.StatusRefund, 4000, 20)))

	actualRefund, err := env.data.GetRefundByRefundId(env.ctx, refundRecord.RefundId)
	require.NoError(t, err)
	assert.Equal(t, refund.StateConfirmed, actualRefund.State)
	assert.True(t, actualRefund.SideEffectsPending)
	assert.Equal(t, 0, env.orders.recordRefundCount("order1"))

	env.orders.setErr(nil)
	require.NoError(t, env.engine.Handle(env.ctx, refundEvent(pspTransactionId, *refundRecord.PspRefundId, psp.StatusRefund, 4000, 20)))

	actualRefund, err = env.data.GetRefundByRefundId(env.ctx, refundRecord.RefundId)
	require.NoError(t, err)
	assert.False(t, actualRefund.SideEffectsPending)
	assert.Equal(t, 1, env.orders.recordRefundCount("order1"))
	assert.Equal(t, []string{EventPaymentConfirmed, EventRefundConfirmed}, env.notifier.kinds("order1"))
}

func TestEngine_RefundEventMissingId(t *testing.T) {
	env := setup(t, nil)

	record := env.createConfirmedPayment(t, "order1", 10000)

	event := paymentEvent(*record.PspTransactionId, psp.StatusRefund, 4000, 20)
	event.IsRefund = true
	assert.Equal(t, ErrRefundNotFound, env.engine.Handle(env.ctx, event))
}

func TestEngine_RefundSumInvariant(t *testing.T) {
	env := setup(t, nil)

	record := env.createConfirmedPayment(t, "order1", 10000)

	_, err := env.engine.RequestRefund(env.ctx, record.PaymentId, 4000)
	require.NoError(t, err)
	countsBefore := env.client.counts()

	// 4000 committed + 7000 requested > 10000, rejected before any PSP call
	_, err = env.engine.RequestRefund(env.ctx, record.PaymentId, 7000)
	assert.Equal(t, ErrRefundExceedsPayment, err)
	assert.Equal(t, countsBefore, env.client.counts())

	_, err = env.engine.RequestRefund(env.ctx, record.PaymentId, 6000)
	require.NoError(t, err)
}

func TestEngine_RefundOnlyFromConfirmed(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)

	_, err := env.engine.RequestRefund(env.ctx, record.PaymentId, 4000)
	assert.Equal(t, ErrInvalidPaymentState, err)
	assert.Equal(t, 0, env.client.counts().createRefund)
}

func TestEngine_RefundRejectedNoRetry(t *testing.T) {
	env := setup(t, nil)

	record := env.createConfirmedPayment(t, "order1", 10000)

	env.client.setErr(&psp.Rejection{StatusCode: 400, Code: "invalid_amount", Message: "amount not refundable"})
	refundRecord, err := env.engine.RequestRefund(env.ctx, record.PaymentId, 4000)
	require.Error(t, err)
	assert.True(t, psp.IsRejected(err))
	require.NotNil(t, refundRecord)
	assert.Equal(t, refund.StateFailed, refundRecord.State)
	assert.Equal(t, 1, env.client.counts().createRefund)

	// The failed refund releases its amount
	env.client.setErr(nil)
	refundRecord, err = env.engine.RequestRefund(env.ctx, record.PaymentId, 10000)
	require.NoError(t, err)
	assert.Equal(t, refund.StateSubmitted, refundRecord.State)
}

func TestEngine_CancelPendingPayment(t *testing.T) {
	env := setup(t, nil)

	record := env.createPendingPayment(t, "order1", 10000)

	require.NoError(t, env.engine.Cancel(env.ctx, record.PaymentId))

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateCanceled, actual.State)
	assert.Equal(t, 1, env.client.counts().cancel)
	assert.Equal(t, 1, env.orders.markFailedCount("order1"))
	assert.Equal(t, []string{EventPaymentCanceled}, env.notifier.kinds("order1"))

	// Cancel is not allowed once a payment is terminal
	assert.Equal(t, ErrInvalidPaymentState, env.engine.Cancel(env.ctx, record.PaymentId))
}

func TestEngine_RejectedCreateFailsPayment(t *testing.T) {
	env := setup(t, nil)

	env.client.setErr(&psp.Rejection{StatusCode: 400, Code: "method_unavailable", Message: "method not enabled"})
	_, err := env.engine.CreatePayment(env.ctx, "order1", 10000, "eur", psp.MethodCreditCard, "", "")
	require.Error(t, err)
	assert.True(t, psp.IsRejected(err))

	records, err := env.data.GetAllPaymentsByOrderId(env.ctx, "order1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, payment.StateFailed, records[0].State)
}

type pspCallCounts struct {
	createTransaction int
	fetchStatus       int
	createRefund      int
	cancel            int
}

type mockPspClient struct {
	mu sync.Mutex

	err               error
	fetchStatusResult psp.Status

	callCounts pspCallCounts
}

func (m *mockPspClient) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockPspClient) setFetchStatusResult(status psp.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchStatusResult = status
}

func (m *mockPspClient) counts() pspCallCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts
}

func (m *mockPspClient) CreateTransaction(_ context.Context, req *psp.CreateTransactionRequest) (*psp.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounts.createTransaction++
	if m.err != nil {
		return nil, m.err
	}

	return &psp.Transaction{
		PspTransactionId: "STX_" + req.OrderRef,
		Status:           psp.StatusCreated,
		RedirectURL:      "https://psp.example.com/checkout",
		Raw:              json.RawMessage(`{"status":"created"}`),
	}, nil
}

func (m *mockPspClient) FetchStatus(_ context.Context, pspTransactionId string) (*psp.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounts.fetchStatus++
	if m.err != nil {
		return nil, m.err
	}

	return &psp.Transaction{
		PspTransactionId: pspTransactionId,
		Status:           m.fetchStatusResult,
		Raw:              json.RawMessage(fmt.Sprintf(`{"status_simple":%d}`, m.fetchStatusResult)),
	}, nil
}

func (m *mockPspClient) CreateRefund(_ context.Context, pspTransactionId string, amount uint64) (*psp.RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounts.createRefund++
	if m.err != nil {
		return nil, m.err
	}

	return &psp.RefundResult{
		PspRefundId: fmt.Sprintf("PTX_refund_%d", m.callCounts.createRefund),
		Status:      psp.StatusProceed,
		Raw:         json.RawMessage(`{"status":"proceed"}`),
	}, nil
}

func (m *mockPspClient) Cancel(_ context.Context, pspTransactionId string) (psp.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCounts.cancel++
	if m.err != nil {
		return psp.StatusUnknown, m.err
	}
	return psp.StatusVoid, nil
}

type mockOrderStore struct {
	mu sync.Mutex

	err error

	markPaid     map[string]int
	markFailed   map[string]int
	recordRefund map[string]int
}

func newMockOrderStore() *mockOrderStore {
	return &mockOrderStore{
		markPaid:     make(map[string]int),
		markFailed:   make(map[string]int),
		recordRefund: make(map[string]int),
	}
}

func (m *mockOrderStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockOrderStore) MarkPaid(_ context.Context, orderRef, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.markPaid[orderRef]++
	return nil
}

func (m *mockOrderStore) MarkFailed(_ context.Context, orderRef, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.markFailed[orderRef]++
	return nil
}

func (m *mockOrderStore) RecordRefund(_ context.Context, orderRef, _ string, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recordRefund[orderRef]++
	return nil
}

func (m *mockOrderStore) markPaidCount(orderRef string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPaid[orderRef]
}

func (m *mockOrderStore) markFailedCount(orderRef string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markFailed[orderRef]
}

func (m *mockOrderStore) recordRefundCount(orderRef string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordRefund[orderRef]
}

type mockNotifier struct {
	mu     sync.Mutex
	events map[string][]string
}

func (m *mockNotifier) Notify(_ context.Context, orderRef, eventKind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = make(map[string][]string)
	}
	m.events[orderRef] = append(m.events[orderRef], eventKind)
	return nil
}

func (m *mockNotifier) kinds(orderRef string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[orderRef]
}
