package reconciliation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eventtix/psp-server/pkg/cache"
	"github.com/eventtix/psp-server/pkg/currency"
	"github.com/eventtix/psp-server/pkg/metrics"
	"github.com/eventtix/psp-server/pkg/pointer"
	"github.com/eventtix/psp-server/pkg/psp"
	sync_util "github.com/eventtix/psp-server/pkg/sync"

	pay_data "github.com/eventtix/psp-server/pkg/pay/data"
	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/data/refund"
	"github.com/eventtix/psp-server/pkg/pay/webhook"
)

const (
	metricsStructName = "pay.reconciliation.engine"

	dedupCacheBudget = 100_000

	initialPollDelay = 30 * time.Second
	maxPollDelay     = 1 * time.Hour
)

var (
	// ErrPaymentNotFound indicates an event referenced a PSP transaction
	// with no local payment record. Permanent for the delivery.
	ErrPaymentNotFound = errors.New("no payment for psp transaction")

	// ErrRefundNotFound indicates a refund event referenced an unknown
	// compensating transaction.
	ErrRefundNotFound = errors.New("no refund for psp refund transaction")

	// ErrPspCallsHalted indicates a credential failure stopped all outbound
	// PSP calls until an operator intervenes.
	ErrPspCallsHalted = errors.New("psp calls halted after auth failure")

	// ErrInvalidPaymentState indicates the requested operation isn't
	// allowed from the payment's current state.
	ErrInvalidPaymentState = errors.New("operation not allowed in payment state")

	// ErrRefundExceedsPayment indicates a refund request would push the
	// refunded total over the captured amount.
	ErrRefundExceedsPayment = errors.New("refund amount exceeds refundable amount")
)

// Engine is the reconciliation orchestrator. It owns all payment and refund
// state transitions: webhook deliveries, poll results, and the refund/cancel
// workflow all funnel through it, serialized per payment via a striped lock.
type Engine struct {
	log  *logrus.Entry
	conf *conf

	data      pay_data.Provider
	pspClient psp.Client
	orders    OrderStore
	notifier  Notifier

	paymentLocks *sync_util.StripedLock
	dedupCache   cache.Cache

	pspHalted atomic.Bool
}

func NewEngine(
	data pay_data.Provider,
	pspClient psp.Client,
	orders OrderStore,
	notifier Notifier,
	configProvider ConfigProvider,
) *Engine {
	conf := configProvider()

	return &Engine{
		log:  logrus.StandardLogger().WithField("service", "reconciliation"),
		conf: conf,

		data:      data,
		pspClient: pspClient,
		orders:    orders,
		notifier:  notifier,

		paymentLocks: sync_util.NewStripedLock(uint(conf.stripedLockParallelization.Get(context.Background()))),
		dedupCache:   cache.NewCache(dedupCacheBudget),
	}
}

// CreatePayment starts a new payment attempt for an order: a local record is
// persisted first, then the remote transaction is created. The PSP call runs
// without any payment lock held since no concurrent reconciliation can
// reference the transaction before its id is persisted.
func (e *Engine) CreatePayment(
	ctx context.Context,
	orderId string,
	amount uint64,
	code currency.Code,
	method psp.Method,
	returnUrl string,
	webhookUrl string,
) (*payment.Record, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "CreatePayment")
	defer tracer.End()

	log := e.log.WithFields(logrus.Fields{
		"method":   "CreatePayment",
		"order_id": orderId,
	})

	if e.pspHalted.Load() {
		return nil, ErrPspCallsHalted
	}

	record := &payment.Record{
		PaymentId: uuid.New().String(),
		OrderId:   orderId,
		Amount:    amount,
		Currency:  code,
		Method:    string(method),
		State:     payment.StateCreated,
	}
	if err := e.data.CreatePayment(ctx, record); err != nil {
		log.WithError(err).Warn("failure creating payment record")
		tracer.OnError(err)
		return nil, err
	}

	pspCtx, cancel := context.WithTimeout(ctx, e.conf.pspCallTimeout.Get(ctx))
	defer cancel()

	txn, err := e.pspClient.CreateTransaction(pspCtx, &psp.CreateTransactionRequest{
		OrderRef:   orderId,
		Amount:     amount,
		Currency:   code,
		Method:     method,
		ReturnURL:  returnUrl,
		WebhookURL: webhookUrl,
	})
	if err != nil {
		e.checkAuthFailure(err)

		var rejection *psp.Rejection
		if errors.As(err, &rejection) {
			record.State = payment.StateFailed
			record.FailureReason = pointer.String("payment was declined")
			if updateErr := e.data.UpdatePayment(ctx, record); updateErr != nil {
				log.WithError(updateErr).Warn("failure marking rejected payment failed")
			}
		}

		log.WithError(err).Warn("failure creating psp transaction")
		tracer.OnError(err)
		return nil, err
	}

	record.PspTransactionId = &txn.PspTransactionId
	record.State = payment.StatePending
	record.ProviderPayload = txn.Raw
	record.NextPollAt = pointer.Time(time.Now().Add(initialPollDelay))
	if txn.Instructions != nil {
		if marshalled, err := json.Marshal(txn.Instructions); err == nil {
			record.Instructions = marshalled
		}
	}
	if txn.RedirectURL == "" && txn.Instructions == nil {
		// Nothing for the user to act on yet, poll sooner
		record.NextPollAt = pointer.Time(time.Now().Add(initialPollDelay / 2))
	}

	if err := e.data.UpdatePayment(ctx, record); err != nil {
		log.WithError(err).Warn("failure persisting psp transaction id")
		tracer.OnError(err)
		return nil, err
	}

	log.WithField("psp_transaction_id", txn.PspTransactionId).Debug("payment created")
	return record, nil
}

// Handle applies a single decoded notification. Returning nil means the
// event's effect is durably persisted (or it was a duplicate), so the
// webhook delivery can be acknowledged.
func (e *Engine) Handle(ctx context.Context, event *webhook.NotificationEvent) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Handle")
	defer tracer.End()

	err := func() error {
		if event.IsRefund {
			return e.handleRefundEvent(ctx, event)
		}
		return e.handlePaymentEvent(ctx, event)
	}()
	if err != nil {
		tracer.OnError(err)
	}
	return err
}

func (e *Engine) handlePaymentEvent(ctx context.Context, event *webhook.NotificationEvent) error {
	log := e.log.WithFields(logrus.Fields{
		"method":             "handlePaymentEvent",
		"psp_transaction_id": event.PspTransactionId,
		"psp_status":         event.Status.String(),
	})

	dedupKey := fmt.Sprintf("payment:%s:%d", event.PspTransactionId, event.SequenceHint)
	if _, ok := e.dedupCache.Retrieve(dedupKey); ok {
		log.Debug("dropping notification seen within dedup window")
		return nil
	}

	lock := e.paymentLocks.Get([]byte(event.PspTransactionId))
	lock.Lock()
	defer lock.Unlock()

	record, err := e.data.GetPaymentByPspTransactionId(ctx, event.PspTransactionId)
	if err == payment.ErrNotFound {
		return ErrPaymentNotFound
	} else if err != nil {
		return errors.Wrap(err, "error getting payment record")
	}

	if err := e.applyPaymentEvent(ctx, record, event); err != nil {
		return err
	}

	// Side effects run on the flag rather than on whether this delivery
	// applied a transition, so a redelivery retries them after an order
	// store outage. Acknowledging the delivery waits until they succeed.
	if record.SideEffectsPending {
		if err := e.triggerPaymentSideEffects(ctx, record); err != nil {
			return errors.Wrap(err, "error running payment side effects")
		}
	}

	e.dedupCache.Insert(dedupKey, true, e.conf.dedupWindow.Get(ctx))
	return nil
}

// applyPaymentEvent maps and persists a notification against a payment
// record. The caller must hold the payment lock. Transitions into a state
// with order-store side effects mark the record SideEffectsPending; running
// them is the caller's responsibility.
func (e *Engine) applyPaymentEvent(ctx context.Context, record *payment.Record, event *webhook.NotificationEvent) error {
	log := e.log.WithFields(logrus.Fields{
		"method":             "applyPaymentEvent",
		"payment_id":         record.PaymentId,
		"psp_transaction_id": event.PspTransactionId,
	})

	if event.SequenceHint < record.LastNotificationSeq {
		log.Debug("discarding stale notification")
		metrics.RecordCount(ctx, "reconciliation_stale_notification", 1)
		return nil
	}

	// A missing amount means the PSP didn't echo one back, which isn't a
	// mismatch.
	amountMatches := event.Amount == 0 ||
		(event.Amount == record.Amount && (len(event.Currency) == 0 || event.Currency.Equals(record.Currency)))
	isPartial := false
	if event.Status == psp.StatusRefund {
		confirmed, err := e.data.GetConfirmedRefundAmount(ctx, record.PaymentId)
		if err != nil {
			return errors.Wrap(err, "error summing confirmed refunds")
		}
		isPartial = confirmed < record.Amount
	}

	nextState, result := MapPaymentState(record.State, event.Status, amountMatches, isPartial)

	record.ProviderPayload = event.RawPayload
	record.LastNotificationSeq = event.SequenceHint
	if len(event.Instructions) > 0 {
		record.Instructions = event.Instructions
	}

	switch result {
	case ResultNoChange, ResultInvalidTransition:
		if result == ResultInvalidTransition {
			log.WithField("psp_status", event.Status.String()).Warn("notification cannot be applied to payment")
			metrics.RecordCount(ctx, "reconciliation_invalid_transition", 1)
		}

		// Audit trail only
		if err := e.data.UpdatePayment(ctx, record); err != nil {
			return errors.Wrap(err, "error persisting audit update")
		}
		return nil
	}

	record.State = nextState
	if nextState.IsTerminal() || nextState == payment.StateConfirmed || nextState == payment.StatePartiallyRefunded {
		record.NextPollAt = nil
		record.PollAttempts = 0
	}
	if nextState == payment.StateFailed {
		record.FailureReason = pointer.String("payment was declined")
	}
	switch nextState {
	case payment.StateConfirmed, payment.StateFailed, payment.StateCanceled:
		record.SideEffectsPending = true
	}

	err := e.data.ExecuteInTx(ctx, sql.LevelDefault, func(ctx context.Context) error {
		return e.data.UpdatePayment(ctx, record)
	})
	if err != nil {
		return errors.Wrap(err, "error persisting state transition")
	}

	log.WithField("state", nextState.String()).Info("payment state transitioned")
	metrics.RecordCount(ctx, "reconciliation_applied_transition", 1)
	return nil
}

// triggerPaymentSideEffects runs the post-commit side effects for the
// payment's new state, then clears SideEffectsPending. The order store is
// idempotent, so re-running after a crash between persist and notify is
// safe. An order store failure leaves the flag set and is returned to the
// caller; a later delivery or poll retries. Notifier failures are logged
// and never undo the transition.
func (e *Engine) triggerPaymentSideEffects(ctx context.Context, record *payment.Record) error {
	log := e.log.WithFields(logrus.Fields{
		"method":     "triggerPaymentSideEffects",
		"payment_id": record.PaymentId,
		"state":      record.State.String(),
	})

	var eventKind string
	var err error
	switch record.State {
	case payment.StateConfirmed:
		eventKind = EventPaymentConfirmed
		err = e.orders.MarkPaid(ctx, record.OrderId, record.PaymentId)
	case payment.StateFailed:
		eventKind = EventPaymentFailed
		reason := "payment could not be completed"
		if record.FailureReason != nil {
			reason = *record.FailureReason
		}
		err = e.orders.MarkFailed(ctx, record.OrderId, record.PaymentId, reason)
	case payment.StateCanceled:
		eventKind = EventPaymentCanceled
		err = e.orders.MarkFailed(ctx, record.OrderId, record.PaymentId, "payment was canceled")
	default:
		record.SideEffectsPending = false
		return e.data.UpdatePayment(ctx, record)
	}

	if err != nil {
		log.WithError(err).Error("failure updating order store")
		return err
	}

	record.SideEffectsPending = false
	if err := e.data.UpdatePayment(ctx, record); err != nil {
		return errors.Wrap(err, "error clearing pending side effects")
	}

	if err := e.notifier.Notify(ctx, record.OrderId, eventKind); err != nil {
		log.WithError(err).Warn("failure dispatching notification")
	}
	return nil
}

func (e *Engine) handleRefundEvent(ctx context.Context, event *webhook.NotificationEvent) error {
	if event.PspRefundId == nil {
		return ErrRefundNotFound
	}

	log := e.log.WithFields(logrus.Fields{
		"method":        "handleRefundEvent",
		"psp_refund_id": *event.PspRefundId,
	})

	dedupKey := fmt.Sprintf("refund:%s:%d", *event.PspRefundId, event.SequenceHint)
	if _, ok := e.dedupCache.Retrieve(dedupKey); ok {
		log.Debug("dropping notification seen within dedup window")
		return nil
	}

	// Refund reconciliation serializes on the parent payment so the refund
	// ledger and the payment state can't race.
	lock := e.paymentLocks.Get([]byte(event.PspTransactionId))
	lock.Lock()
	defer lock.Unlock()

	refundRecord, err := e.data.GetRefundByPspRefundId(ctx, *event.PspRefundId)
	if err == refund.ErrNotFound {
		return ErrRefundNotFound
	} else if err != nil {
		return errors.Wrap(err, "error getting refund record")
	}

	amountMatches := event.Amount == 0 || event.Amount == refundRecord.Amount
	nextState, result := MapRefundState(refundRecord.State, event.Status, amountMatches)

	refundRecord.ProviderPayload = event.RawPayload

	switch result {
	case ResultInvalidTransition:
		log.WithField("psp_status", event.Status.String()).Warn("notification cannot be applied to refund")
		metrics.RecordCount(ctx, "reconciliation_invalid_transition", 1)
		fallthrough
	case ResultNoChange:
		if err := e.data.UpdateRefund(ctx, refundRecord); err != nil {
			return errors.Wrap(err, "error persisting audit update")
		}

		// A redelivery after an order store outage lands here: the refund
		// already confirmed but its side effects are still owed.
		if refundRecord.SideEffectsPending {
			paymentRecord, err := e.data.GetPaymentByPaymentId(ctx, refundRecord.PaymentId)
			if err != nil {
				return errors.Wrap(err, "error getting payment record")
			}
			if err := e.triggerRefundSideEffects(ctx, paymentRecord, refundRecord); err != nil {
				return errors.Wrap(err, "error running refund side effects")
			}
		}

		e.dedupCache.Insert(dedupKey, true, e.conf.dedupWindow.Get(ctx))
		return nil
	}

	refundRecord.State = nextState
	if nextState == refund.StateConfirmed {
		refundRecord.SideEffectsPending = true
	}
	if nextState == refund.StateFailed {
		refundRecord.FailureReason = pointer.String("refund was declined")
	}

	paymentRecord, err := e.data.GetPaymentByPaymentId(ctx, refundRecord.PaymentId)
	if err != nil {
		return errors.Wrap(err, "error getting payment record")
	}

	err = e.data.ExecuteInTx(ctx, sql.LevelDefault, func(ctx context.Context) error {
		if err := e.data.UpdateRefund(ctx, refundRecord); err != nil {
			return err
		}

		if nextState != refund.StateConfirmed {
			return nil
		}

		confirmed, err := e.data.GetConfirmedRefundAmount(ctx, refundRecord.PaymentId)
		if err != nil {
			return err
		}

		paymentState := payment.StatePartiallyRefunded
		if confirmed >= paymentRecord.Amount {
			paymentState = payment.StateRefunded
		}

		if paymentState == paymentRecord.State {
			return nil
		}

		paymentRecord.State = paymentState
		paymentRecord.ProviderPayload = event.RawPayload
		paymentRecord.LastNotificationSeq = event.SequenceHint
		paymentRecord.NextPollAt = nil
		return e.data.UpdatePayment(ctx, paymentRecord)
	})
	if err != nil {
		return errors.Wrap(err, "error persisting refund transition")
	}

	if refundRecord.SideEffectsPending {
		if err := e.triggerRefundSideEffects(ctx, paymentRecord, refundRecord); err != nil {
			return errors.Wrap(err, "error running refund side effects")
		}
	}

	e.dedupCache.Insert(dedupKey, true, e.conf.dedupWindow.Get(ctx))

	log.WithField("state", nextState.String()).Info("refund state transitioned")
	return nil
}

// triggerRefundSideEffects records a confirmed refund against the order,
// then clears SideEffectsPending. An order store failure leaves the flag
// set and is returned so the delivery isn't acknowledged.
func (e *Engine) triggerRefundSideEffects(ctx context.Context, paymentRecord *payment.Record, refundRecord *refund.Record) error {
	log := e.log.WithFields(logrus.Fields{
		"method":    "triggerRefundSideEffects",
		"refund_id": refundRecord.RefundId,
	})

	if err := e.orders.RecordRefund(ctx, paymentRecord.OrderId, refundRecord.RefundId, refundRecord.Amount); err != nil {
		log.WithError(err).Error("failure recording refund in order store")
		return err
	}

	refundRecord.SideEffectsPending = false
	if err := e.data.UpdateRefund(ctx, refundRecord); err != nil {
		return errors.Wrap(err, "error clearing pending side effects")
	}

	if err := e.notifier.Notify(ctx, paymentRecord.OrderId, EventRefundConfirmed); err != nil {
		log.WithError(err).Warn("failure dispatching notification")
	}
	return nil
}

// Poll reconciles a pending payment against the PSP's authoritative status.
// The PSP call runs without the payment lock held; state is re-read and
// re-validated under lock before anything is committed.
func (e *Engine) Poll(ctx context.Context, paymentId string) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Poll")
	defer tracer.End()

	log := e.log.WithFields(logrus.Fields{
		"method":     "Poll",
		"payment_id": paymentId,
	})

	if e.pspHalted.Load() {
		return ErrPspCallsHalted
	}

	record, err := e.data.GetPaymentByPaymentId(ctx, paymentId)
	if err != nil {
		tracer.OnError(err)
		return errors.Wrap(err, "error getting payment record")
	}

	if record.State != payment.StatePending || record.PspTransactionId == nil {
		return nil
	}
	pspTransactionId := *record.PspTransactionId

	pspCtx, cancel := context.WithTimeout(ctx, e.conf.pspCallTimeout.Get(ctx))
	txn, err := e.pspClient.FetchStatus(pspCtx, pspTransactionId)
	cancel()

	lock := e.paymentLocks.Get([]byte(pspTransactionId))
	lock.Lock()
	defer lock.Unlock()

	// Re-validate under lock; a webhook may have raced the fetch
	record, getErr := e.data.GetPaymentByPaymentId(ctx, paymentId)
	if getErr != nil {
		tracer.OnError(getErr)
		return errors.Wrap(getErr, "error getting payment record")
	}
	if record.State != payment.StatePending {
		return nil
	}

	if err != nil {
		e.checkAuthFailure(err)
		if psp.IsAuthFailure(err) {
			tracer.OnError(err)
			return ErrPspCallsHalted
		}

		if psp.IsTransient(err) {
			return e.schedulePollRetry(ctx, record, log)
		}

		tracer.OnError(err)
		return errors.Wrap(err, "error fetching psp status")
	}

	event := &webhook.NotificationEvent{
		PspTransactionId: pspTransactionId,
		Status:           txn.Status,
		SequenceHint:     record.LastNotificationSeq, // poll results never outrank a webhook
		RawPayload:       txn.Raw,
		ReceivedAt:       time.Now(),
	}

	record.PollAttempts = 0
	record.NextPollAt = pointer.Time(time.Now().Add(initialPollDelay))

	if err := e.applyPaymentEvent(ctx, record, event); err != nil {
		tracer.OnError(err)
		return err
	}
	if record.SideEffectsPending {
		if err := e.triggerPaymentSideEffects(ctx, record); err != nil {
			tracer.OnError(err)
			return errors.Wrap(err, "error running payment side effects")
		}
	}
	return nil
}

// schedulePollRetry backs the poll schedule off after a transient failure.
// After the configured ceiling the payment stays Pending but gets flagged
// for operator review; network trouble never auto-fails a payment.
func (e *Engine) schedulePollRetry(ctx context.Context, record *payment.Record, log *logrus.Entry) error {
	record.PollAttempts++

	ceiling := uint8(e.conf.pollRetryCeiling.Get(ctx))
	if record.PollAttempts >= ceiling {
		record.ReviewRequired = true
		record.NextPollAt = nil

		log.WithField("attempts", record.PollAttempts).Warn("poll retries exhausted, flagging payment for review")
		metrics.RecordCount(ctx, "reconciliation_review_required", 1)
	} else {
		// Doubling per attempt, capped so a high ceiling can't overflow
		// the delay into a hot loop.
		delay := initialPollDelay
		for i := uint8(0); i < record.PollAttempts && delay < maxPollDelay; i++ {
			delay *= 2
		}
		if delay > maxPollDelay {
			delay = maxPollDelay
		}
		record.NextPollAt = pointer.Time(time.Now().Add(delay))
	}

	if err := e.data.UpdatePayment(ctx, record); err != nil {
		return errors.Wrap(err, "error persisting poll schedule")
	}
	return nil
}

func (e *Engine) checkAuthFailure(err error) {
	if psp.IsAuthFailure(err) && e.pspHalted.CompareAndSwap(false, true) {
		e.log.WithError(err).Error("psp credential failure, halting all psp calls")
	}
}

// ResumePspCalls clears the auth-failure halt after operator intervention.
func (e *Engine) ResumePspCalls() {
	e.pspHalted.Store(false)
}
