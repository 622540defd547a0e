package reconciliation

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eventtix/psp-server/pkg/metrics"
	"github.com/eventtix/psp-server/pkg/pointer"
	"github.com/eventtix/psp-server/pkg/psp"

	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/data/refund"
)

// RequestRefund starts a compensating transaction against a confirmed
// payment. The sum invariant (requested amount plus all committed refunds
// never exceeds the captured amount) is validated under the payment lock
// before any PSP call is made. The PSP call itself runs unlocked.
//
// A PSP rejection fails the refund immediately with no retry; fixing a
// rejected partial refund needs a human, not a tighter loop.
func (e *Engine) RequestRefund(ctx context.Context, paymentId string, amount uint64) (*refund.Record, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "RequestRefund")
	defer tracer.End()

	log := e.log.WithFields(logrus.Fields{
		"method":     "RequestRefund",
		"payment_id": paymentId,
		"amount":     amount,
	})

	if e.pspHalted.Load() {
		return nil, ErrPspCallsHalted
	}

	if amount == 0 {
		return nil, errors.New("refund amount must be positive")
	}

	record, err := e.data.GetPaymentByPaymentId(ctx, paymentId)
	if err != nil {
		tracer.OnError(err)
		return nil, errors.Wrap(err, "error getting payment record")
	}
	if record.PspTransactionId == nil {
		return nil, ErrInvalidPaymentState
	}
	pspTransactionId := *record.PspTransactionId

	refundRecord, err := func() (*refund.Record, error) {
		lock := e.paymentLocks.Get([]byte(pspTransactionId))
		lock.Lock()
		defer lock.Unlock()

		record, err := e.data.GetPaymentByPaymentId(ctx, paymentId)
		if err != nil {
			return nil, errors.Wrap(err, "error getting payment record")
		}

		switch record.State {
		case payment.StateConfirmed, payment.StatePartiallyRefunded:
		default:
			return nil, ErrInvalidPaymentState
		}

		// Refunds that are confirmed or still in flight all count against
		// the refundable amount, so concurrent requests can't overshoot.
		committed, err := e.data.GetCommittedRefundAmount(ctx, record.PaymentId)
		if err != nil {
			return nil, errors.Wrap(err, "error summing committed refunds")
		}
		if amount+committed > record.Amount {
			return nil, ErrRefundExceedsPayment
		}

		refundRecord := &refund.Record{
			RefundId:  uuid.New().String(),
			PaymentId: record.PaymentId,
			Amount:    amount,
			Currency:  record.Currency,
			State:     refund.StateRequested,
		}
		if err := e.data.CreateRefund(ctx, refundRecord); err != nil {
			return nil, errors.Wrap(err, "error creating refund record")
		}
		return refundRecord, nil
	}()
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	log = log.WithField("refund_id", refundRecord.RefundId)

	pspCtx, cancel := context.WithTimeout(ctx, e.conf.pspCallTimeout.Get(ctx))
	res, err := e.pspClient.CreateRefund(pspCtx, pspTransactionId, amount)
	cancel()

	lock := e.paymentLocks.Get([]byte(pspTransactionId))
	lock.Lock()
	defer lock.Unlock()

	refundRecord, getErr := e.data.GetRefundByRefundId(ctx, refundRecord.RefundId)
	if getErr != nil {
		tracer.OnError(getErr)
		return nil, errors.Wrap(getErr, "error getting refund record")
	}

	if err != nil {
		e.checkAuthFailure(err)

		if psp.IsRejected(err) {
			refundRecord.State = refund.StateFailed
			refundRecord.FailureReason = pointer.String("refund was declined")
			if updateErr := e.data.UpdateRefund(ctx, refundRecord); updateErr != nil {
				log.WithError(updateErr).Warn("failure marking rejected refund failed")
			}

			log.WithError(err).Info("refund rejected by psp")
			metrics.RecordCount(ctx, "reconciliation_refund_rejected", 1)
			tracer.OnError(err)
			return refundRecord, err
		}

		// Transient and auth failures leave the record Requested; its
		// amount stays committed until an operator resolves it.
		log.WithError(err).Warn("failure submitting refund to psp")
		tracer.OnError(err)
		return refundRecord, err
	}

	refundRecord.PspRefundId = &res.PspRefundId
	refundRecord.State = refund.StateSubmitted
	refundRecord.ProviderPayload = res.Raw
	if err := e.data.UpdateRefund(ctx, refundRecord); err != nil {
		tracer.OnError(err)
		return nil, errors.Wrap(err, "error persisting submitted refund")
	}

	log.WithField("psp_refund_id", res.PspRefundId).Info("refund submitted")
	return refundRecord, nil
}

// Cancel aborts a payment that hasn't been captured yet. The confirmation
// arrives through the regular reconciliation path; on PSP acknowledgement
// the state moves to Canceled immediately.
func (e *Engine) Cancel(ctx context.Context, paymentId string) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Cancel")
	defer tracer.End()

	log := e.log.WithFields(logrus.Fields{
		"method":     "Cancel",
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

	switch record.State {
	case payment.StateCreated, payment.StatePending:
	default:
		return ErrInvalidPaymentState
	}

	if record.PspTransactionId == nil {
		// Nothing ever reached the PSP, cancel locally
		record.State = payment.StateCanceled
		record.NextPollAt = nil
		record.SideEffectsPending = true
		if err := e.data.UpdatePayment(ctx, record); err != nil {
			tracer.OnError(err)
			return errors.Wrap(err, "error persisting canceled payment")
		}
		if err := e.triggerPaymentSideEffects(ctx, record); err != nil {
			tracer.OnError(err)
			return errors.Wrap(err, "error running payment side effects")
		}
		return nil
	}
	pspTransactionId := *record.PspTransactionId

	pspCtx, cancel := context.WithTimeout(ctx, e.conf.pspCallTimeout.Get(ctx))
	_, err = e.pspClient.Cancel(pspCtx, pspTransactionId)
	cancel()
	if err != nil {
		e.checkAuthFailure(err)

		log.WithError(err).Warn("failure canceling psp transaction")
		tracer.OnError(err)
		return err
	}

	lock := e.paymentLocks.Get([]byte(pspTransactionId))
	lock.Lock()
	defer lock.Unlock()

	record, err = e.data.GetPaymentByPaymentId(ctx, paymentId)
	if err != nil {
		tracer.OnError(err)
		return errors.Wrap(err, "error getting payment record")
	}

	// A webhook may have confirmed the payment while the cancel was in
	// flight; never regress a terminal or confirmed state.
	switch record.State {
	case payment.StateCreated, payment.StatePending:
	default:
		return nil
	}

	record.State = payment.StateCanceled
	record.NextPollAt = nil
	record.SideEffectsPending = true
	if err := e.data.UpdatePayment(ctx, record); err != nil {
		tracer.OnError(err)
		return errors.Wrap(err, "error persisting canceled payment")
	}

	if err := e.triggerPaymentSideEffects(ctx, record); err != nil {
		tracer.OnError(err)
		return errors.Wrap(err, "error running payment side effects")
	}

	log.Info("payment canceled")
	return nil
}
