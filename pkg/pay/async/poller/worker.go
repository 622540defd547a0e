package async_poller

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eventtix/psp-server/pkg/metrics"
	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/reconciliation"
	"github.com/eventtix/psp-server/pkg/retry"
)

const (
	pspRateLimitKey = "psp"
)

func (p *service) worker(serviceCtx context.Context, interval time.Duration) error {
	delay := interval

	err := retry.Loop(
		func() (err error) {
			time.Sleep(delay)

			items, err := p.data.GetAllPaymentsReadyToPoll(serviceCtx, p.conf.workerBatchSize.Get(serviceCtx))
			if err == payment.ErrNotFound {
				return nil
			} else if err != nil {
				return err
			}

			var wg sync.WaitGroup
			for _, item := range items {
				allowed, err := p.limiter.Allow(pspRateLimitKey)
				if err != nil || !allowed {
					// Leave the record due, the next sweep picks it up
					continue
				}

				wg.Add(1)
				go func(record *payment.Record) {
					defer wg.Done()

					ctx := serviceCtx
					if nr, ok := serviceCtx.Value(metrics.NewRelicContextKey).(*newrelic.Application); ok {
						m := nr.StartTransaction("async__payment_poller__poll_pending")
						defer m.End()
						ctx = newrelic.NewContext(serviceCtx, m)
					}

					if err := p.handlePending(ctx, record); err != nil {
						if txn := newrelic.FromContext(ctx); txn != nil {
							txn.NoticeError(err)
						}
					}
				}(item)
			}
			wg.Wait()

			return nil
		},
		retry.NonRetriableErrors(context.Canceled),
	)

	return err
}

func (p *service) handlePending(ctx context.Context, record *payment.Record) error {
	if record.State != payment.StatePending {
		return errors.New("record is not in pending state")
	}

	log := p.log.WithFields(logrus.Fields{
		"method":  "handlePending",
		"payment": record.PaymentId,
	})

	err := p.engine.Poll(ctx, record.PaymentId)

	p.metricsMu.Lock()
	if err == nil {
		p.successfulPolls += 1
	} else {
		p.failedPolls += 1
	}
	p.metricsMu.Unlock()

	if err == reconciliation.ErrPspCallsHalted {
		// Nothing else this sweep will succeed either, but state is
		// untouched so records stay due for when calls resume.
		return err
	} else if err != nil {
		log.WithError(err).Warn("failure polling payment status")
		return err
	}

	return nil
}
