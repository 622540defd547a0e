package async_poller

import (
	"context"
	"time"

	"github.com/eventtix/psp-server/pkg/metrics"
	"github.com/eventtix/psp-server/pkg/pay/data/payment"
)

const (
	paymentCountEventName = "PendingPaymentPollingCheck"
	pollCallsEventName    = "PspPollCallsPollingCheck"
)

func (p *service) metricsGaugeWorker(ctx context.Context) error {
	delay := time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			start := time.Now()

			p.recordPaymentCountEvent(ctx, payment.StatePending)
			p.recordPollCallsEvents(ctx)

			delay = time.Second - time.Since(start)
		}
	}
}

func (p *service) recordPaymentCountEvent(ctx context.Context, state payment.State) {
	count, err := p.data.GetPaymentCountByState(ctx, state)
	if err != nil {
		return
	}

	metrics.RecordEvent(ctx, paymentCountEventName, map[string]interface{}{
		"count": count,
		"state": state.String(),
	})
}

func (p *service) recordPollCallsEvents(ctx context.Context) {
	p.metricsMu.Lock()
	successfulCalls := p.successfulPolls
	failedCalls := p.failedPolls
	p.successfulPolls = 0
	p.failedPolls = 0
	p.metricsMu.Unlock()

	metrics.RecordEvent(ctx, pollCallsEventName, map[string]interface{}{
		"successes": successfulCalls,
		"failures":  failedCalls,
	})
}
