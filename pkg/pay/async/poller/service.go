package async_poller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	xrate "golang.org/x/time/rate"

	"github.com/eventtix/psp-server/pkg/pay/async"
	pay_data "github.com/eventtix/psp-server/pkg/pay/data"
	"github.com/eventtix/psp-server/pkg/pay/reconciliation"
	"github.com/eventtix/psp-server/pkg/rate"
)

// service sweeps pending payments whose poll deadline has passed and asks
// the reconciliation engine to fetch their authoritative status from the
// PSP. It is the safety net for webhook deliveries that never arrive.
type service struct {
	log     *logrus.Entry
	conf    *conf
	data    pay_data.Provider
	engine  *reconciliation.Engine
	limiter rate.Limiter

	metricsMu       sync.Mutex
	successfulPolls int
	failedPolls     int
}

func New(data pay_data.Provider, engine *reconciliation.Engine, configProvider ConfigProvider) async.Service {
	conf := configProvider()
	pspCallsPerSecond := conf.pspCallsPerSecond.Get(context.Background())

	return &service{
		log:     logrus.StandardLogger().WithField("service", "payment_poller"),
		conf:    conf,
		data:    data,
		engine:  engine,
		limiter: rate.NewLocalRateLimiter(xrate.Limit(pspCallsPerSecond)),
	}
}

func (p *service) Start(ctx context.Context, interval time.Duration) error {
	go func() {
		err := p.worker(ctx, interval)
		if err != nil && err != context.Canceled {
			p.log.WithError(err).Warn("payment polling loop terminated unexpectedly")
		}
	}()

	go func() {
		err := p.metricsGaugeWorker(ctx)
		if err != nil && err != context.Canceled {
			p.log.WithError(err).Warn("payment poller metrics gauge loop terminated unexpectedly")
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}
