package pay_server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"github.com/eventtix/psp-server/pkg/metrics"
	"github.com/eventtix/psp-server/pkg/pay/reconciliation"
	"github.com/eventtix/psp-server/pkg/pay/webhook"
)

const (
	// WebhookPath is where the PSP delivers push notifications.
	WebhookPath = "/v1/psp/webhook"

	// SignatureHeader carries the hex HMAC of the request body.
	SignatureHeader = "X-Webhook-Signature"
)

// Server terminates inbound PSP webhook deliveries. A 2xx response is only
// written once the notification's effect is durably persisted, so the PSP
// can safely treat anything else as "retry later" or "permanently rejected"
// based on the status code.
type Server struct {
	log      *logrus.Entry
	conf     *conf
	verifier *webhook.Verifier
	engine   *reconciliation.Engine
}

func New(verifier *webhook.Verifier, engine *reconciliation.Engine, configProvider ConfigProvider) *Server {
	return &Server{
		log:      logrus.StandardLogger().WithField("type", "pay/server"),
		conf:     configProvider(),
		verifier: verifier,
		engine:   engine,
	}
}

// RegisterRoutes installs the webhook handler on mux, instrumented when a
// New Relic application is provided.
func (s *Server) RegisterRoutes(mux *http.ServeMux, nr *newrelic.Application) {
	mux.HandleFunc(metrics.InstrumentHTTPHandler(nr, WebhookPath, s.handleWebhook))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithField("method", "handleWebhook")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.conf.maxBodyBytes.Get(r.Context()))))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := s.verifier.VerifyAndDecode(r.Header.Get(SignatureHeader), body, time.Now())
	switch err {
	case nil:
	case webhook.ErrBadSignature:
		log.Warn("webhook delivery with bad signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	case webhook.ErrMalformedPayload:
		log.Warn("webhook delivery with malformed payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.conf.handleTimeout.Get(r.Context()))
	defer cancel()

	err = s.engine.Handle(ctx, event)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case err == reconciliation.ErrPaymentNotFound || err == reconciliation.ErrRefundNotFound:
		// A push can legitimately race the transaction id being persisted,
		// so ask for redelivery instead of rejecting outright.
		log.WithField("psp_transaction_id", event.PspTransactionId).Warn("webhook for unknown transaction")
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		// Not durably applied, the PSP should redeliver
		log.WithError(err).Warn("failure handling webhook delivery")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}
