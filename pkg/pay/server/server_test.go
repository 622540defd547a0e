package pay_server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pay_data "github.com/eventtix/psp-server/pkg/pay/data"
	"github.com/eventtix/psp-server/pkg/pay/data/payment"
	"github.com/eventtix/psp-server/pkg/pay/reconciliation"
	"github.com/eventtix/psp-server/pkg/pay/webhook"
	"github.com/eventtix/psp-server/pkg/psp"
)

type testEnv struct {
	ctx      context.Context
	data     pay_data.Provider
	engine   *reconciliation.Engine
	orders   *stubOrderStore
	verifier *webhook.Verifier
	server   *httptest.Server
}

func setup(t *testing.T) *testEnv {
	data := pay_data.NewTestProvider()
	orders := &stubOrderStore{}
	engine := reconciliation.NewEngine(data, &mockPspClient{}, orders, &noopNotifier{}, reconciliation.WithEnvConfigs())
	verifier := webhook.NewVerifier([]byte("test-webhook-secret"))

	mux := http.NewServeMux()
	New(verifier, engine, withManualTestOverrides(&testOverrides{})).RegisterRoutes(mux, nil)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{
		ctx:      context.Background(),
		data:     data,
		engine:   engine,
		orders:   orders,
		verifier: verifier,
		server:   server,
	}
}

func (env *testEnv) createPendingPayment(t *testing.T, orderId string) *payment.Record {
	record, err := env.engine.CreatePayment(env.ctx, orderId, 10000, "eur", psp.MethodCreditCard, "", "")
	require.NoError(t, err)
	require.Equal(t, payment.StatePending, record.State)
	return record
}

func (env *testEnv) deliver(t *testing.T, signature string, body []byte) *http.Response {
	req, err := http.NewRequest(http.MethodPost, env.server.URL+WebhookPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(SignatureHeader, signature)

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp
}

func statusChangedPayload(t *testing.T, pspTransactionId string, statusSimple int, amount uint64, created int64) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"object":  "event.pushes",
		"id":      fmt.Sprintf("evt_%s_%d", pspTransactionId, created),
		"created": created,
		"target":  "payment.transactions",
		"type":    "changed",
		"data": []map[string]interface{}{
			{
				"object":        "payment.transactions",
				"id":            pspTransactionId,
				"status_simple": statusSimple,
				"amount":        amount,
				"currency":      "EUR",
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestServer_HappyPath(t *testing.T) {
	env := setup(t)

	record := env.createPendingPayment(t, "order1")

	body := statusChangedPayload(t, *record.PspTransactionId, 9, 10000, 100)
	resp := env.deliver(t, env.verifier.Sign(body), body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StateConfirmed, actual.State)
}

func TestServer_OrderStoreOutage(t *testing.T) {
	env := setup(t)

	record := env.createPendingPayment(t, "order1")
	body := statusChangedPayload(t, *record.PspTransactionId, 9, 10000, 100)

	// The confirmation isn't acknowledged while the order store is down
	env.orders.err = errors.New("order service unavailable")
	resp := env.deliver(t, env.verifier.Sign(body), body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	env.orders.err = nil
	resp = env.deliver(t, env.verifier.Sign(body), body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RedeliveryIsAcknowledged(t *testing.T) {
	env := setup(t)

	record := env.createPendingPayment(t, "order1")

	body := statusChangedPayload(t, *record.PspTransactionId, 9, 10000, 100)
	for i := 0; i < 3; i++ {
		resp := env.deliver(t, env.verifier.Sign(body), body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestServer_BadSignature(t *testing.T) {
	env := setup(t)

	record := env.createPendingPayment(t, "order1")

	body := statusChangedPayload(t, *record.PspTransactionId, 9, 10000, 100)
	for _, signature := range []string{
		"",
		"not-hex",
		webhook.NewVerifier([]byte("other-secret")).Sign(body),
	} {
		resp := env.deliver(t, signature, body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// Nothing was applied
	actual, err := env.data.GetPaymentByPaymentId(env.ctx, record.PaymentId)
	require.NoError(t, err)
	assert.Equal(t, payment.StatePending, actual.State)
}

func TestServer_MalformedPayload(t *testing.T) {
	env := setup(t)

	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"object":"event.pushes","data":[]}`),
		[]byte(`{"object":"event.pushes","data":[{"object":"payment.transactions"}]}`),
	} {
		resp := env.deliver(t, env.verifier.Sign(body), body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestServer_UnknownTransaction(t *testing.T) {
	env := setup(t)

	// The push may have raced payment creation, so the PSP is asked to
	// redeliver rather than being told the transaction is unknown.
	body := statusChangedPayload(t, "STX_unknown", 9, 10000, 100)
	resp := env.deliver(t, env.verifier.Sign(body), body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := setup(t)

	resp, err := env.server.Client().Get(env.server.URL + WebhookPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

type mockPspClient struct{}

func (m *mockPspClient) CreateTransaction(_ context.Context, req *psp.CreateTransactionRequest) (*psp.Transaction, error) {
	return &psp.Transaction{
		PspTransactionId: "STX_" + req.OrderRef,
		Status:           psp.StatusCreated,
		Raw:              json.RawMessage(`{"status":"created"}`),
	}, nil
}

func (m *mockPspClient) FetchStatus(_ context.Context, pspTransactionId string) (*psp.Transaction, error) {
	return &psp.Transaction{
		PspTransactionId: pspTransactionId,
		Status:           psp.StatusPending,
		Raw:              json.RawMessage(`{}`),
	}, nil
}

func (m *mockPspClient) CreateRefund(_ context.Context, _ string, _ uint64) (*psp.RefundResult, error) {
	return &psp.RefundResult{PspRefundId: "PTX_refund", Status: psp.StatusProceed}, nil
}

func (m *mockPspClient) Cancel(_ context.Context, _ string) (psp.Status, error) {
	return psp.StatusVoid, nil
}

type stubOrderStore struct {
	err error
}

func (s *stubOrderStore) MarkPaid(_ context.Context, _, _ string) error               { return s.err }
func (s *stubOrderStore) MarkFailed(_ context.Context, _, _, _ string) error          { return s.err }
func (s *stubOrderStore) RecordRefund(_ context.Context, _, _ string, _ uint64) error { return s.err }

type noopNotifier struct{}

func (n *noopNotifier) Notify(_ context.Context, _, _ string) error { return nil }
