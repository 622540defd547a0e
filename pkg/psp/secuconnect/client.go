package secuconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/eventtix/psp-server/pkg/cache"
	"github.com/eventtix/psp-server/pkg/currency"
	"github.com/eventtix/psp-server/pkg/metrics"
	"github.com/eventtix/psp-server/pkg/psp"
)

const (
	metricsStructName = "psp.secuconnect.client"

	authTokenCacheKey = "secuconnect_auth_token"

	// Refresh the cached token slightly before the PSP expires it
	authTokenExpirySlack = 30 * time.Second

	defaultHTTPTimeout = 20 * time.Second
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentTesting    Environment = "testing"
	EnvironmentShowcase   Environment = "showcase"
)

var apiBaseUrls = map[Environment]string{
	EnvironmentProduction: "https://connect.secucard.com",
	EnvironmentTesting:    "https://connect-testing.secupay-ag.de",
	EnvironmentShowcase:   "https://connect-showcase.secupay-ag.de",
}

// Config is the static per-installation PSP configuration, injected at
// construction.
type Config struct {
	Environment      Environment
	ClientId         string
	ClientSecret     string
	ContractId       string
	CheckoutTemplate string
	HTTPTimeout      time.Duration
}

// IsDemo reports whether the configuration points at a non-production
// environment, where no money actually moves.
func (c *Config) IsDemo() bool {
	return c.Environment != EnvironmentProduction
}

type client struct {
	conf       *Config
	baseUrl    string
	httpClient *http.Client
	tokenCache cache.Cache
}

// NewClient returns a psp.Client backed by the secuconnect API. Calls are
// bounded by the configured HTTP timeout and are never retried internally.
func NewClient(conf *Config) (psp.Client, error) {
	baseUrl, ok := apiBaseUrls[conf.Environment]
	if !ok {
		return nil, errors.Errorf("unknown environment: %s", conf.Environment)
	}

	timeout := conf.HTTPTimeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	return &client{
		conf:    conf,
		baseUrl: baseUrl,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokenCache: cache.NewCache(4),
	}, nil
}

// CreateTransaction implements psp.Client.CreateTransaction
func (c *client) CreateTransaction(ctx context.Context, req *psp.CreateTransactionRequest) (*psp.Transaction, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "CreateTransaction")
	defer tracer.End()

	if req.Amount == 0 {
		return nil, errors.New("amount must be positive")
	}
	if _, err := currency.NewCode(req.Currency.String()); err != nil {
		return nil, err
	}

	var resp smartTransaction
	raw, err := c.submit(ctx, http.MethodPost, "v2/Smart/Transactions", c.buildSmartTransactionBody(req), &resp)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	return resp.toTransaction(req.Method, raw), nil
}

// FetchStatus implements psp.Client.FetchStatus
func (c *client) FetchStatus(ctx context.Context, pspTransactionId string) (*psp.Transaction, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "FetchStatus")
	defer tracer.End()

	var resp smartTransaction
	raw, err := c.submit(ctx, http.MethodGet, fmt.Sprintf("v2/Smart/Transactions/%s", pspTransactionId), nil, &resp)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	return resp.toTransaction("", raw), nil
}

// CreateRefund implements psp.Client.CreateRefund
//
// The PSP models partial refunds as a cancellation with a reduced amount,
// which yields a compensating payment transaction.
func (c *client) CreateRefund(ctx context.Context, pspTransactionId string, amount uint64) (*psp.RefundResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "CreateRefund")
	defer tracer.End()

	if amount == 0 {
		return nil, errors.New("amount must be positive")
	}

	var resp cancelResponse
	endpoint := fmt.Sprintf("v2/Payment/Transactions/%s/cancel", pspTransactionId)
	raw, err := c.submit(ctx, http.MethodPost, endpoint, map[string]interface{}{
		"reduce_amount_by": amount,
	}, &resp)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	result := &psp.RefundResult{
		Status: psp.StatusRefund,
		Raw:    raw,
	}
	for _, txn := range resp.Transactions {
		if txn.Id != pspTransactionId {
			result.PspRefundId = txn.Id
			result.Status = txn.statusSimple()
		}
	}
	return result, nil
}

// Cancel implements psp.Client.Cancel
func (c *client) Cancel(ctx context.Context, pspTransactionId string) (psp.Status, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Cancel")
	defer tracer.End()

	var resp cancelResponse
	endpoint := fmt.Sprintf("v2/Payment/Transactions/%s/cancel", pspTransactionId)
	_, err := c.submit(ctx, http.MethodPost, endpoint, nil, &resp)
	if err != nil {
		tracer.OnError(err)
		return psp.StatusUnknown, err
	}

	for _, txn := range resp.Transactions {
		if txn.Id == pspTransactionId {
			return txn.statusSimple(), nil
		}
	}
	return psp.StatusVoid, nil
}

func (c *client) buildSmartTransactionBody(req *psp.CreateTransactionRequest) map[string]interface{} {
	return map[string]interface{}{
		"is_demo": c.conf.IsDemo(),
		"contract": map[string]interface{}{
			"id": c.conf.ContractId,
		},
		"intent": "sale",
		"basket": map[string]interface{}{
			"products": []map[string]interface{}{
				{
					"id":       1,
					"desc":     fmt.Sprintf("Order %s", req.OrderRef),
					"priceOne": req.Amount,
					"quantity": 1,
					"tax":      0,
				},
			},
		},
		"merchantRef":    req.OrderRef,
		"transactionRef": req.OrderRef,
		"basket_info": map[string]interface{}{
			"sum":      req.Amount,
			"currency": req.Currency.Symbol(),
		},
		"application_context": map[string]interface{}{
			"checkout_template": c.conf.CheckoutTemplate,
			"return_urls": map[string]interface{}{
				"url_success": req.ReturnURL,
				"url_error":   req.ReturnURL,
				"url_abort":   req.ReturnURL,
				"url_push":    req.WebhookURL,
			},
		},
		"payment_context": map[string]interface{}{
			"auto_capture": true,
		},
	}
}

func (c *client) getAuthToken(ctx context.Context) (string, error) {
	if cached, ok := c.tokenCache.Retrieve(authTokenCacheKey); ok {
		return cached.(string), nil
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.conf.ClientId,
		"client_secret": c.conf.ClientSecret,
	})
	if err != nil {
		return "", errors.Wrap(err, "error marshalling token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "error creating token request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(psp.ErrTransient, "error fetching auth token: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return "", errors.Wrap(psp.ErrAuth, "token request denied")
	} else if httpResp.StatusCode >= http.StatusInternalServerError {
		return "", errors.Wrapf(psp.ErrTransient, "%d status code fetching auth token", httpResp.StatusCode)
	} else if httpResp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(psp.ErrAuth, "%d status code fetching auth token", httpResp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&tokenResp); err != nil {
		return "", errors.Wrapf(psp.ErrTransient, "error decoding token response: %v", err)
	}
	if len(tokenResp.AccessToken) == 0 {
		return "", errors.Wrap(psp.ErrAuth, "empty access token")
	}

	ttl := time.Duration(tokenResp.ExpiresIn)*time.Second - authTokenExpirySlack
	if ttl > 0 {
		c.tokenCache.Insert(authTokenCacheKey, tokenResp.AccessToken, ttl)
	}

	return tokenResp.AccessToken, nil
}

func (c *client) submit(ctx context.Context, method, endpoint string, body interface{}, resp interface{}) (json.RawMessage, error) {
	token, err := c.getAuthToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		marshalled, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "error marshalling request body")
		}
		reqBody = bytes.NewReader(marshalled)
	}

	url := fmt.Sprintf("%s/api/%s", c.baseUrl, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "error creating request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(psp.ErrTransient, "error executing request: %v", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrapf(psp.ErrTransient, "error reading response body: %v", err)
	}

	switch {
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Wrapf(psp.ErrTransient, "%d status code returned", httpResp.StatusCode)
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		// Token may simply be stale, but treating auth failures as fatal is
		// the safer default and surfaces misconfigured credentials fast.
		c.tokenCache.Remove(authTokenCacheKey)
		return nil, errors.Wrapf(psp.ErrAuth, "%d status code returned", httpResp.StatusCode)
	case httpResp.StatusCode >= http.StatusBadRequest:
		return nil, newRejection(httpResp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, errors.Wrapf(psp.ErrTransient, "error decoding response: %v", err)
	}

	return raw, nil
}

func newRejection(statusCode int, raw []byte) *psp.Rejection {
	var errResp struct {
		Error        string `json:"error"`
		ErrorDetails string `json:"error_details"`
		Code         string `json:"code"`
	}
	_ = json.Unmarshal(raw, &errResp)

	return &psp.Rejection{
		StatusCode: statusCode,
		Code:       errResp.Code,
		Message:    errResp.ErrorDetails,
	}
}

type smartTransaction struct {
	Id                  string               `json:"id"`
	Status              string               `json:"status"`
	PaymentLinks        map[string]string    `json:"payment_links"`
	PaymentInstructions *paymentInstructions `json:"payment_instructions"`
	PaymentTransaction  *paymentTransaction  `json:"payment_transaction"`
}

type paymentInstructions struct {
	AccountOwner string `json:"account_owner"`
	IBAN         string `json:"iban"`
	BIC          string `json:"bic"`
	BankName     string `json:"bank_name"`
	Purpose      string `json:"purpose"`
}

type paymentTransaction struct {
	Id      string `json:"id"`
	Details struct {
		StatusSimple int `json:"status_simple"`
	} `json:"details"`
}

func (t *paymentTransaction) statusSimple() psp.Status {
	return psp.StatusFromCode(t.Details.StatusSimple)
}

type cancelResponse struct {
	Transactions []*paymentTransaction `json:"transactions"`
}

func (t *smartTransaction) toTransaction(method psp.Method, raw json.RawMessage) *psp.Transaction {
	res := &psp.Transaction{
		PspTransactionId: t.Id,
		Status:           t.status(),
		Raw:              raw,
	}

	if len(method) > 0 {
		res.RedirectURL = t.PaymentLinks[string(method)]
	}

	if t.PaymentInstructions != nil {
		res.Instructions = &psp.PaymentInstructions{
			AccountOwner: t.PaymentInstructions.AccountOwner,
			IBAN:         t.PaymentInstructions.IBAN,
			BIC:          t.PaymentInstructions.BIC,
			BankName:     t.PaymentInstructions.BankName,
			Purpose:      t.PaymentInstructions.Purpose,
		}
	}

	return res
}

// status prefers the payment transaction's simple status code, falling back
// to the smart transaction's status string for transactions that haven't
// produced a payment transaction yet.
func (t *smartTransaction) status() psp.Status {
	if t.PaymentTransaction != nil {
		return t.PaymentTransaction.statusSimple()
	}

	switch t.Status {
	case "created":
		return psp.StatusCreated
	case "pending":
		return psp.StatusPending
	case "approved", "collected":
		return psp.StatusAccepted
	case "aborted", "failed", "denied":
		return psp.StatusDenied
	case "ok":
		return psp.StatusProceed
	}
	return psp.StatusUnknown
}
