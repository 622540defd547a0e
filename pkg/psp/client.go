package psp

import (
	"context"
	"encoding/json"

	"github.com/eventtix/psp-server/pkg/currency"
)

// Status is the PSP's simple payment transaction status vocabulary.
type Status uint8

const (
	StatusProceed Status = iota
	StatusAccepted
	StatusAuthorized
	StatusDenied
	StatusIssue
	StatusVoid
	StatusIssueResolved
	StatusRefund
	StatusCreated
	StatusPaid
	StatusPending
	StatusSubscriptionApproved
	StatusSubscriptionDeclined
	StatusOnHold
	StatusWaitingForShipment

	StatusUnknown Status = 255
)

// StatusFromCode maps the PSP's numeric status code onto a Status. Codes
// outside the known vocabulary yield StatusUnknown, which downstream state
// mapping treats as an invalid transition rather than guessing.
func StatusFromCode(code int) Status {
	if code >= 0 && code <= int(StatusWaitingForShipment) {
		return Status(code)
	}
	return StatusUnknown
}

func (s Status) String() string {
	switch s {
	case StatusProceed:
		return "proceed"
	case StatusAccepted:
		return "accepted"
	case StatusAuthorized:
		return "authorized"
	case StatusDenied:
		return "denied"
	case StatusIssue:
		return "issue"
	case StatusVoid:
		return "void"
	case StatusIssueResolved:
		return "issue_resolved"
	case StatusRefund:
		return "refund"
	case StatusCreated:
		return "created"
	case StatusPaid:
		return "paid"
	case StatusPending:
		return "pending"
	case StatusSubscriptionApproved:
		return "subscription_approved"
	case StatusSubscriptionDeclined:
		return "subscription_declined"
	case StatusOnHold:
		return "on_hold"
	case StatusWaitingForShipment:
		return "waiting_for_shipment"
	}
	return "unknown"
}

// Method is a payment method supported through the PSP.
type Method string

const (
	MethodCreditCard  Method = "creditcard"
	MethodDirectDebit Method = "debit"
	MethodPrepaid     Method = "prepaid"
	MethodSofort      Method = "sofort"
	MethodPaypal      Method = "paypal"
	MethodInvoice     Method = "invoice"
	MethodGiropay     Method = "giropay"
	MethodEps         Method = "eps"
)

// PaymentInstructions are the bank transfer details shown to the user for
// prepayment style methods.
type PaymentInstructions struct {
	AccountOwner string `json:"account_owner"`
	IBAN         string `json:"iban"`
	BIC          string `json:"bic"`
	BankName     string `json:"bank_name"`
	Purpose      string `json:"purpose"`
}

// CreateTransactionRequest describes a new remote transaction for an order.
// Amount is in the currency's minor units.
type CreateTransactionRequest struct {
	OrderRef   string
	Amount     uint64
	Currency   currency.Code
	Method     Method
	ReturnURL  string
	WebhookURL string
}

// Transaction is the PSP view of a remote transaction.
type Transaction struct {
	PspTransactionId string
	Status           Status
	RedirectURL      string
	Instructions     *PaymentInstructions

	// Raw is the PSP's full response payload, persisted verbatim as the
	// payment record's provider payload.
	Raw json.RawMessage
}

// RefundResult is the PSP's response to a refund submission.
type RefundResult struct {
	PspRefundId string
	Status      Status
	Raw         json.RawMessage
}

// Client is a thin authenticated client for the PSP API. Implementations
// must bound every call with a request timeout and must not retry
// internally; retry policy belongs to the reconciliation engine.
type Client interface {
	// CreateTransaction creates a remote transaction for an order.
	CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*Transaction, error)

	// FetchStatus fetches the authoritative status of a remote transaction.
	FetchStatus(ctx context.Context, pspTransactionId string) (*Transaction, error)

	// CreateRefund submits a (possibly partial) refund against a captured
	// transaction. Amount is in minor units.
	CreateRefund(ctx context.Context, pspTransactionId string, amount uint64) (*RefundResult, error)

	// Cancel aborts a transaction that has not been captured yet.
	Cancel(ctx context.Context, pspTransactionId string) (Status, error)
}
