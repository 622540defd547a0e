package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/eventtix/psp-server/pkg/currency"
	"github.com/eventtix/psp-server/pkg/psp"
)

var (
	// ErrBadSignature indicates the payload signature doesn't match. The
	// notification must be rejected without inspecting its contents.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrMalformedPayload indicates the payload is structurally invalid
	// and will never decode, so redelivery is pointless.
	ErrMalformedPayload = errors.New("webhook payload is malformed")
)

// NotificationEvent is a single decoded PSP push notification. Decoding is
// purely syntactic, so an event carrying an unknown status still decodes
// and is rejected later by the state mapper.
type NotificationEvent struct {
	PspTransactionId string
	Status           psp.Status

	Amount   uint64
	Currency currency.Code

	// Set when the notification is about a compensating transaction rather
	// than the payment itself.
	IsRefund    bool
	PspRefundId *string

	// Bank transfer details, present on prepayment notifications
	Instructions []byte

	// Monotonic ordering token for dropping stale deliveries. Derived from
	// the PSP's event timestamp when present, otherwise from the local
	// receive time.
	SequenceHint uint64

	RawPayload []byte
	ReceivedAt time.Time
}

type pushEvent struct {
	Object  string          `json:"object"`
	Id      string          `json:"id"`
	Created int64           `json:"created"`
	Target  string          `json:"target"`
	Type    string          `json:"type"`
	Data    []pushEventData `json:"data"`
}

type pushEventData struct {
	Object              string          `json:"object"`
	Id                  string          `json:"id"`
	StatusSimple        *int            `json:"status_simple"`
	Amount              uint64          `json:"amount"`
	Currency            string          `json:"currency"`
	ParentTransactionId string          `json:"parent_transaction_id"`
	Instructions        json.RawMessage `json:"payment_instructions"`
}

// Verifier authenticates and decodes PSP push notifications.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: secret,
	}
}

// Sign computes the hex encoded HMAC-SHA256 signature for a payload.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAndDecode authenticates a raw notification payload against its
// signature and decodes it into a NotificationEvent.
//
// Returns ErrBadSignature before anything else when the signature doesn't
// match, and ErrMalformedPayload when the authenticated payload cannot be
// decoded.
func (v *Verifier) VerifyAndDecode(signature string, payload []byte, receivedAt time.Time) (*NotificationEvent, error) {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return nil, ErrBadSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return nil, ErrBadSignature
	}

	var event pushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrMalformedPayload
	}

	if len(event.Data) == 0 {
		return nil, ErrMalformedPayload
	}

	data := event.Data[0]
	if len(data.Id) == 0 {
		return nil, ErrMalformedPayload
	}
	if data.StatusSimple == nil {
		return nil, ErrMalformedPayload
	}

	// Unrecognized codes still decode; deciding what to do with them is the
	// engine's job, not the decoder's.
	status := psp.StatusFromCode(*data.StatusSimple)

	res := &NotificationEvent{
		PspTransactionId: data.Id,
		Status:           status,

		Amount:   data.Amount,
		Currency: currency.Code(data.Currency),

		SequenceHint: uint64(receivedAt.UnixNano()),

		RawPayload: payload,
		ReceivedAt: receivedAt,
	}

	if len(data.Currency) > 0 {
		code, err := currency.NewCode(data.Currency)
		if err != nil {
			return nil, ErrMalformedPayload
		}
		res.Currency = code
	}

	if event.Created > 0 {
		res.SequenceHint = uint64(time.Unix(event.Created, 0).UnixNano())
	}

	if len(data.ParentTransactionId) > 0 {
		res.IsRefund = true
		res.PspRefundId = &data.Id
		res.PspTransactionId = data.ParentTransactionId
	}

	if len(data.Instructions) > 0 {
		res.Instructions = data.Instructions
	}

	return res, nil
}
