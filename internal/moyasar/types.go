package moyasar

import (
	"encoding/json"
	"time"
)

// StatusKind enumerates the charge states this integration acts on. The
// gateway's status field is an open string set; anything we do not recognize
// maps to StatusUnknown and must be treated as non-terminal, never an error.
type StatusKind int

const (
	StatusUnknown StatusKind = iota
	StatusPaid
	StatusInitiated
	StatusFailed
	StatusAuthorized
)

// ChargeStatus keeps the raw gateway string alongside the parsed kind so
// unrecognized values survive logging and audit round-trips.
type ChargeStatus struct {
	Kind StatusKind
	Raw  string
}

func ParseChargeStatus(raw string) ChargeStatus {
	switch raw {
	case "paid":
		return ChargeStatus{Kind: StatusPaid, Raw: raw}
	case "initiated":
		return ChargeStatus{Kind: StatusInitiated, Raw: raw}
	case "failed":
		return ChargeStatus{Kind: StatusFailed, Raw: raw}
	case "authorized":
		return ChargeStatus{Kind: StatusAuthorized, Raw: raw}
	default:
		return ChargeStatus{Kind: StatusUnknown, Raw: raw}
	}
}

func (s ChargeStatus) String() string {
	return s.Raw
}

func (s *ChargeStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseChargeStatus(raw)
	return nil
}

func (s ChargeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Raw)
}

const (
	SourceTypeCreditCard = "creditcard"
	SourceTypeToken      = "token"
)

// Source is the payment instrument sent on charge creation. The gateway
// accepts either raw card data or a stored token; the Type field selects
// which of the remaining fields apply.
type Source struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	CVC    string `json:"cvc,omitempty"`
	Month  string `json:"month,omitempty"`
	Year   string `json:"year,omitempty"`
	Token  string `json:"token,omitempty"`
}

func NewCardSource(name, number, cvc, month, year string) Source {
	return Source{
		Type:   SourceTypeCreditCard,
		Name:   name,
		Number: number,
		CVC:    cvc,
		Month:  month,
		Year:   year,
	}
}

func NewTokenSource(token string) Source {
	return Source{
		Type:  SourceTypeToken,
		Token: token,
	}
}

// SourceDetails is what the gateway reports back about the instrument.
// Message carries the human-readable decline reason when status is failed.
type SourceDetails struct {
	Type            string `json:"type"`
	Company         string `json:"company,omitempty"`
	Name            string `json:"name,omitempty"`
	Number          string `json:"number,omitempty"`
	Message         string `json:"message,omitempty"`
	TransactionURL  string `json:"transaction_url,omitempty"`
	GatewayID       string `json:"gateway_id,omitempty"`
	ReferenceNumber string `json:"reference_number,omitempty"`
}

// Payment mirrors the gateway's payment object. Amounts are integral minor
// units (halalas for SAR). Raw keeps the undecoded response body for audit.
type Payment struct {
	ID          string                 `json:"id"`
	Status      ChargeStatus           `json:"status"`
	Amount      int64                  `json:"amount"`
	Fee         int64                  `json:"fee,omitempty"`
	Currency    string                 `json:"currency"`
	Refunded    int64                  `json:"refunded,omitempty"`
	RefundedAt  *time.Time             `json:"refunded_at,omitempty"`
	Description string                 `json:"description,omitempty"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Source      *SourceDetails         `json:"source,omitempty"`
	CreatedAt   *time.Time             `json:"created_at,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// SessionID reads the caller-assigned session identifier from the charge
// metadata. Older checkout producers wrote the key camel-cased, so both
// spellings are honored.
func (p *Payment) SessionID() string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata["session_id"].(string); ok && v != "" {
		return v
	}
	if v, ok := p.Metadata["sessionId"].(string); ok && v != "" {
		return v
	}
	return ""
}

// FailureMessage returns the gateway's human-readable decline reason, if any.
func (p *Payment) FailureMessage() string {
	if p.Source != nil && p.Source.Message != "" {
		return p.Source.Message
	}
	return ""
}

// CreateChargeRequest is the body for POST /payments. GivenID is the
// caller-generated idempotency key; the gateway deduplicates on it.
type CreateChargeRequest struct {
	GivenID     string                 `json:"given_id,omitempty"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency"`
	Description string                 `json:"description,omitempty"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Source      Source                 `json:"source"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RefundRequest is the body for POST /payments/{id}/refund. A zero Amount is
// omitted from the wire, which the gateway reads as a full refund of the
// remaining balance.
type RefundRequest struct {
	Amount      int64  `json:"amount,omitempty"`
	Description string `json:"description,omitempty"`
}
