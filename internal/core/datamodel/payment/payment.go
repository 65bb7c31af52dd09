package payment

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// refunded -> refunded allows further partial refunds until the
// refundable balance is exhausted.
var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusPaid, StatusFailed, StatusCancelled},
	StatusFailed:   {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:     {StatusRefunded},
	StatusRefunded: {StatusRefunded},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRefunded || s == StatusCancelled
}

func (s Status) IsRefundable() bool {
	return s == StatusPaid || s == StatusRefunded
}

type Payment struct {
	ID               int64            `gorm:"primaryKey"`
	PublicID         string           `gorm:"column:public_id;not null;uniqueIndex"`
	MoyasarPaymentID *string          `gorm:"column:moyasar_payment_id;uniqueIndex"`
	BusinessID       int64            `gorm:"column:business_id;not null"`
	SubscriptionID   *int64           `gorm:"column:subscription_id"`
	Amount           decimal.Decimal  `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency         string           `gorm:"column:currency;type:varchar(3);not null"`
	RefundAmount     *decimal.Decimal `gorm:"column:refund_amount;type:numeric(14,2)"`
	Status           Status           `gorm:"column:status;default:pending"`
	PaymentMethod    *string          `gorm:"column:payment_method"`
	SessionID        *string          `gorm:"column:session_id;index"`
	PaymentDate      *time.Time       `gorm:"column:payment_date"`
	FailureReason    *string          `gorm:"column:failure_reason"`
	RefundedAt       *time.Time       `gorm:"column:refunded_at"`
	RetryCount       int              `gorm:"column:retry_count;default:0"`
	LastRetryAt      *time.Time       `gorm:"column:last_retry_at"`
	Metadata         Metadata         `gorm:"column:metadata;type:jsonb"`
	CreatedAt        time.Time        `gorm:"column:created_at;default:now()"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;default:now()"`
}

func (p *Payment) RefundedTotal() decimal.Decimal {
	if p.RefundAmount == nil {
		return decimal.Zero
	}
	return *p.RefundAmount
}

func (p *Payment) RemainingRefundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedTotal())
}

func (p *Payment) FullyRefunded() bool {
	return p.RefundedTotal().GreaterThanOrEqual(p.Amount)
}

type VerificationDetails struct {
	GatewayStatus    string    `json:"gateway_status,omitempty"`
	StatusMatch      bool      `json:"status_match"`
	AmountMatch      bool      `json:"amount_match"`
	CurrencyMatch    bool      `json:"currency_match"`
	ExpectedAmount   string    `json:"expected_amount,omitempty"`
	GatewayAmount    string    `json:"gateway_amount,omitempty"`
	ExpectedCurrency string    `json:"expected_currency,omitempty"`
	GatewayCurrency  string    `json:"gateway_currency,omitempty"`
	Issues           []string  `json:"issues,omitempty"`
	NeedsReview      bool      `json:"needs_review,omitempty"`
	VerifiedAt       time.Time `json:"verified_at"`
}

type RefundDetails struct {
	GatewayRefundID string          `json:"gateway_refund_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty"`
	RefundedAt      time.Time       `json:"refunded_at"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
}

// Metadata is the gateway correlation bag stored as jsonb. Known keys are
// typed fields; Extra keeps anything the gateway sends that we do not model.
type Metadata struct {
	IdempotencyKey  string                 `json:"idempotency_key,omitempty"`
	CallbackURL     string                 `json:"callback_url,omitempty"`
	SessionID       string                 `json:"session_id,omitempty"`
	GatewayResponse json.RawMessage        `json:"gateway_response,omitempty"`
	Verification    *VerificationDetails   `json:"verification,omitempty"`
	Refunds         []RefundDetails        `json:"refunds,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}

	if len(data) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Older checkout producers wrote the session key camel-cased; honor both.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	aux := struct {
		*plain
		SessionIDCamel string `json:"sessionId,omitempty"`
	}{plain: (*plain)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.SessionID == "" && aux.SessionIDCamel != "" {
		m.SessionID = aux.SessionIDCamel
	}
	return nil
}

// Merge overlays the non-empty fields of patch onto m. Refund entries append,
// Extra keys overwrite per key, everything else replaces only when set.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m

	if patch.IdempotencyKey != "" {
		out.IdempotencyKey = patch.IdempotencyKey
	}
	if patch.CallbackURL != "" {
		out.CallbackURL = patch.CallbackURL
	}
	if patch.SessionID != "" {
		out.SessionID = patch.SessionID
	}
	if len(patch.GatewayResponse) > 0 {
		out.GatewayResponse = patch.GatewayResponse
	}
	if patch.Verification != nil {
		out.Verification = patch.Verification
	}
	if len(patch.Refunds) > 0 {
		out.Refunds = append(append([]RefundDetails{}, m.Refunds...), patch.Refunds...)
	}
	if len(patch.Extra) > 0 {
		merged := make(map[string]interface{}, len(m.Extra)+len(patch.Extra))
		for k, v := range m.Extra {
			merged[k] = v
		}
		for k, v := range patch.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}

	return out
}
