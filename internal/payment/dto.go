package payment

import (
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/common/validation"
	paymentDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
)

const (
	SourceTypeCreditCard = "creditcard"
	SourceTypeApplePay   = "applepay"
	SourceTypeSTCPay     = "stcpay"

	PaymentMethodCard     = "card"
	PaymentMethodApplePay = "apple_pay"
	PaymentMethodSTCPay   = "stc_pay"
)

// SourceRequest is the payment instrument supplied by the caller for a
// one-time charge.
type SourceRequest struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	CVC    string `json:"cvc,omitempty"`
	Month  string `json:"month,omitempty"`
	Year   string `json:"year,omitempty"`
	Token  string `json:"token,omitempty"`
}

// PaymentMethod maps the wire source type onto the stored payment method.
func (s *SourceRequest) PaymentMethod() string {
	switch s.Type {
	case SourceTypeApplePay:
		return PaymentMethodApplePay
	case SourceTypeSTCPay:
		return PaymentMethodSTCPay
	default:
		return PaymentMethodCard
	}
}

// CreatePaymentRequest is the request payload for a one-time charge.
type CreatePaymentRequest struct {
	BusinessID  int64           `json:"business_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Source      *SourceRequest  `json:"source"`
}

func (r *CreatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("business_id", r.BusinessID).Required()
	validator.Field("amount", r.Amount).Required().PositiveAmount()
	validator.Field("currency", r.Currency).Required().CurrencyCode()
	validator.Field("callback_url", r.CallbackURL).AbsoluteURL()

	if r.Source == nil {
		validator.Field("source", "").Required()
	} else {
		validator.Field("source.type", r.Source.Type).
			Required().
			OneOf(SourceTypeCreditCard, SourceTypeApplePay, SourceTypeSTCPay)
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CreateTokenizedPaymentRequest is the request payload for a recurring charge
// against a stored subscription token.
type CreateTokenizedPaymentRequest struct {
	BusinessID     int64           `json:"business_id"`
	SubscriptionID int64           `json:"subscription_id"`
	Token          string          `json:"token"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description,omitempty"`
	CallbackURL    string          `json:"callback_url,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
}

func (r *CreateTokenizedPaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("business_id", r.BusinessID).Required()
	validator.Field("subscription_id", r.SubscriptionID).Required()
	validator.Field("token", r.Token).Required()
	validator.Field("amount", r.Amount).Required().PositiveAmount()
	validator.Field("currency", r.Currency).Required().CurrencyCode()
	validator.Field("callback_url", r.CallbackURL).AbsoluteURL()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// RefundPaymentRequest is the request payload for a refund. A nil Amount
// requests a full refund of the remaining balance.
type RefundPaymentRequest struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Description string           `json:"description,omitempty"`
}

func (r *RefundPaymentRequest) Validate() error {
	if r.Amount != nil && !r.Amount.IsPositive() {
		return errors.NewValidationFieldError("amount", "refund amount must be greater than zero", errors.ErrCodeInvalidAmount)
	}
	return nil
}

// PaymentResponse is the caller-facing view of a payment record. Amounts are
// decimal strings; the internal row id never leaves the service.
type PaymentResponse struct {
	PublicID         string     `json:"id"`
	GatewayPaymentID *string    `json:"gateway_payment_id,omitempty"`
	BusinessID       int64      `json:"business_id"`
	SubscriptionID   *int64     `json:"subscription_id,omitempty"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	RefundAmount     *string    `json:"refund_amount,omitempty"`
	Status           string     `json:"status"`
	PaymentMethod    *string    `json:"payment_method,omitempty"`
	PaymentDate      *time.Time `json:"payment_date,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
	RetryCount       int        `json:"retry_count"`
	CreatedAt        time.Time  `json:"created_at"`
}

func ToPaymentResponse(p *paymentDatamodel.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}

	resp := &PaymentResponse{
		PublicID:         p.PublicID,
		GatewayPaymentID: p.MoyasarPaymentID,
		BusinessID:       p.BusinessID,
		SubscriptionID:   p.SubscriptionID,
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		Status:           string(p.Status),
		PaymentMethod:    p.PaymentMethod,
		PaymentDate:      p.PaymentDate,
		FailureReason:    p.FailureReason,
		RefundedAt:       p.RefundedAt,
		RetryCount:       p.RetryCount,
		CreatedAt:        p.CreatedAt,
	}

	if p.RefundAmount != nil {
		refunded := p.RefundAmount.StringFixed(2)
		resp.RefundAmount = &refunded
	}

	return resp
}

// ChargeResponse is the wire shape for charge creation and retry.
type ChargeResponse struct {
	Payment              *PaymentResponse `json:"payment"`
	RequiresVerification bool             `json:"requires_verification"`
	RedirectURL          string           `json:"redirect_url,omitempty"`
	FailureMessage       string           `json:"failure_message,omitempty"`
}

func ToChargeResponse(result *ChargeResult) *ChargeResponse {
	if result == nil {
		return nil
	}
	return &ChargeResponse{
		Payment:              ToPaymentResponse(result.Payment),
		RequiresVerification: result.RequiresVerification,
		RedirectURL:          result.RedirectURL,
		FailureMessage:       result.FailureMessage,
	}
}

// VerificationResponse is the wire shape for verification outcomes.
type VerificationResponse struct {
	Verified      bool             `json:"verified"`
	GatewayStatus string           `json:"gateway_status,omitempty"`
	Issues        []string         `json:"issues,omitempty"`
	NeedsReview   bool             `json:"needs_review"`
	Payment       *PaymentResponse `json:"payment,omitempty"`
}

func ToVerificationResponse(result *VerificationResult) *VerificationResponse {
	if result == nil {
		return nil
	}
	resp := &VerificationResponse{
		Verified: result.Verified,
		Issues:   result.Issues,
		Payment:  ToPaymentResponse(result.Payment),
	}
	if result.GatewayPayment != nil {
		resp.GatewayStatus = result.GatewayPayment.Status.Raw
	}
	if result.Details != nil {
		resp.NeedsReview = result.Details.NeedsReview
	}
	return resp
}

// RefundResponse is the wire shape for refund outcomes.
type RefundResponse struct {
	Payment             *PaymentResponse `json:"payment"`
	RefundedAmount      string           `json:"refunded_amount"`
	RefundedTotal       string           `json:"refunded_total"`
	RemainingRefundable string           `json:"remaining_refundable"`
}

func ToRefundResponse(result *RefundResult) *RefundResponse {
	if result == nil {
		return nil
	}
	resp := &RefundResponse{
		Payment:        ToPaymentResponse(result.Payment),
		RefundedAmount: result.RefundedAmount.StringFixed(2),
	}
	if result.Payment != nil {
		resp.RefundedTotal = result.Payment.RefundedTotal().StringFixed(2)
		resp.RemainingRefundable = refundableBalance(result.Payment).StringFixed(2)
	}
	return resp
}
