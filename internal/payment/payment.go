package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	paymentDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/subscription-billing/internal/moyasar"
)

const (
	// MaxRetryAttempts is caller policy, not a store invariant: retries stop
	// once a payment has been attempted this many times.
	MaxRetryAttempts = 3

	publicIDPrefix = "pay_"
)

// AmountTolerance is the reconciliation slack between the stored amount and
// the gateway-reported amount: one minor unit of rounding. The boundary is
// inclusive, a difference of exactly 0.01 is accepted.
var AmountTolerance = decimal.New(1, -2)

func NewPublicID() string {
	return publicIDPrefix + uuid.NewString()
}

// NewIdempotencyKey mints the gateway deduplication key. One key per charge
// attempt; a retry of the same logical charge gets a fresh key.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// RepositoryAPI is the persistence boundary for payment records. The Mark*,
// IncrementRetry and ProcessRefund operations are atomic read-modify-writes
// serialized per record; each returns the updated record.
type RepositoryAPI interface {
	Create(p *paymentDatamodel.Payment) error
	GetByID(id int64) (*paymentDatamodel.Payment, error)
	GetByPublicID(publicID string) (*paymentDatamodel.Payment, error)
	GetByGatewayID(gatewayPaymentID string) (*paymentDatamodel.Payment, error)
	GetBySessionID(sessionID string) (*paymentDatamodel.Payment, error)
	GetBySubscriptionID(subscriptionID int64) ([]*paymentDatamodel.Payment, error)
	GetPendingOlderThan(cutoff time.Time, limit int) ([]*paymentDatamodel.Payment, error)
	UpdateGatewayState(id int64, gatewayPaymentID *string, patch paymentDatamodel.Metadata) error
	SetGatewayPaymentID(id int64, gatewayPaymentID string) error
	MarkPaid(id int64, gatewayPaymentID *string, patch paymentDatamodel.Metadata) (*paymentDatamodel.Payment, error)
	MarkFailed(id int64, reason *string, patch paymentDatamodel.Metadata) (*paymentDatamodel.Payment, error)
	MarkCancelled(id int64, reason *string) (*paymentDatamodel.Payment, error)
	IncrementRetry(id int64) (*paymentDatamodel.Payment, error)
	ProcessRefund(id int64, amount *decimal.Decimal, patch paymentDatamodel.Metadata) (*paymentDatamodel.Payment, error)
	WithTx(tx *gorm.DB) RepositoryAPI
}

// GatewayAPI is the outbound boundary to the payment processor.
type GatewayAPI interface {
	CreateCharge(ctx context.Context, req moyasar.CreateChargeRequest) (*moyasar.Payment, error)
	FetchCharge(ctx context.Context, chargeID string) (*moyasar.Payment, error)
	CreateRefund(ctx context.Context, chargeID string, req moyasar.RefundRequest) (*moyasar.Payment, error)
}

// TokenVerifierAPI checks a caller-supplied token against the stored one for
// a subscription before any tokenized charge goes out.
type TokenVerifierAPI interface {
	StoredToken(subscriptionID int64) (string, error)
	VerifyToken(subscriptionID int64, supplied string) error
}

// ChargeResult is the caller-facing outcome of a charge attempt. A gateway
// status of initiated means the payer still has to clear 3-D-Secure, so the
// record stays pending and RedirectURL carries the challenge page.
type ChargeResult struct {
	Success              bool                      `json:"success"`
	RequiresVerification bool                      `json:"requires_verification"`
	Payment              *paymentDatamodel.Payment `json:"payment,omitempty"`
	GatewayPayment       *moyasar.Payment          `json:"gateway_payment,omitempty"`
	RedirectURL          string                    `json:"redirect_url,omitempty"`
	FailureMessage       string                    `json:"failure_message,omitempty"`
}

// VerificationResult is the outcome of reconciling a gateway charge against
// the local record. Mismatches are data, not errors: they accumulate in
// Issues and the call still returns a result.
type VerificationResult struct {
	Verified       bool                                  `json:"verified"`
	Payment        *paymentDatamodel.Payment             `json:"payment,omitempty"`
	GatewayPayment *moyasar.Payment                      `json:"gateway_payment,omitempty"`
	Issues         []string                              `json:"issues,omitempty"`
	Details        *paymentDatamodel.VerificationDetails `json:"verification_details,omitempty"`
}

type RefundResult struct {
	Success        bool                      `json:"success"`
	Payment        *paymentDatamodel.Payment `json:"payment,omitempty"`
	GatewayPayment *moyasar.Payment          `json:"gateway_payment,omitempty"`
	RefundedAmount decimal.Decimal           `json:"refunded_amount"`
}

// CanRetry reports whether caller policy still allows another charge attempt.
func CanRetry(p *paymentDatamodel.Payment) bool {
	return p.Status == paymentDatamodel.StatusFailed && p.RetryCount < MaxRetryAttempts
}
