package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentPaid           = "payment.paid"
	EventTypePaymentFailed         = "payment.failed"
	EventTypePaymentRefunded       = "payment.refunded"
	EventTypePaymentReviewRequired = "payment.review_required"
	EventTypeTokenMismatch         = "payment.token_mismatch"
)

type PaymentPaidEvent struct {
	BaseEvent
	PaymentID        string `json:"payment_id"`
	BusinessID       int64  `json:"business_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
}

func NewPaymentPaidEvent(paymentID string, businessID int64, gatewayPaymentID, amount, currency string) *PaymentPaidEvent {
	return &PaymentPaidEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentPaid,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":         paymentID,
				"business_id":        businessID,
				"gateway_payment_id": gatewayPaymentID,
				"amount":             amount,
				"currency":           currency,
			},
		},
		PaymentID:        paymentID,
		BusinessID:       businessID,
		GatewayPaymentID: gatewayPaymentID,
		Amount:           amount,
		Currency:         currency,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID     string `json:"payment_id"`
	BusinessID    int64  `json:"business_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failure_reason"`
	RetryCount    int    `json:"retry_count"`
}

func NewPaymentFailedEvent(paymentID string, businessID int64, amount, currency, failureReason string, retryCount int) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":     paymentID,
				"business_id":    businessID,
				"amount":         amount,
				"currency":       currency,
				"failure_reason": failureReason,
				"retry_count":    retryCount,
			},
		},
		PaymentID:     paymentID,
		BusinessID:    businessID,
		Amount:        amount,
		Currency:      currency,
		FailureReason: failureReason,
		RetryCount:    retryCount,
	}
}

type PaymentRefundedEvent struct {
	BaseEvent
	PaymentID        string `json:"payment_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	RefundAmount     string `json:"refund_amount"`
	RefundedTotal    string `json:"refunded_total"`
	Currency         string `json:"currency"`
}

func NewPaymentRefundedEvent(paymentID, gatewayPaymentID, refundAmount, refundedTotal, currency string) *PaymentRefundedEvent {
	return &PaymentRefundedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRefunded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":         paymentID,
				"gateway_payment_id": gatewayPaymentID,
				"refund_amount":      refundAmount,
				"refunded_total":     refundedTotal,
				"currency":           currency,
			},
		},
		PaymentID:        paymentID,
		GatewayPaymentID: gatewayPaymentID,
		RefundAmount:     refundAmount,
		RefundedTotal:    refundedTotal,
		Currency:         currency,
	}
}

// PaymentReviewRequiredEvent fires when the gateway reports a charge as paid
// but reconciliation found mismatches. Money moved while local expectations
// disagree, so an operator has to look at it; it is never auto-resolved.
type PaymentReviewRequiredEvent struct {
	BaseEvent
	PaymentID        string   `json:"payment_id"`
	GatewayPaymentID string   `json:"gateway_payment_id"`
	GatewayStatus    string   `json:"gateway_status"`
	Issues           []string `json:"issues"`
}

func NewPaymentReviewRequiredEvent(paymentID, gatewayPaymentID, gatewayStatus string, issues []string) *PaymentReviewRequiredEvent {
	return &PaymentReviewRequiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentReviewRequired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":         paymentID,
				"gateway_payment_id": gatewayPaymentID,
				"gateway_status":     gatewayStatus,
				"issues":             issues,
			},
		},
		PaymentID:        paymentID,
		GatewayPaymentID: gatewayPaymentID,
		GatewayStatus:    gatewayStatus,
		Issues:           issues,
	}
}

type TokenMismatchEvent struct {
	BaseEvent
	SubscriptionID int64 `json:"subscription_id"`
	BusinessID     int64 `json:"business_id"`
}

func NewTokenMismatchEvent(subscriptionID, businessID int64) *TokenMismatchEvent {
	return &TokenMismatchEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeTokenMismatch,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"subscription_id": subscriptionID,
				"business_id":     businessID,
			},
		},
		SubscriptionID: subscriptionID,
		BusinessID:     businessID,
	}
}
