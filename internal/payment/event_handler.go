package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/subscription-billing/internal/core/events"
)

// EventHandler turns payment lifecycle events into the operational audit
// trail. Review-required and token-mismatch events surface at error level so
// alerting picks them up; nothing here is ever resolved automatically.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{
		logger: logger,
	}
}

func (h *EventHandler) HandlePaymentPaid(ctx context.Context, event events.Event) error {
	paidEvent, ok := event.(*events.PaymentPaidEvent)
	if !ok {
		return fmt.Errorf("expected PaymentPaidEvent, got %T", event)
	}

	h.logger.Info("payment settled",
		"payment_id", paidEvent.PaymentID,
		"business_id", paidEvent.BusinessID,
		"gateway_payment_id", paidEvent.GatewayPaymentID,
		"amount", paidEvent.Amount,
		"currency", paidEvent.Currency,
		"event_id", paidEvent.EventID())

	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failedEvent, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Warn("payment failed",
		"payment_id", failedEvent.PaymentID,
		"business_id", failedEvent.BusinessID,
		"amount", failedEvent.Amount,
		"currency", failedEvent.Currency,
		"failure_reason", failedEvent.FailureReason,
		"retry_count", failedEvent.RetryCount,
		"event_id", failedEvent.EventID())

	return nil
}

func (h *EventHandler) HandlePaymentRefunded(ctx context.Context, event events.Event) error {
	refundEvent, ok := event.(*events.PaymentRefundedEvent)
	if !ok {
		return fmt.Errorf("expected PaymentRefundedEvent, got %T", event)
	}

	h.logger.Info("payment refunded",
		"payment_id", refundEvent.PaymentID,
		"gateway_payment_id", refundEvent.GatewayPaymentID,
		"refund_amount", refundEvent.RefundAmount,
		"refunded_total", refundEvent.RefundedTotal,
		"currency", refundEvent.Currency,
		"event_id", refundEvent.EventID())

	return nil
}

func (h *EventHandler) HandleReviewRequired(ctx context.Context, event events.Event) error {
	reviewEvent, ok := event.(*events.PaymentReviewRequiredEvent)
	if !ok {
		return fmt.Errorf("expected PaymentReviewRequiredEvent, got %T", event)
	}

	h.logger.Error("payment flagged for manual review",
		"payment_id", reviewEvent.PaymentID,
		"gateway_payment_id", reviewEvent.GatewayPaymentID,
		"gateway_status", reviewEvent.GatewayStatus,
		"issues", reviewEvent.Issues,
		"event_id", reviewEvent.EventID())

	return nil
}

func (h *EventHandler) HandleTokenMismatch(ctx context.Context, event events.Event) error {
	mismatchEvent, ok := event.(*events.TokenMismatchEvent)
	if !ok {
		return fmt.Errorf("expected TokenMismatchEvent, got %T", event)
	}

	h.logger.Error("stored token mismatch on tokenized charge",
		"subscription_id", mismatchEvent.SubscriptionID,
		"business_id", mismatchEvent.BusinessID,
		"event_id", mismatchEvent.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentPaid, h.HandlePaymentPaid)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)
	eventBus.Subscribe(events.EventTypePaymentRefunded, h.HandlePaymentRefunded)
	eventBus.Subscribe(events.EventTypePaymentReviewRequired, h.HandleReviewRequired)
	eventBus.Subscribe(events.EventTypeTokenMismatch, h.HandleTokenMismatch)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{
			events.EventTypePaymentPaid,
			events.EventTypePaymentFailed,
			events.EventTypePaymentRefunded,
			events.EventTypePaymentReviewRequired,
			events.EventTypeTokenMismatch,
		})
}
