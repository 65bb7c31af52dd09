package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/common/currency"
	paymentDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/subscription-billing/internal/core/events"
	"github.com/frahmantamala/subscription-billing/internal/moyasar"
)

// RefundPayment refunds a charge fully or partially. Omitting the amount
// refunds whatever is still refundable. Partial refunds accumulate; a payment
// stays refundable until the running total reaches the original amount.
func (s *Service) RefundPayment(ctx context.Context, gatewayPaymentID string, req *RefundPaymentRequest) (*RefundResult, error) {
	if gatewayPaymentID == "" {
		return nil, errors.NewValidationError("gateway payment id is required", errors.ErrCodeInvalidRequest)
	}
	if req == nil {
		req = &RefundPaymentRequest{}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	record, err := s.repo.GetByGatewayID(gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	if !record.Status.IsRefundable() {
		s.logger.Warn("refund rejected: payment not in refundable state",
			"payment_id", record.PublicID,
			"status", record.Status)
		return nil, errors.ErrInvalidPaymentState
	}
	if record.FullyRefunded() {
		return nil, errors.ErrAlreadyRefunded
	}

	remaining := record.RemainingRefundable()
	refundAmount := remaining
	if req.Amount != nil {
		refundAmount = *req.Amount
		if refundAmount.GreaterThan(remaining) {
			s.logger.Warn("refund rejected: amount exceeds refundable balance",
				"payment_id", record.PublicID,
				"requested", refundAmount.StringFixed(2),
				"remaining", remaining.StringFixed(2))
			return nil, errors.ErrRefundExceedsBalance
		}
	}

	gatewayReq := moyasar.RefundRequest{Description: req.Description}
	if req.Amount != nil {
		minor, err := currency.ToMinorUnit(refundAmount)
		if err != nil {
			return nil, err
		}
		gatewayReq.Amount = minor
	}

	gatewayPayment, err := s.gateway.CreateRefund(ctx, gatewayPaymentID, gatewayReq)
	if err != nil {
		s.logger.Error("gateway refund failed",
			"payment_id", record.PublicID,
			"gateway_payment_id", gatewayPaymentID,
			"error", err)
		return nil, err
	}

	now := time.Now().UTC()
	updated, err := s.repo.ProcessRefund(record.ID, &refundAmount, paymentDatamodel.Metadata{
		GatewayResponse: gatewayPayment.Raw,
		Refunds: []paymentDatamodel.RefundDetails{{
			GatewayRefundID: gatewayPayment.ID,
			Amount:          refundAmount,
			Description:     req.Description,
			RefundedAt:      now,
			GatewayResponse: gatewayPayment.Raw,
		}},
	})
	if err != nil {
		// The gateway already moved the money; surface loudly so the local
		// record can be repaired by hand.
		s.logger.Error("gateway refund succeeded but local update failed",
			"payment_id", record.PublicID,
			"gateway_payment_id", gatewayPaymentID,
			"refund_amount", refundAmount.StringFixed(2),
			"error", err)
		return nil, err
	}

	s.logger.Info("payment refunded",
		"payment_id", updated.PublicID,
		"refund_amount", refundAmount.StringFixed(2),
		"refunded_total", updated.RefundedTotal().StringFixed(2),
		"status", updated.Status)

	s.publish(ctx, events.NewPaymentRefundedEvent(
		updated.PublicID,
		gatewayPaymentID,
		refundAmount.StringFixed(2),
		updated.RefundedTotal().StringFixed(2),
		updated.Currency,
	))

	return &RefundResult{
		Success:        true,
		Payment:        updated,
		GatewayPayment: gatewayPayment,
		RefundedAmount: refundAmount,
	}, nil
}

// refundableBalance is a small helper for handlers that want to show the
// remaining refundable amount without running a refund.
func refundableBalance(p *paymentDatamodel.Payment) decimal.Decimal {
	if !p.Status.IsRefundable() {
		return decimal.Zero
	}
	return p.RemainingRefundable()
}
