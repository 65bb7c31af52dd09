package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	errors "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/common/currency"
	paymentDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/subscription-billing/internal/core/events"
	"github.com/frahmantamala/subscription-billing/internal/moyasar"
)

const issueRecordNotFound = "Payment record not found in database"

// GetVerificationResult reconciles the live gateway charge against the local
// record without changing payment state. All three checks always run;
// mismatches accumulate as issues instead of short-circuiting. The only write
// is the gateway-id backfill when the record was found through the session
// fallback.
func (s *Service) GetVerificationResult(ctx context.Context, gatewayPaymentID string) (*VerificationResult, error) {
	if gatewayPaymentID == "" {
		return nil, errors.NewValidationError("gateway payment id is required", errors.ErrCodeInvalidRequest)
	}

	gatewayPayment, err := s.gateway.FetchCharge(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	record, err := s.lookupRecord(gatewayPayment)
	if err != nil {
		return nil, err
	}

	if record == nil {
		s.logger.Warn("no local record for gateway charge",
			"gateway_payment_id", gatewayPayment.ID)
		return &VerificationResult{
			Verified:       false,
			GatewayPayment: gatewayPayment,
			Issues:         []string{issueRecordNotFound},
		}, nil
	}

	details := s.reconcile(record, gatewayPayment)

	if details.NeedsReview {
		s.logger.Error("gateway reports charge paid but reconciliation found issues, manual review required",
			"payment_id", record.PublicID,
			"gateway_payment_id", gatewayPayment.ID,
			"issues", strings.Join(details.Issues, "; "))
	}

	return &VerificationResult{
		Verified:       details.StatusMatch && len(details.Issues) == 0,
		Payment:        record,
		GatewayPayment: gatewayPayment,
		Issues:         details.Issues,
		Details:        details,
	}, nil
}

// lookupRecord finds the local payment for a gateway charge: first by the
// stored gateway id, then by the session identifier the charge metadata
// carries. A fallback hit backfills the gateway id so the next lookup is
// direct. Returns nil without error when no record exists.
func (s *Service) lookupRecord(gatewayPayment *moyasar.Payment) (*paymentDatamodel.Payment, error) {
	record, err := s.repo.GetByGatewayID(gatewayPayment.ID)
	if err == nil {
		return record, nil
	}
	if !errors.HasCode(err, errors.ErrCodePaymentNotFound) {
		return nil, err
	}

	sessionID := gatewayPayment.SessionID()
	if sessionID == "" {
		return nil, nil
	}

	record, err = s.repo.GetBySessionID(sessionID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodePaymentNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.logger.Info("found payment via session fallback, backfilling gateway id",
		"payment_id", record.PublicID,
		"session_id", sessionID,
		"gateway_payment_id", gatewayPayment.ID)

	if err := s.repo.SetGatewayPaymentID(record.ID, gatewayPayment.ID); err != nil {
		s.logger.Error("failed to backfill gateway payment id",
			"payment_id", record.PublicID,
			"error", err)
		return nil, err
	}
	record.MoyasarPaymentID = &gatewayPayment.ID

	return record, nil
}

// reconcile runs the three independent checks: status, amount within
// tolerance, currency.
func (s *Service) reconcile(record *paymentDatamodel.Payment, gatewayPayment *moyasar.Payment) *paymentDatamodel.VerificationDetails {
	var issues []string

	statusMatch := gatewayPayment.Status.Kind == moyasar.StatusPaid
	if !statusMatch {
		issues = append(issues, fmt.Sprintf("Payment status is %q, expected \"paid\"", gatewayPayment.Status.Raw))
	}

	amountMatch := false
	gatewayAmountStr := ""
	gatewayAmount, err := currency.ToMajorUnit(gatewayPayment.Amount)
	if err != nil {
		issues = append(issues, fmt.Sprintf("Gateway reported an invalid amount: %d", gatewayPayment.Amount))
	} else {
		gatewayAmountStr = gatewayAmount.StringFixed(2)
		diff := record.Amount.Sub(gatewayAmount).Abs()
		amountMatch = diff.LessThanOrEqual(AmountTolerance)
		if !amountMatch {
			issues = append(issues, fmt.Sprintf("Amount mismatch: expected %s, gateway reports %s",
				record.Amount.StringFixed(2), gatewayAmountStr))
		}
	}

	currencyMatch := gatewayPayment.Currency == record.Currency
	if !currencyMatch {
		issues = append(issues, fmt.Sprintf("Currency mismatch: expected %s, gateway reports %s",
			record.Currency, gatewayPayment.Currency))
	}

	return &paymentDatamodel.VerificationDetails{
		GatewayStatus:    gatewayPayment.Status.Raw,
		StatusMatch:      statusMatch,
		AmountMatch:      amountMatch,
		CurrencyMatch:    currencyMatch,
		ExpectedAmount:   record.Amount.StringFixed(2),
		GatewayAmount:    gatewayAmountStr,
		ExpectedCurrency: record.Currency,
		GatewayCurrency:  gatewayPayment.Currency,
		Issues:           issues,
		NeedsReview:      statusMatch && len(issues) > 0,
		VerifiedAt:       time.Now().UTC(),
	}
}

// VerifyPayment reconciles and then applies the outcome to the local record:
// verified charges are marked paid, gateway-failed charges are marked failed,
// and everything ambiguous is returned untouched. The paid-with-issues case
// is never auto-resolved; it raises an operator alert instead.
func (s *Service) VerifyPayment(ctx context.Context, gatewayPaymentID string) (*VerificationResult, error) {
	result, err := s.GetVerificationResult(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if result.Payment == nil {
		return result, nil
	}

	record := result.Payment
	gatewayPayment := result.GatewayPayment

	switch {
	case result.Verified:
		// Re-verification of an already-paid record is a no-op; payment_date
		// and gateway id are already in place.
		if record.Status == paymentDatamodel.StatusPaid {
			return result, nil
		}

		paid, err := s.repo.MarkPaid(record.ID, nil, paymentDatamodel.Metadata{
			Verification:    result.Details,
			GatewayResponse: gatewayPayment.Raw,
		})
		if err != nil {
			s.logger.Error("failed to mark verified payment paid",
				"payment_id", record.PublicID,
				"error", err)
			return nil, err
		}
		result.Payment = paid
		s.publishPaid(ctx, paid)
		return result, nil

	case gatewayPayment.Status.Kind == moyasar.StatusFailed:
		reason := gatewayPayment.FailureMessage()
		if reason == "" {
			reason = "payment failed at gateway"
		}
		if len(result.Issues) > 0 {
			reason = fmt.Sprintf("%s (%s)", reason, strings.Join(result.Issues, "; "))
		}

		failed, err := s.repo.MarkFailed(record.ID, &reason, paymentDatamodel.Metadata{
			Verification:    result.Details,
			GatewayResponse: gatewayPayment.Raw,
		})
		if err != nil {
			s.logger.Error("failed to mark payment failed after verification",
				"payment_id", record.PublicID,
				"error", err)
			return nil, err
		}
		result.Payment = failed
		s.publishFailed(ctx, failed)
		return result, nil

	default:
		if result.Details != nil && result.Details.NeedsReview {
			s.publish(ctx, events.NewPaymentReviewRequiredEvent(
				record.PublicID, gatewayPayment.ID, gatewayPayment.Status.Raw, result.Issues))
		}
		return result, nil
	}
}
