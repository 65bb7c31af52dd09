package payment

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	errors "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/common/currency"
	paymentDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/subscription-billing/internal/core/events"
	"github.com/frahmantamala/subscription-billing/internal/moyasar"
)

// Service drives charge creation, verification and refunds against the
// gateway and keeps the local payment records in step.
type Service struct {
	repo               RepositoryAPI
	gateway            GatewayAPI
	tokens             TokenVerifierAPI
	bus                *events.EventBus
	callbackTokens     *CallbackTokenManager
	defaultCallbackURL string
	logger             *slog.Logger
}

func NewService(
	repo RepositoryAPI,
	gateway GatewayAPI,
	tokens TokenVerifierAPI,
	bus *events.EventBus,
	callbackTokens *CallbackTokenManager,
	defaultCallbackURL string,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:               repo,
		gateway:            gateway,
		tokens:             tokens,
		bus:                bus,
		callbackTokens:     callbackTokens,
		defaultCallbackURL: defaultCallbackURL,
		logger:             logger,
	}
}

// CreatePayment runs a one-time charge: validate, create a pending record,
// charge the gateway with a fresh idempotency key, then apply the reported
// outcome. Gateway-side failures are never swallowed; they end up on the
// record and in the result.
func (s *Service) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*ChargeResult, error) {
	if err := req.Validate(); err != nil {
		s.logger.Error("payment request validation failed", "error", err)
		return nil, err
	}

	callbackURL, err := s.resolveCallbackURL(req.CallbackURL)
	if err != nil {
		return nil, err
	}

	source := moyasar.Source{
		Type:   req.Source.Type,
		Name:   req.Source.Name,
		Number: req.Source.Number,
		CVC:    req.Source.CVC,
		Month:  req.Source.Month,
		Year:   req.Source.Year,
		Token:  req.Source.Token,
	}

	return s.charge(ctx, s.repo, chargeIntent{
		businessID:    req.BusinessID,
		amount:        req.Amount,
		currency:      req.Currency,
		description:   req.Description,
		callbackURL:   callbackURL,
		sessionID:     req.SessionID,
		paymentMethod: req.Source.PaymentMethod(),
		source:        source,
	})
}

// CreateTokenizedPayment charges a stored subscription token. The supplied
// token must equal the stored one; a mismatch is fatal and alerts operators.
// A non-nil tx makes the record writes participate in the caller's
// transaction, e.g. a subscription renewal.
func (s *Service) CreateTokenizedPayment(ctx context.Context, req *CreateTokenizedPaymentRequest, tx *gorm.DB) (*ChargeResult, error) {
	if err := req.Validate(); err != nil {
		s.logger.Error("tokenized payment request validation failed", "error", err)
		return nil, err
	}

	callbackURL, err := s.resolveCallbackURL(req.CallbackURL)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.VerifyToken(req.SubscriptionID, req.Token); err != nil {
		if errors.HasCode(err, errors.ErrCodeTokenMismatch) {
			s.publish(ctx, events.NewTokenMismatchEvent(req.SubscriptionID, req.BusinessID))
		}
		return nil, err
	}

	repo := s.repo
	if tx != nil {
		repo = s.repo.WithTx(tx)
	}

	subscriptionID := req.SubscriptionID
	return s.charge(ctx, repo, chargeIntent{
		businessID:     req.BusinessID,
		subscriptionID: &subscriptionID,
		amount:         req.Amount,
		currency:       req.Currency,
		description:    req.Description,
		callbackURL:    callbackURL,
		sessionID:      req.SessionID,
		paymentMethod:  PaymentMethodCard,
		source:         moyasar.NewTokenSource(req.Token),
	})
}

// chargeIntent carries one validated charge attempt through the create flow.
type chargeIntent struct {
	businessID     int64
	subscriptionID *int64
	amount         decimal.Decimal
	currency       string
	description    string
	callbackURL    string
	sessionID      string
	paymentMethod  string
	source         moyasar.Source
}

func (s *Service) charge(ctx context.Context, repo RepositoryAPI, intent chargeIntent) (*ChargeResult, error) {
	amountMinor, err := currency.ToMinorUnit(intent.amount)
	if err != nil {
		return nil, err
	}

	idempotencyKey := NewIdempotencyKey()

	record := &paymentDatamodel.Payment{
		PublicID:       NewPublicID(),
		BusinessID:     intent.businessID,
		SubscriptionID: intent.subscriptionID,
		Amount:         intent.amount,
		Currency:       intent.currency,
		Status:         paymentDatamodel.StatusPending,
		Metadata: paymentDatamodel.Metadata{
			IdempotencyKey: idempotencyKey,
			CallbackURL:    intent.callbackURL,
			SessionID:      intent.sessionID,
		},
	}
	if intent.paymentMethod != "" {
		method := intent.paymentMethod
		record.PaymentMethod = &method
	}
	if intent.sessionID != "" {
		sid := intent.sessionID
		record.SessionID = &sid
	}

	if err := repo.Create(record); err != nil {
		s.logger.Error("failed to create payment record",
			"business_id", intent.businessID,
			"error", err)
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	s.logger.Info("payment record created",
		"payment_id", record.PublicID,
		"business_id", intent.businessID,
		"amount", intent.amount.StringFixed(2),
		"currency", intent.currency)

	chargeReq := moyasar.CreateChargeRequest{
		GivenID:     idempotencyKey,
		Amount:      amountMinor,
		Currency:    intent.currency,
		Description: intent.description,
		CallbackURL: s.signedCallbackURL(intent.callbackURL, record.PublicID),
		Source:      intent.source,
		Metadata: map[string]interface{}{
			"payment_public_id": record.PublicID,
		},
	}
	if intent.sessionID != "" {
		chargeReq.Metadata["session_id"] = intent.sessionID
	}

	gatewayPayment, err := s.gateway.CreateCharge(ctx, chargeReq)
	if err != nil {
		return s.handleChargeError(ctx, repo, record, err)
	}

	// Keep the gateway id and raw response even on non-paid outcomes;
	// reconciliation and audit need them.
	if err := repo.UpdateGatewayState(record.ID, &gatewayPayment.ID, paymentDatamodel.Metadata{
		GatewayResponse: gatewayPayment.Raw,
	}); err != nil {
		s.logger.Error("failed to persist gateway state",
			"payment_id", record.PublicID,
			"gateway_payment_id", gatewayPayment.ID,
			"error", err)
		return nil, fmt.Errorf("failed to persist gateway state: %w", err)
	}
	record.MoyasarPaymentID = &gatewayPayment.ID

	return s.applyChargeOutcome(ctx, repo, record, gatewayPayment)
}

// handleChargeError applies a terminal or recoverable local state after the
// gateway call itself failed. A timeout leaves the record pending because the
// charge may have gone through; reconciliation settles it later. Everything
// else marks the record failed.
func (s *Service) handleChargeError(ctx context.Context, repo RepositoryAPI, record *paymentDatamodel.Payment, err error) (*ChargeResult, error) {
	if errors.HasCode(err, errors.ErrCodeGatewayTimeout) {
		s.logger.Warn("gateway charge timed out, leaving payment pending for reconciliation",
			"payment_id", record.PublicID,
			"error", err)
		return nil, err
	}

	reason := err.Error()
	if appErr, ok := errors.IsAppError(err); ok {
		reason = appErr.GetDetailedMessage()
	}

	failed, markErr := repo.MarkFailed(record.ID, &reason, paymentDatamodel.Metadata{})
	if markErr != nil {
		s.logger.Error("failed to mark payment failed after gateway error",
			"payment_id", record.PublicID,
			"error", markErr)
	} else {
		record = failed
		s.publishFailed(ctx, record)
	}

	return nil, err
}

// applyChargeOutcome branches on the gateway-reported status. Unrecognized
// statuses are non-terminal: the record stays pending and the caller is told
// to verify later.
func (s *Service) applyChargeOutcome(ctx context.Context, repo RepositoryAPI, record *paymentDatamodel.Payment, gatewayPayment *moyasar.Payment) (*ChargeResult, error) {
	switch gatewayPayment.Status.Kind {
	case moyasar.StatusPaid:
		paid, err := repo.MarkPaid(record.ID, nil, paymentDatamodel.Metadata{})
		if err != nil {
			s.logger.Error("failed to mark payment paid",
				"payment_id", record.PublicID,
				"error", err)
			return nil, err
		}
		s.publishPaid(ctx, paid)

		return &ChargeResult{
			Success:        true,
			Payment:        paid,
			GatewayPayment: gatewayPayment,
		}, nil

	case moyasar.StatusInitiated:
		redirectURL := ""
		if gatewayPayment.Source != nil {
			redirectURL = gatewayPayment.Source.TransactionURL
		}
		s.logger.Info("payment awaiting 3-D-Secure",
			"payment_id", record.PublicID,
			"gateway_payment_id", gatewayPayment.ID)

		return &ChargeResult{
			Success:              false,
			RequiresVerification: true,
			Payment:              record,
			GatewayPayment:       gatewayPayment,
			RedirectURL:          redirectURL,
		}, nil

	case moyasar.StatusFailed:
		reason := gatewayPayment.FailureMessage()
		if reason == "" {
			reason = "payment declined by gateway"
		}
		failed, err := repo.MarkFailed(record.ID, &reason, paymentDatamodel.Metadata{})
		if err != nil {
			s.logger.Error("failed to mark payment failed",
				"payment_id", record.PublicID,
				"error", err)
			return nil, err
		}
		s.publishFailed(ctx, failed)

		return &ChargeResult{
			Success:        false,
			Payment:        failed,
			GatewayPayment: gatewayPayment,
			FailureMessage: reason,
		}, nil

	default:
		s.logger.Info("gateway reported non-terminal status, leaving payment pending",
			"payment_id", record.PublicID,
			"gateway_status", gatewayPayment.Status.Raw)

		return &ChargeResult{
			Success:        false,
			Payment:        record,
			GatewayPayment: gatewayPayment,
		}, nil
	}
}

// RetryPayment re-runs a failed charge with a fresh idempotency key. Only
// payments tied to a subscription can be retried server-side; one-time card
// data is never stored.
func (s *Service) RetryPayment(ctx context.Context, publicID string) (*ChargeResult, error) {
	record, err := s.repo.GetByPublicID(publicID)
	if err != nil {
		return nil, err
	}

	if record.Status != paymentDatamodel.StatusFailed {
		return nil, errors.ErrInvalidPaymentState
	}
	if !CanRetry(record) {
		return nil, errors.ErrRetryLimitReached
	}
	if record.SubscriptionID == nil {
		return nil, errors.NewValidationError(
			"one-time payments cannot be retried server-side; create a new payment",
			errors.ErrCodeInvalidRequest)
	}

	token, err := s.tokens.StoredToken(*record.SubscriptionID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.IncrementRetry(record.ID)
	if err != nil {
		s.logger.Error("failed to increment retry count",
			"payment_id", record.PublicID,
			"error", err)
		return nil, err
	}

	s.logger.Info("retrying payment",
		"payment_id", updated.PublicID,
		"retry_count", updated.RetryCount)

	req := &CreateTokenizedPaymentRequest{
		BusinessID:     updated.BusinessID,
		SubscriptionID: *updated.SubscriptionID,
		Token:          token,
		Amount:         updated.Amount,
		Currency:       updated.Currency,
		CallbackURL:    updated.Metadata.CallbackURL,
		SessionID:      updated.Metadata.SessionID,
	}
	return s.CreateTokenizedPayment(ctx, req, nil)
}

// CancelPayment moves a pending or failed payment to cancelled.
func (s *Service) CancelPayment(publicID string, reason string) (*paymentDatamodel.Payment, error) {
	record, err := s.repo.GetByPublicID(publicID)
	if err != nil {
		return nil, err
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	cancelled, err := s.repo.MarkCancelled(record.ID, reasonPtr)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment cancelled", "payment_id", cancelled.PublicID)
	return cancelled, nil
}

// GetPayment returns a payment by its public identifier.
func (s *Service) GetPayment(publicID string) (*paymentDatamodel.Payment, error) {
	return s.repo.GetByPublicID(publicID)
}

// GetSubscriptionPayments lists payments recorded against a subscription.
func (s *Service) GetSubscriptionPayments(subscriptionID int64) ([]*paymentDatamodel.Payment, error) {
	return s.repo.GetBySubscriptionID(subscriptionID)
}

func (s *Service) resolveCallbackURL(requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.defaultCallbackURL != "" {
		return s.defaultCallbackURL, nil
	}
	return "", errors.NewValidationFieldError("callback_url",
		"callback URL is required and no default is configured",
		errors.ErrCodeInvalidRequest)
}

// signedCallbackURL appends a signed token bound to the payment so the
// callback endpoint can reject redirects that were not issued by us. The
// metadata keeps the bare URL; the token only travels to the gateway.
func (s *Service) signedCallbackURL(callbackURL, paymentPublicID string) string {
	if s.callbackTokens == nil {
		return callbackURL
	}

	token, err := s.callbackTokens.Sign(paymentPublicID)
	if err != nil {
		s.logger.Warn("failed to sign callback token, sending bare callback URL",
			"payment_id", paymentPublicID,
			"error", err)
		return callbackURL
	}

	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return callbackURL
	}
	q := parsed.Query()
	q.Set("token", token)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func (s *Service) publishPaid(ctx context.Context, p *paymentDatamodel.Payment) {
	gatewayID := ""
	if p.MoyasarPaymentID != nil {
		gatewayID = *p.MoyasarPaymentID
	}
	s.publish(ctx, events.NewPaymentPaidEvent(
		p.PublicID, p.BusinessID, gatewayID, p.Amount.StringFixed(2), p.Currency))
}

func (s *Service) publishFailed(ctx context.Context, p *paymentDatamodel.Payment) {
	reason := ""
	if p.FailureReason != nil {
		reason = *p.FailureReason
	}
	s.publish(ctx, events.NewPaymentFailedEvent(
		p.PublicID, p.BusinessID, p.Amount.StringFixed(2), p.Currency, reason, p.RetryCount))
}
