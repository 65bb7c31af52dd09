package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	internal "github.com/frahmantamala/subscription-billing/internal"
	paymentDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
)

// VerifierAPI is the slice of the payment service the reconciler needs.
type VerifierAPI interface {
	VerifyPayment(ctx context.Context, gatewayPaymentID string) (*VerificationResult, error)
}

// Reconciler sweeps payments stuck in pending and settles them against the
// gateway. Records go stale when a charge call times out or a customer
// abandons 3-D-Secure; the sweep re-fetches the authoritative state and lets
// the verification flow decide.
type Reconciler struct {
	repo       RepositoryAPI
	verifier   VerifierAPI
	interval   time.Duration
	pendingAge time.Duration
	batchSize  int
	logger     *slog.Logger
}

func NewReconciler(repo RepositoryAPI, verifier VerifierAPI, cfg *internal.ReconcilerConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:       repo,
		verifier:   verifier,
		interval:   cfg.IntervalOrDefault(),
		pendingAge: cfg.PendingAgeOrDefault(),
		batchSize:  cfg.BatchSizeOrDefault(),
		logger:     logger,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("payment reconciler started",
		"interval", r.interval.String(),
		"pending_age", r.pendingAge.String(),
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("payment reconciler stopping")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep settles one batch of stale pending payments. Each payment is handled
// independently; one failure never blocks the rest of the batch.
func (r *Reconciler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.pendingAge)
	stale, err := r.repo.GetPendingOlderThan(cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("failed to list stale pending payments", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	r.logger.Info("reconciling stale pending payments", "count", len(stale))

	for _, p := range stale {
		if ctx.Err() != nil {
			return
		}
		r.reconcileOne(ctx, p)
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, p *paymentDatamodel.Payment) {
	// A record with no gateway id fell over before the charge response came
	// back. The idempotency key was the charge's given_id, so the gateway
	// still resolves it if the charge went through.
	gatewayID := ""
	if p.MoyasarPaymentID != nil {
		gatewayID = *p.MoyasarPaymentID
	} else if p.Metadata.IdempotencyKey != "" {
		gatewayID = p.Metadata.IdempotencyKey
	}
	if gatewayID == "" {
		r.logger.Error("pending payment has no gateway reference, needs manual review",
			"payment_id", p.PublicID)
		return
	}

	var result *VerificationResult
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := r.verifier.VerifyPayment(ctx, gatewayID)
		if err != nil {
			if internal.HasCode(err, internal.ErrCodeGatewayTimeout) || internal.HasCode(err, internal.ErrCodeGatewayError) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})

	if err != nil {
		if internal.HasCode(err, internal.ErrCodeChargeNotFound) {
			// The charge never reached the gateway. Failed, not cancelled, so
			// a later retry can still settle it.
			reason := "no matching charge at gateway"
			if _, markErr := r.repo.MarkFailed(p.ID, &reason, paymentDatamodel.Metadata{}); markErr != nil {
				r.logger.Error("failed to mark orphaned payment failed",
					"payment_id", p.PublicID,
					"error", markErr)
				return
			}
			r.logger.Warn("pending payment had no charge at gateway, marked failed",
				"payment_id", p.PublicID)
			return
		}

		r.logger.Error("failed to reconcile pending payment",
			"payment_id", p.PublicID,
			"gateway_payment_id", gatewayID,
			"error", err)
		return
	}

	status := ""
	if result.Payment != nil {
		status = string(result.Payment.Status)
	}
	r.logger.Info("reconciled pending payment",
		"payment_id", p.PublicID,
		"verified", result.Verified,
		"status", status)
}
