package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	internal "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/subscription-billing/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

// WithTx returns a repository bound to the caller's transaction so payment
// writes can join a larger unit of work.
func (r *PaymentRepository) WithTx(tx *gorm.DB) paymentpkg.RepositoryAPI {
	if tx == nil {
		return r
	}
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(p *payment.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByID(id int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.First(&p, id).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByPublicID(publicID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("public_id = ?", publicID).First(&p).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByGatewayID(gatewayPaymentID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("moyasar_payment_id = ?", gatewayPaymentID).First(&p).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetBySessionID(sessionID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("session_id = ?", sessionID).Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetBySubscriptionID(subscriptionID int64) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) GetPendingOlderThan(cutoff time.Time, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	q := r.db.Where("status = ? AND created_at < ?", payment.StatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&payments).Error
	return payments, err
}

// UpdateGatewayState records the gateway's charge id and response payload
// without touching payment status. Used right after charge creation so the
// gateway reference survives whatever happens next.
func (r *PaymentRepository) UpdateGatewayState(id int64, gatewayPaymentID *string, patch payment.Metadata) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		if gatewayPaymentID != nil && *gatewayPaymentID != "" {
			p.MoyasarPaymentID = gatewayPaymentID
		}
		p.Metadata = p.Metadata.Merge(patch)
		return tx.Save(p).Error
	})
}

func (r *PaymentRepository) SetGatewayPaymentID(id int64, gatewayPaymentID string) error {
	res := r.db.Model(&payment.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"moyasar_payment_id": gatewayPaymentID,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) MarkPaid(id int64, gatewayPaymentID *string, patch payment.Metadata) (*payment.Payment, error) {
	return r.transition(id, payment.StatusPaid, func(p *payment.Payment) {
		now := time.Now().UTC()
		p.PaymentDate = &now
		p.FailureReason = nil
		if gatewayPaymentID != nil && *gatewayPaymentID != "" {
			p.MoyasarPaymentID = gatewayPaymentID
		}
		p.Metadata = p.Metadata.Merge(patch)
	})
}

func (r *PaymentRepository) MarkFailed(id int64, reason *string, patch payment.Metadata) (*payment.Payment, error) {
	return r.transition(id, payment.StatusFailed, func(p *payment.Payment) {
		p.FailureReason = reason
		p.Metadata = p.Metadata.Merge(patch)
	})
}

func (r *PaymentRepository) MarkCancelled(id int64, reason *string) (*payment.Payment, error) {
	return r.transition(id, payment.StatusCancelled, func(p *payment.Payment) {
		p.FailureReason = reason
	})
}

func (r *PaymentRepository) IncrementRetry(id int64) (*payment.Payment, error) {
	var updated *payment.Payment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		p.RetryCount++
		p.LastRetryAt = &now
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ProcessRefund accumulates the refunded total and moves the payment to
// refunded. A nil amount refunds the remaining balance. Balance validation
// belongs to the caller; this only enforces the status transition.
func (r *PaymentRepository) ProcessRefund(id int64, amount *decimal.Decimal, patch payment.Metadata) (*payment.Payment, error) {
	var updated *payment.Payment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(payment.StatusRefunded) {
			return transitionError(p.Status, payment.StatusRefunded)
		}

		delta := p.RemainingRefundable()
		if amount != nil {
			delta = *amount
		}
		newTotal := p.RefundedTotal().Add(delta)

		now := time.Now().UTC()
		p.RefundAmount = &newTotal
		p.Status = payment.StatusRefunded
		p.RefundedAt = &now
		p.Metadata = p.Metadata.Merge(patch)

		if err := tx.Save(p).Error; err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// transition loads the row under lock, enforces the status machine, applies
// the mutation and saves. Concurrent transitions on the same payment
// serialize on the row lock, so checks always see the latest status.
func (r *PaymentRepository) transition(id int64, target payment.Status, apply func(*payment.Payment)) (*payment.Payment, error) {
	var updated *payment.Payment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(target) {
			return transitionError(p.Status, target)
		}
		p.Status = target
		apply(p)
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// lockPayment fetches one row FOR UPDATE on postgres. SQLite has no row
// locks; its transactions already serialize writers, so the clause is
// skipped there.
func lockPayment(tx *gorm.DB, id int64) (*payment.Payment, error) {
	var p payment.Payment
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&p, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func transitionError(from, to payment.Status) *internal.AppError {
	return internal.NewConflictError(
		fmt.Sprintf("cannot transition payment from %s to %s", from, to),
		internal.ErrCodeInvalidTransition,
	)
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return internal.ErrPaymentNotFound
	}
	return err
}
