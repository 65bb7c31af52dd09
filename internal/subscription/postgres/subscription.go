package postgres

import (
	"errors"

	"gorm.io/gorm"

	internal "github.com/frahmantamala/subscription-billing/internal"
	subscriptionDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/subscription"
	"github.com/frahmantamala/subscription-billing/internal/subscription"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) subscription.RepositoryAPI {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) GetByID(id int64) (*subscriptionDatamodel.Subscription, error) {
	var sub subscriptionDatamodel.Subscription
	err := r.db.Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByPublicID(publicID string) (*subscriptionDatamodel.Subscription, error) {
	var sub subscriptionDatamodel.Subscription
	err := r.db.Where("public_id = ?", publicID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) UpdateToken(id int64, token, fingerprint string) error {
	result := r.db.Model(&subscriptionDatamodel.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"moyasar_token_id":  token,
			"token_fingerprint": fingerprint,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return internal.ErrSubscriptionNotFound
	}
	return nil
}
