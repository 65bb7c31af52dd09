package subscription

import (
	"time"
)

type Subscription struct {
	ID               int64      `gorm:"primaryKey"`
	PublicID         string     `gorm:"column:public_id;not null;uniqueIndex"`
	BusinessID       int64      `gorm:"column:business_id;not null"`
	PlanName         string     `gorm:"column:plan_name;not null"`
	Status           string     `gorm:"column:status;default:active"`
	MoyasarTokenID   *string    `gorm:"column:moyasar_token_id"`
	TokenFingerprint *string    `gorm:"column:token_fingerprint"`
	CurrentPeriodEnd *time.Time `gorm:"column:current_period_end"`
	CreatedAt        time.Time  `gorm:"column:created_at;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;default:now()"`
}

const (
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
)

func (s *Subscription) HasStoredToken() bool {
	return s.MoyasarTokenID != nil && *s.MoyasarTokenID != ""
}
