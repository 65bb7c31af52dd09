package subscription

import (
	"encoding/hex"
	"log/slog"

	"golang.org/x/crypto/blake2b"

	errors "github.com/frahmantamala/subscription-billing/internal"
	subscriptionDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/subscription"
)

type RepositoryAPI interface {
	GetByID(id int64) (*subscriptionDatamodel.Subscription, error)
	GetByPublicID(publicID string) (*subscriptionDatamodel.Subscription, error)
	UpdateToken(id int64, token, fingerprint string) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// TokenFingerprint derives a short non-reversible identifier for a stored
// gateway token. Raw tokens never appear in logs or support tooling; the
// fingerprint is what operators compare.
func TokenFingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

func (s *Service) GetSubscription(id int64) (*subscriptionDatamodel.Subscription, error) {
	sub, err := s.repo.GetByID(id)
	if err != nil {
		s.logger.Error("failed to load subscription", "subscription_id", id, "error", err)
		return nil, err
	}
	return sub, nil
}

// StoredToken returns the gateway token saved for a subscription. A
// subscription without a token is reported distinctly from a missing
// subscription so callers can tell enrollment gaps from bad references.
func (s *Service) StoredToken(subscriptionID int64) (string, error) {
	sub, err := s.repo.GetByID(subscriptionID)
	if err != nil {
		return "", err
	}
	if !sub.HasStoredToken() {
		s.logger.Warn("subscription has no stored token", "subscription_id", subscriptionID)
		return "", errors.ErrTokenMissing
	}
	return *sub.MoyasarTokenID, nil
}

// VerifyToken compares the caller-supplied token against the stored one. A
// mismatch means the caller is charging with stale or wrong credentials and
// is always a hard failure, never silently corrected.
func (s *Service) VerifyToken(subscriptionID int64, supplied string) error {
	stored, err := s.StoredToken(subscriptionID)
	if err != nil {
		return err
	}

	if stored != supplied {
		s.logger.Error("stored token does not match supplied token",
			"subscription_id", subscriptionID,
			"stored_fingerprint", TokenFingerprint(stored),
			"supplied_fingerprint", TokenFingerprint(supplied))
		return errors.ErrTokenMismatch
	}

	return nil
}

// SaveToken stores a new gateway token (card re-enrollment) along with its
// fingerprint for support lookups.
func (s *Service) SaveToken(subscriptionID int64, token string) error {
	if token == "" {
		return errors.NewValidationError("token is required", errors.ErrCodeValidationFailed)
	}

	fingerprint := TokenFingerprint(token)
	if err := s.repo.UpdateToken(subscriptionID, token, fingerprint); err != nil {
		s.logger.Error("failed to save subscription token",
			"subscription_id", subscriptionID,
			"token_fingerprint", fingerprint,
			"error", err)
		return err
	}

	s.logger.Info("subscription token updated",
		"subscription_id", subscriptionID,
		"token_fingerprint", fingerprint)
	return nil
}
