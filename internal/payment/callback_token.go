package payment

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errors "github.com/frahmantamala/subscription-billing/internal"
)

const defaultCallbackTokenTTL = 30 * time.Minute

// CallbackTokenManager signs and verifies the short-lived tokens appended to
// 3DS callback URLs so the callback endpoint can tell a genuine gateway
// redirect from a forged one.
type CallbackTokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewCallbackTokenManager(secret string, ttl time.Duration) *CallbackTokenManager {
	if ttl <= 0 {
		ttl = defaultCallbackTokenTTL
	}
	return &CallbackTokenManager{secret: []byte(secret), ttl: ttl}
}

type callbackClaims struct {
	PaymentID string `json:"payment_id"`
	jwt.RegisteredClaims
}

// Sign issues a token bound to one payment public id.
func (m *CallbackTokenManager) Sign(paymentPublicID string) (string, error) {
	if len(m.secret) == 0 {
		return "", errors.NewInternalError("callback token secret is not configured", nil)
	}

	now := time.Now()
	claims := callbackClaims{
		PaymentID: paymentPublicID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errors.NewInternalError("failed to sign callback token", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the payment public id
// the token was issued for.
func (m *CallbackTokenManager) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.ErrTokenMissing
	}

	claims := &callbackClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.NewUnauthorizedError("invalid callback token", errors.ErrCodeAuthentication)
	}
	if claims.PaymentID == "" {
		return "", errors.NewUnauthorizedError("callback token missing payment id", errors.ErrCodeAuthentication)
	}
	return claims.PaymentID, nil
}
