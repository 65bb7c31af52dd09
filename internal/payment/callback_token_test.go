package payment_test

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/frahmantamala/subscription-billing/internal"
	paymentPkg "github.com/frahmantamala/subscription-billing/internal/payment"
)

var _ = Describe("CallbackTokenManager", func() {
	const secret = "callback-unit-secret"

	var manager *paymentPkg.CallbackTokenManager

	BeforeEach(func() {
		manager = paymentPkg.NewCallbackTokenManager(secret, time.Minute)
	})

	It("round-trips the payment public id", func() {
		token, err := manager.Sign("pay_round_trip")
		Expect(err).ToNot(HaveOccurred())
		Expect(token).ToNot(BeEmpty())

		publicID, err := manager.Verify(token)
		Expect(err).ToNot(HaveOccurred())
		Expect(publicID).To(Equal("pay_round_trip"))
	})

	It("rejects a tampered token", func() {
		token, err := manager.Sign("pay_tampered")
		Expect(err).ToNot(HaveOccurred())

		_, err = manager.Verify(token + "x")
		Expect(internal.HasCode(err, internal.ErrCodeAuthentication)).To(BeTrue())
	})

	It("rejects a token signed with a different secret", func() {
		other := paymentPkg.NewCallbackTokenManager("some-other-secret", time.Minute)
		token, err := other.Sign("pay_foreign")
		Expect(err).ToNot(HaveOccurred())

		_, err = manager.Verify(token)
		Expect(internal.HasCode(err, internal.ErrCodeAuthentication)).To(BeTrue())
	})

	It("rejects an expired token", func() {
		short := paymentPkg.NewCallbackTokenManager(secret, time.Millisecond)
		token, err := short.Sign("pay_expired")
		Expect(err).ToNot(HaveOccurred())

		time.Sleep(25 * time.Millisecond)

		_, err = short.Verify(token)
		Expect(internal.HasCode(err, internal.ErrCodeAuthentication)).To(BeTrue())
	})

	It("rejects an empty token", func() {
		_, err := manager.Verify("")
		Expect(internal.HasCode(err, internal.ErrCodeTokenMissing)).To(BeTrue())
	})

	It("rejects a token that carries no payment id", func() {
		bare := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		})
		token, err := bare.SignedString([]byte(secret))
		Expect(err).ToNot(HaveOccurred())

		_, err = manager.Verify(token)
		Expect(internal.HasCode(err, internal.ErrCodeAuthentication)).To(BeTrue())
	})

	It("fails to sign when no secret is configured", func() {
		unconfigured := paymentPkg.NewCallbackTokenManager("", time.Minute)
		_, err := unconfigured.Sign("pay_nosecret")
		Expect(err).To(HaveOccurred())
	})
})
