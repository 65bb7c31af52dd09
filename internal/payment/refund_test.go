package payment_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	internal "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/subscription-billing/internal/core/events"
	"github.com/frahmantamala/subscription-billing/internal/moyasar"
	paymentPkg "github.com/frahmantamala/subscription-billing/internal/payment"
)

var _ = Describe("PaymentRefunds", func() {
	var (
		service        *paymentPkg.Service
		mockRepo       *mockPaymentRepository
		mockServer     *httptest.Server
		refundBodies   []map[string]interface{}
		refundBodiesMu sync.Mutex
		gatewayStatus  int
		bus            *events.EventBus
		recorder       *eventRecorder
		logger         *slog.Logger
	)

	recordedRefundBodies := func() []map[string]interface{} {
		refundBodiesMu.Lock()
		defer refundBodiesMu.Unlock()
		return append([]map[string]interface{}{}, refundBodies...)
	}

	newPaidRecord := func(amount string, gatewayID string) *payment.Payment {
		p := &payment.Payment{
			PublicID:         paymentPkg.NewPublicID(),
			MoyasarPaymentID: &gatewayID,
			BusinessID:       42,
			Amount:           decimal.RequireFromString(amount),
			Currency:         "SAR",
			Status:           payment.StatusPaid,
		}
		ExpectWithOffset(1, mockRepo.Create(p)).To(Succeed())
		return p
	}

	amountPtr := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	BeforeEach(func() {
		mockRepo = newMockPaymentRepository()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		gatewayStatus = http.StatusOK

		refundBodiesMu.Lock()
		refundBodies = nil
		refundBodiesMu.Unlock()

		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			refundBodiesMu.Lock()
			refundBodies = append(refundBodies, body)
			refundBodiesMu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			if gatewayStatus != http.StatusOK {
				w.WriteHeader(gatewayStatus)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"type":    "invalid_request_error",
					"message": "refund rejected",
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":       "pay_refund_1",
				"status":   "refunded",
				"amount":   20000,
				"currency": "SAR",
			})
		}))

		gateway := moyasar.NewClient(moyasar.Config{
			SecretKey: "sk_test_refund",
			BaseURL:   mockServer.URL,
		}, logger)

		bus = events.NewEventBus(logger)
		recorder = &eventRecorder{}
		bus.Subscribe(events.EventTypePaymentRefunded, recorder.record)

		service = paymentPkg.NewService(
			mockRepo, gateway, newMockTokenVerifier(), bus, nil,
			"https://merchant.example/payments/callback", logger)
	})

	AfterEach(func() {
		mockServer.Close()
	})

	Describe("RefundPayment", func() {
		Context("partial refunds", func() {
			It("should accumulate refunds until the balance is exhausted", func() {
				// Given a paid payment of 200.00
				record := newPaidRecord("200.00", "pay_refund_1")

				// When refunding 80.00
				result, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("80.00")})

				// Then the running total is 80.00 and 120.00 remains
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeTrue())
				Expect(result.RefundedAmount.StringFixed(2)).To(Equal("80.00"))
				Expect(record.Status).To(Equal(payment.StatusRefunded))
				Expect(record.RefundedTotal().StringFixed(2)).To(Equal("80.00"))
				Expect(record.RemainingRefundable().StringFixed(2)).To(Equal("120.00"))
				Expect(record.FullyRefunded()).To(BeFalse())

				// When refunding the remaining 120.00
				result, err = service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("120.00")})

				// Then the payment is fully refunded
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeTrue())
				Expect(record.RefundedTotal().StringFixed(2)).To(Equal("200.00"))
				Expect(record.FullyRefunded()).To(BeTrue())

				// When refunding one more halala's worth
				result, err = service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("0.01")})

				// Then the refund is refused
				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(internal.HasCode(err, internal.ErrCodeAlreadyRefunded)).To(BeTrue())
			})

			It("should send the partial amount to the gateway in minor units", func() {
				// Given
				newPaidRecord("200.00", "pay_refund_1")

				// When
				_, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("80.00"), Description: "goodwill"})

				// Then
				Expect(err).ToNot(HaveOccurred())
				bodies := recordedRefundBodies()
				Expect(bodies).To(HaveLen(1))
				Expect(bodies[0]["amount"]).To(BeNumerically("==", 8000))
				Expect(bodies[0]["description"]).To(Equal("goodwill"))
			})

			It("should record each refund in the payment metadata", func() {
				// Given
				record := newPaidRecord("200.00", "pay_refund_1")

				// When
				_, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("80.00")})
				Expect(err).ToNot(HaveOccurred())
				_, err = service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("50.00")})
				Expect(err).ToNot(HaveOccurred())

				// Then
				Expect(record.Metadata.Refunds).To(HaveLen(2))
				Expect(record.Metadata.Refunds[0].Amount.StringFixed(2)).To(Equal("80.00"))
				Expect(record.Metadata.Refunds[1].Amount.StringFixed(2)).To(Equal("50.00"))

				Expect(bus.Drain(context.Background())).To(Succeed())
				Expect(recorder.byType(events.EventTypePaymentRefunded)).To(HaveLen(2))
			})
		})

		Context("full refunds", func() {
			It("should refund the whole remaining balance when no amount is given", func() {
				// Given
				record := newPaidRecord("200.00", "pay_refund_1")

				// When
				result, err := service.RefundPayment(context.Background(), "pay_refund_1", nil)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.RefundedAmount.StringFixed(2)).To(Equal("200.00"))
				Expect(record.FullyRefunded()).To(BeTrue())

				// The gateway request omits the amount entirely.
				bodies := recordedRefundBodies()
				Expect(bodies).To(HaveLen(1))
				Expect(bodies[0]).ToNot(HaveKey("amount"))
			})

			It("should refund only what remains after a partial refund", func() {
				// Given a payment with 80.00 already refunded
				record := newPaidRecord("200.00", "pay_refund_1")
				_, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("80.00")})
				Expect(err).ToNot(HaveOccurred())

				// When refunding without an amount
				result, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{})

				// Then only the remaining 120.00 moves
				Expect(err).ToNot(HaveOccurred())
				Expect(result.RefundedAmount.StringFixed(2)).To(Equal("120.00"))
				Expect(record.RefundedTotal().StringFixed(2)).To(Equal("200.00"))
			})
		})

		Context("guards", func() {
			It("should refuse a refund beyond the remaining balance without calling the gateway", func() {
				// Given
				record := newPaidRecord("200.00", "pay_refund_1")

				// When
				result, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("500.00")})

				// Then
				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(internal.HasCode(err, internal.ErrCodeRefundExceedsBalance)).To(BeTrue())
				Expect(record.Status).To(Equal(payment.StatusPaid))
				Expect(record.RefundAmount).To(BeNil())
				Expect(recordedRefundBodies()).To(BeEmpty())
			})

			It("should refuse to refund a pending payment", func() {
				// Given
				gatewayID := "pay_pending_1"
				pending := &payment.Payment{
					PublicID:         paymentPkg.NewPublicID(),
					MoyasarPaymentID: &gatewayID,
					BusinessID:       42,
					Amount:           decimal.RequireFromString("100.00"),
					Currency:         "SAR",
					Status:           payment.StatusPending,
				}
				Expect(mockRepo.Create(pending)).To(Succeed())

				// When
				result, err := service.RefundPayment(context.Background(), "pay_pending_1", nil)

				// Then
				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(internal.HasCode(err, internal.ErrCodeInvalidState)).To(BeTrue())
				Expect(recordedRefundBodies()).To(BeEmpty())
			})

			It("should reject a non-positive refund amount", func() {
				// Given
				newPaidRecord("200.00", "pay_refund_1")

				// When
				result, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("0")})

				// Then
				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(recordedRefundBodies()).To(BeEmpty())
			})

			It("should return not found for an unknown payment", func() {
				// When
				result, err := service.RefundPayment(context.Background(), "pay_unknown", nil)

				// Then
				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(internal.HasCode(err, internal.ErrCodePaymentNotFound)).To(BeTrue())
			})
		})

		Context("when the gateway rejects the refund", func() {
			It("should leave the local record untouched", func() {
				// Given
				record := newPaidRecord("200.00", "pay_refund_1")
				gatewayStatus = http.StatusBadRequest

				// When
				result, err := service.RefundPayment(context.Background(), "pay_refund_1",
					&paymentPkg.RefundPaymentRequest{Amount: amountPtr("80.00")})

				// Then
				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(internal.HasCode(err, internal.ErrCodeGatewayError)).To(BeTrue())
				Expect(record.Status).To(Equal(payment.StatusPaid))
				Expect(record.RefundAmount).To(BeNil())

				Expect(bus.Drain(context.Background())).To(Succeed())
				Expect(recorder.byType(events.EventTypePaymentRefunded)).To(BeEmpty())
			})
		})
	})
})
