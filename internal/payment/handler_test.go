package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	internal "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	paymentPkg "github.com/frahmantamala/subscription-billing/internal/payment"
)

type mockPaymentService struct {
	chargeResult *paymentPkg.ChargeResult
	verifyResult *paymentPkg.VerificationResult
	refundResult *paymentPkg.RefundResult
	payment      *payment.Payment
	payments     []*payment.Payment
	err          error

	lastGatewayPaymentID string
	lastPublicID         string
	lastRefundRequest    *paymentPkg.RefundPaymentRequest
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, req *paymentPkg.CreatePaymentRequest) (*paymentPkg.ChargeResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.chargeResult, nil
}

func (m *mockPaymentService) CreateTokenizedPayment(ctx context.Context, req *paymentPkg.CreateTokenizedPaymentRequest, tx *gorm.DB) (*paymentPkg.ChargeResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.chargeResult, nil
}

func (m *mockPaymentService) GetPayment(publicID string) (*payment.Payment, error) {
	m.lastPublicID = publicID
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func (m *mockPaymentService) GetSubscriptionPayments(subscriptionID int64) ([]*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.payments, nil
}

func (m *mockPaymentService) GetVerificationResult(ctx context.Context, gatewayPaymentID string) (*paymentPkg.VerificationResult, error) {
	m.lastGatewayPaymentID = gatewayPaymentID
	if m.err != nil {
		return nil, m.err
	}
	return m.verifyResult, nil
}

func (m *mockPaymentService) VerifyPayment(ctx context.Context, gatewayPaymentID string) (*paymentPkg.VerificationResult, error) {
	m.lastGatewayPaymentID = gatewayPaymentID
	if m.err != nil {
		return nil, m.err
	}
	return m.verifyResult, nil
}

func (m *mockPaymentService) RefundPayment(ctx context.Context, gatewayPaymentID string, req *paymentPkg.RefundPaymentRequest) (*paymentPkg.RefundResult, error) {
	m.lastGatewayPaymentID = gatewayPaymentID
	m.lastRefundRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return m.refundResult, nil
}

func (m *mockPaymentService) RetryPayment(ctx context.Context, publicID string) (*paymentPkg.ChargeResult, error) {
	m.lastPublicID = publicID
	if m.err != nil {
		return nil, m.err
	}
	return m.chargeResult, nil
}

func (m *mockPaymentService) CancelPayment(publicID string, reason string) (*payment.Payment, error) {
	m.lastPublicID = publicID
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func jsonRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func testPaymentRecord(publicID string) *payment.Payment {
	gatewayID := "pay_gw_1"
	return &payment.Payment{
		ID:               1,
		PublicID:         publicID,
		MoyasarPaymentID: &gatewayID,
		BusinessID:       42,
		Amount:           decimal.RequireFromString("199.99"),
		Currency:         "SAR",
		Status:           payment.StatusPaid,
	}
}

var _ = ginkgo.Describe("PaymentHandler", func() {
	var (
		handler        *paymentPkg.Handler
		paymentService *mockPaymentService
		callbackTokens *paymentPkg.CallbackTokenManager
		recorder       *httptest.ResponseRecorder
		logger         *slog.Logger
	)

	ginkgo.BeforeEach(func() {
		paymentService = &mockPaymentService{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		callbackTokens = paymentPkg.NewCallbackTokenManager("handler-test-secret", 0)
		handler = paymentPkg.NewHandler(paymentService, callbackTokens, logger)
		recorder = httptest.NewRecorder()
	})

	ginkgo.Context("CreatePayment", func() {
		ginkgo.When("the charge succeeds", func() {
			ginkgo.It("should return 201 with the payment", func() {
				paymentService.chargeResult = &paymentPkg.ChargeResult{
					Success: true,
					Payment: testPaymentRecord("pay_ok_1"),
				}
				body, _ := json.Marshal(map[string]interface{}{
					"business_id": 42,
					"amount":      "199.99",
					"currency":    "SAR",
					"source":      map[string]string{"type": "creditcard"},
				})
				req := jsonRequest("POST", "/api/v1/payments", body)

				handler.CreatePayment(recorder, req)

				gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusCreated))
				var response map[string]interface{}
				gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(gomega.Succeed())
				paymentBody, ok := response["payment"].(map[string]interface{})
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(paymentBody["id"]).To(gomega.Equal("pay_ok_1"))
				gomega.Expect(paymentBody["amount"]).To(gomega.Equal("199.99"))
			})
		})

		ginkgo.When("the body is not JSON", func() {
			ginkgo.It("should return bad request", func() {
				req := jsonRequest("POST", "/api/v1/payments", []byte("not json"))

				handler.CreatePayment(recorder, req)

				gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
			})
		})

		ginkgo.When("the service rejects the request", func() {
			ginkgo.It("should map validation errors to 400", func() {
				paymentService.err = internal.NewValidationError("amount must be greater than zero", internal.ErrCodeInvalidAmount)
				req := jsonRequest("POST", "/api/v1/payments", []byte(`{"business_id":42}`))

				handler.CreatePayment(recorder, req)

				gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
			})

			ginkgo.It("should map gateway timeouts to 504", func() {
				paymentService.err = internal.NewGatewayTimeoutError(context.DeadlineExceeded)
				req := jsonRequest("POST", "/api/v1/payments", []byte(`{"business_id":42}`))

				handler.CreatePayment(recorder, req)

				gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusGatewayTimeout))
			})
		})
	})

	ginkgo.Context("GetPayment", func() {
		ginkgo.It("should return the payment by public id", func() {
			paymentService.payment = testPaymentRecord("pay_get_1")
			req := withURLParam(jsonRequest("GET", "/api/v1/payments/pay_get_1", nil), "paymentID", "pay_get_1")

			handler.GetPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(paymentService.lastPublicID).To(gomega.Equal("pay_get_1"))
		})

		ginkgo.It("should return 404 for an unknown payment", func() {
			paymentService.err = internal.ErrPaymentNotFound
			req := withURLParam(jsonRequest("GET", "/api/v1/payments/pay_nope", nil), "paymentID", "pay_nope")

			handler.GetPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusNotFound))
		})
	})

	ginkgo.Context("VerifyPayment", func() {
		ginkgo.It("should verify by gateway payment id", func() {
			paymentService.verifyResult = &paymentPkg.VerificationResult{
				Verified: true,
				Payment:  testPaymentRecord("pay_v_1"),
			}
			req := withURLParam(jsonRequest("GET", "/api/v1/payments/verify/pay_gw_1", nil), "gatewayPaymentID", "pay_gw_1")

			handler.VerifyPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(paymentService.lastGatewayPaymentID).To(gomega.Equal("pay_gw_1"))
			var response map[string]interface{}
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(gomega.Succeed())
			gomega.Expect(response["verified"]).To(gomega.BeTrue())
		})

		ginkgo.It("should return 404 when the gateway does not know the charge", func() {
			paymentService.err = internal.ErrChargeNotFound
			req := withURLParam(jsonRequest("GET", "/api/v1/payments/verify/pay_gone", nil), "gatewayPaymentID", "pay_gone")

			handler.VerifyPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusNotFound))
		})
	})

	ginkgo.Context("PaymentCallback", func() {
		ginkgo.It("should accept a redirect with a valid token", func() {
			record := testPaymentRecord("pay_cb_1")
			paymentService.verifyResult = &paymentPkg.VerificationResult{Verified: true, Payment: record}
			token, err := callbackTokens.Sign("pay_cb_1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			req := jsonRequest("GET", "/api/v1/payments/callback?id=pay_gw_1&token="+token, nil)
			handler.PaymentCallback(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(paymentService.lastGatewayPaymentID).To(gomega.Equal("pay_gw_1"))
		})

		ginkgo.It("should reject a missing token", func() {
			req := jsonRequest("GET", "/api/v1/payments/callback?id=pay_gw_1", nil)

			handler.PaymentCallback(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusNotFound))
		})

		ginkgo.It("should reject a tampered token", func() {
			token, err := callbackTokens.Sign("pay_cb_1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			req := jsonRequest("GET", "/api/v1/payments/callback?id=pay_gw_1&token="+token+"x", nil)
			handler.PaymentCallback(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusUnauthorized))
		})

		ginkgo.It("should reject a token issued for a different payment", func() {
			paymentService.verifyResult = &paymentPkg.VerificationResult{
				Verified: true,
				Payment:  testPaymentRecord("pay_cb_other"),
			}
			token, err := callbackTokens.Sign("pay_cb_1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			req := jsonRequest("GET", "/api/v1/payments/callback?id=pay_gw_1&token="+token, nil)
			handler.PaymentCallback(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusUnauthorized))
		})

		ginkgo.It("should require the gateway payment id", func() {
			req := jsonRequest("GET", "/api/v1/payments/callback", nil)

			handler.PaymentCallback(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Context("RefundPayment", func() {
		ginkgo.It("should refund with an explicit amount", func() {
			record := testPaymentRecord("pay_rf_1")
			refunded := decimal.RequireFromString("80.00")
			record.Status = payment.StatusRefunded
			record.RefundAmount = &refunded
			paymentService.refundResult = &paymentPkg.RefundResult{
				Success:        true,
				Payment:        record,
				RefundedAmount: refunded,
			}
			body := []byte(`{"amount":"80.00","description":"goodwill"}`)
			req := withURLParam(jsonRequest("POST", "/api/v1/payments/refund/pay_gw_1", body), "gatewayPaymentID", "pay_gw_1")

			handler.RefundPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(paymentService.lastGatewayPaymentID).To(gomega.Equal("pay_gw_1"))
			gomega.Expect(paymentService.lastRefundRequest.Amount).ToNot(gomega.BeNil())
			gomega.Expect(paymentService.lastRefundRequest.Amount.StringFixed(2)).To(gomega.Equal("80.00"))

			var response map[string]interface{}
			gomega.Expect(json.Unmarshal(recorder.Body.Bytes(), &response)).To(gomega.Succeed())
			gomega.Expect(response["refunded_amount"]).To(gomega.Equal("80.00"))
		})

		ginkgo.It("should treat an empty body as a full refund", func() {
			paymentService.refundResult = &paymentPkg.RefundResult{
				Success:        true,
				Payment:        testPaymentRecord("pay_rf_2"),
				RefundedAmount: decimal.RequireFromString("199.99"),
			}
			req := withURLParam(jsonRequest("POST", "/api/v1/payments/refund/pay_gw_1", nil), "gatewayPaymentID", "pay_gw_1")

			handler.RefundPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(paymentService.lastRefundRequest.Amount).To(gomega.BeNil())
		})

		ginkgo.It("should map an exhausted balance to 409", func() {
			paymentService.err = internal.ErrAlreadyRefunded
			req := withURLParam(jsonRequest("POST", "/api/v1/payments/refund/pay_gw_1", nil), "gatewayPaymentID", "pay_gw_1")

			handler.RefundPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusConflict))
		})
	})

	ginkgo.Context("RetryPayment", func() {
		ginkgo.It("should retry by public id", func() {
			paymentService.chargeResult = &paymentPkg.ChargeResult{
				Success: true,
				Payment: testPaymentRecord("pay_rt_1"),
			}
			req := withURLParam(jsonRequest("POST", "/api/v1/payments/pay_rt_1/retry", nil), "paymentID", "pay_rt_1")

			handler.RetryPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(paymentService.lastPublicID).To(gomega.Equal("pay_rt_1"))
		})

		ginkgo.It("should map an exhausted retry budget to 409", func() {
			paymentService.err = internal.ErrRetryLimitReached
			req := withURLParam(jsonRequest("POST", "/api/v1/payments/pay_rt_1/retry", nil), "paymentID", "pay_rt_1")

			handler.RetryPayment(recorder, req)

			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusConflict))
		})
	})
})

var _ = ginkgo.Describe("WebhookHandler", func() {
	var (
		handler        *paymentPkg.WebhookHandler
		paymentService *mockPaymentService
		recorder       *httptest.ResponseRecorder
		logger         *slog.Logger
	)

	ginkgo.BeforeEach(func() {
		paymentService = &mockPaymentService{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = paymentPkg.NewWebhookHandler(paymentService, "whsec_test", logger)
		recorder = httptest.NewRecorder()
	})

	webhookBody := func(secret, paymentID string) []byte {
		body, _ := json.Marshal(map[string]interface{}{
			"id":           "evt_1",
			"type":         "payment_paid",
			"secret_token": secret,
			"data":         map[string]interface{}{"id": paymentID, "status": "paid"},
		})
		return body
	}

	ginkgo.It("should re-verify the charge referenced by the event", func() {
		paymentService.verifyResult = &paymentPkg.VerificationResult{
			Verified: true,
			Payment:  testPaymentRecord("pay_wh_1"),
		}
		req := jsonRequest("POST", "/api/v1/webhooks/moyasar", webhookBody("whsec_test", "pay_gw_1"))

		handler.HandleWebhook(recorder, req)

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(paymentService.lastGatewayPaymentID).To(gomega.Equal("pay_gw_1"))
	})

	ginkgo.It("should reject a wrong shared secret", func() {
		req := jsonRequest("POST", "/api/v1/webhooks/moyasar", webhookBody("whsec_wrong", "pay_gw_1"))

		handler.HandleWebhook(recorder, req)

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusUnauthorized))
		gomega.Expect(paymentService.lastGatewayPaymentID).To(gomega.BeEmpty())
	})

	ginkgo.It("should reject an event without a payment id", func() {
		body, _ := json.Marshal(map[string]interface{}{
			"id":           "evt_2",
			"type":         "payment_paid",
			"secret_token": "whsec_test",
			"data":         map[string]interface{}{},
		})
		req := jsonRequest("POST", "/api/v1/webhooks/moyasar", body)

		handler.HandleWebhook(recorder, req)

		gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusBadRequest))
	})
})
