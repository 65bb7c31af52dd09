package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	errors "github.com/frahmantamala/subscription-billing/internal"
	paymentDatamodel "github.com/frahmantamala/subscription-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/subscription-billing/internal/transport"
)

type ServiceAPI interface {
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*ChargeResult, error)
	CreateTokenizedPayment(ctx context.Context, req *CreateTokenizedPaymentRequest, tx *gorm.DB) (*ChargeResult, error)
	GetPayment(publicID string) (*paymentDatamodel.Payment, error)
	GetSubscriptionPayments(subscriptionID int64) ([]*paymentDatamodel.Payment, error)
	GetVerificationResult(ctx context.Context, gatewayPaymentID string) (*VerificationResult, error)
	VerifyPayment(ctx context.Context, gatewayPaymentID string) (*VerificationResult, error)
	RefundPayment(ctx context.Context, gatewayPaymentID string, req *RefundPaymentRequest) (*RefundResult, error)
	RetryPayment(ctx context.Context, publicID string) (*ChargeResult, error)
	CancelPayment(publicID string, reason string) (*paymentDatamodel.Payment, error)
}

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	CallbackTokens *CallbackTokenManager
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, callbackTokens *CallbackTokenManager, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		CallbackTokens: callbackTokens,
		Logger:         logger,
	}
}

// CreatePayment handles POST /api/v1/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.PaymentService.CreatePayment(r.Context(), &req)
	if err != nil {
		h.Logger.Error("CreatePayment: service error", "error", err, "business_id", req.BusinessID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToChargeResponse(result))
}

// CreateTokenizedPayment handles POST /api/v1/payments/tokenized
func (h *Handler) CreateTokenizedPayment(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenizedPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateTokenizedPayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.PaymentService.CreateTokenizedPayment(r.Context(), &req, nil)
	if err != nil {
		h.Logger.Error("CreateTokenizedPayment: service error",
			"error", err,
			"business_id", req.BusinessID,
			"subscription_id", req.SubscriptionID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToChargeResponse(result))
}

// GetPayment handles GET /api/v1/payments/{paymentID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "paymentID")
	if publicID == "" {
		h.HandleError(w, errors.NewValidationError("payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	p, err := h.PaymentService.GetPayment(publicID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToPaymentResponse(p))
}

// ListSubscriptionPayments handles GET /api/v1/subscriptions/{subscriptionID}/payments
func (h *Handler) ListSubscriptionPayments(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := strconv.ParseInt(chi.URLParam(r, "subscriptionID"), 10, 64)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid subscription id", errors.ErrCodeValidationFailed))
		return
	}

	payments, err := h.PaymentService.GetSubscriptionPayments(subscriptionID)
	if err != nil {
		h.Logger.Error("ListSubscriptionPayments: service error", "error", err, "subscription_id", subscriptionID)
		h.HandleServiceError(w, err)
		return
	}

	responses := make([]*PaymentResponse, 0, len(payments))
	for _, p := range payments {
		responses = append(responses, ToPaymentResponse(p))
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"payments": responses})
}

// VerifyPayment handles GET /api/v1/payments/verify/{gatewayPaymentID}.
// It reconciles against the gateway and applies the outcome to the local
// record. Operators hit this to settle pending or disputed payments.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	gatewayPaymentID := chi.URLParam(r, "gatewayPaymentID")
	if gatewayPaymentID == "" {
		h.HandleError(w, errors.NewValidationError("gateway payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.PaymentService.VerifyPayment(r.Context(), gatewayPaymentID)
	if err != nil {
		h.Logger.Error("VerifyPayment: service error", "error", err, "gateway_payment_id", gatewayPaymentID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToVerificationResponse(result))
}

// PaymentCallback handles GET /api/v1/payments/callback. The gateway
// redirects the customer here after 3-D-Secure with its payment id in the
// query string; the signed token proves the redirect belongs to a charge we
// created.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	gatewayPaymentID := r.URL.Query().Get("id")
	if gatewayPaymentID == "" {
		h.HandleError(w, errors.NewValidationError("missing payment id in callback", errors.ErrCodeValidationFailed))
		return
	}

	tokenPaymentID := ""
	if h.CallbackTokens != nil {
		publicID, err := h.CallbackTokens.Verify(r.URL.Query().Get("token"))
		if err != nil {
			h.Logger.Warn("PaymentCallback: callback token rejected",
				"gateway_payment_id", gatewayPaymentID,
				"error", err)
			h.HandleServiceError(w, err)
			return
		}
		tokenPaymentID = publicID
	}

	result, err := h.PaymentService.VerifyPayment(r.Context(), gatewayPaymentID)
	if err != nil {
		h.Logger.Error("PaymentCallback: verification error", "error", err, "gateway_payment_id", gatewayPaymentID)
		h.HandleServiceError(w, err)
		return
	}

	if tokenPaymentID != "" && result.Payment != nil && result.Payment.PublicID != tokenPaymentID {
		h.Logger.Error("PaymentCallback: token issued for a different payment",
			"token_payment_id", tokenPaymentID,
			"payment_id", result.Payment.PublicID)
		h.HandleError(w, errors.NewUnauthorizedError("callback token does not match payment", errors.ErrCodeAuthentication))
		return
	}

	h.WriteJSON(w, http.StatusOK, ToVerificationResponse(result))
}

// RefundPayment handles POST /api/v1/payments/refund/{gatewayPaymentID}
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	gatewayPaymentID := chi.URLParam(r, "gatewayPaymentID")
	if gatewayPaymentID == "" {
		h.HandleError(w, errors.NewValidationError("gateway payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	req := &RefundPaymentRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			h.Logger.Error("RefundPayment: failed to parse request body", "error", err)
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}

	result, err := h.PaymentService.RefundPayment(r.Context(), gatewayPaymentID, req)
	if err != nil {
		h.Logger.Error("RefundPayment: service error", "error", err, "gateway_payment_id", gatewayPaymentID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToRefundResponse(result))
}

// RetryPayment handles POST /api/v1/payments/{paymentID}/retry
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "paymentID")
	if publicID == "" {
		h.HandleError(w, errors.NewValidationError("payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.PaymentService.RetryPayment(r.Context(), publicID)
	if err != nil {
		h.Logger.Error("RetryPayment: service error", "error", err, "payment_id", publicID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("RetryPayment: payment retry initiated", "payment_id", publicID)
	h.WriteJSON(w, http.StatusOK, ToChargeResponse(result))
}

// CancelPayment handles POST /api/v1/payments/{paymentID}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "paymentID")
	if publicID == "" {
		h.HandleError(w, errors.NewValidationError("payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}

	p, err := h.PaymentService.CancelPayment(publicID, req.Reason)
	if err != nil {
		h.Logger.Error("CancelPayment: service error", "error", err, "payment_id", publicID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToPaymentResponse(p))
}
