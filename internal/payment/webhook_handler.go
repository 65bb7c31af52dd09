package payment

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/subscription-billing/internal"
	"github.com/frahmantamala/subscription-billing/internal/transport"
)

// WebhookHandler receives gateway event notifications. The payload is only a
// trigger: payment state is always re-fetched from the gateway API before
// anything is written locally, so a spoofed or stale body cannot flip a
// record.
type WebhookHandler struct {
	transport.BaseHandler
	paymentService ServiceAPI
	webhookSecret  string
	logger         *slog.Logger
}

func NewWebhookHandler(paymentService ServiceAPI, webhookSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		paymentService: paymentService,
		webhookSecret:  webhookSecret,
		logger:         logger,
	}
}

// webhookEnvelope is the gateway's notification shape. Data carries the
// payment object as sent; only its id is used.
type webhookEnvelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	SecretToken string          `json:"secret_token"`
	Data        json.RawMessage `json:"data"`
}

type webhookPaymentRef struct {
	ID string `json:"id"`
}

// HandleWebhook handles POST /api/v1/webhooks/moyasar
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		h.logger.Error("HandleWebhook: invalid webhook body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid webhook body", errors.ErrCodeValidationFailed))
		return
	}

	if h.webhookSecret != "" {
		if subtle.ConstantTimeCompare([]byte(envelope.SecretToken), []byte(h.webhookSecret)) != 1 {
			h.logger.Warn("HandleWebhook: webhook secret mismatch", "event_id", envelope.ID, "event_type", envelope.Type)
			h.HandleError(w, errors.NewUnauthorizedError("invalid webhook secret", errors.ErrCodeAuthentication))
			return
		}
	}

	var ref webhookPaymentRef
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &ref); err != nil {
			h.logger.Error("HandleWebhook: invalid webhook data", "event_id", envelope.ID, "error", err)
			h.HandleError(w, errors.NewValidationError("invalid webhook data", errors.ErrCodeValidationFailed))
			return
		}
	}
	if ref.ID == "" {
		h.HandleError(w, errors.NewValidationError("webhook data missing payment id", errors.ErrCodeValidationFailed))
		return
	}

	h.logger.Info("HandleWebhook: received gateway event",
		"event_id", envelope.ID,
		"event_type", envelope.Type,
		"gateway_payment_id", ref.ID)

	result, err := h.paymentService.VerifyPayment(r.Context(), ref.ID)
	if err != nil {
		// Non-2xx makes the gateway redeliver the event later.
		h.logger.Error("HandleWebhook: verification failed",
			"event_id", envelope.ID,
			"gateway_payment_id", ref.ID,
			"error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "processed",
		"verified": result.Verified,
	})
}
