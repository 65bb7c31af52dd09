package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/subscription-billing/internal/payment"
	"github.com/frahmantamala/subscription-billing/internal/transport/middleware"
	"github.com/frahmantamala/subscription-billing/internal/transport/swagger"
)

// RegisterAllRoutes wires the payment API. Lookups keyed by our public id sit
// at /payments/{paymentID}; operations keyed by the gateway's payment id live
// under the static verify/ and refund/ segments.
func RegisterAllRoutes(router *chi.Mux, db *sqlx.DB, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.CallerContext)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if webhookHandler != nil {
			r.Post("/webhooks/moyasar", webhookHandler.HandleWebhook)
		}

		if paymentHandler != nil {
			r.Route("/payments", func(pr chi.Router) {
				pr.Post("/", paymentHandler.CreatePayment)
				pr.Post("/tokenized", paymentHandler.CreateTokenizedPayment)
				pr.Get("/callback", paymentHandler.PaymentCallback)
				pr.Get("/verify/{gatewayPaymentID}", paymentHandler.VerifyPayment)
				pr.Post("/refund/{gatewayPaymentID}", paymentHandler.RefundPayment)
				pr.Get("/{paymentID}", paymentHandler.GetPayment)
				pr.Post("/{paymentID}/retry", paymentHandler.RetryPayment)
				pr.Post("/{paymentID}/cancel", paymentHandler.CancelPayment)
			})

			r.Get("/subscriptions/{subscriptionID}/payments", paymentHandler.ListSubscriptionPayments)
		}
	})
}
