package moyasar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	internal "github.com/frahmantamala/subscription-billing/internal"
)

const (
	defaultBaseURL      = "https://api.moyasar.com/v1"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second

	// Gateway payloads are small; anything past this is a misbehaving peer.
	maxResponseBytes = 1 << 20
)

type Config struct {
	SecretKey    string
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client is the authenticated HTTP boundary to the payment gateway. It never
// retries on its own; retry decisions belong to the caller, which must mint a
// fresh idempotency key per attempt.
type Client struct {
	baseURL      string
	secretKey    string
	readTimeout  time.Duration
	writeTimeout time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	readTimeout := config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Client{
		baseURL:      baseURL,
		secretKey:    config.SecretKey,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		httpClient:   &http.Client{},
		logger:       logger,
	}
}

// CreateCharge issues a charge against the gateway. Uses the longer write
// timeout since card authorization can be slow behind 3-D-Secure routing.
func (c *Client) CreateCharge(ctx context.Context, req CreateChargeRequest) (*Payment, error) {
	if req.Amount <= 0 {
		return nil, internal.NewValidationError("charge amount must be a positive minor-unit integer", internal.ErrCodeInvalidAmount)
	}
	if req.Currency == "" {
		return nil, internal.NewValidationError("charge currency is required", internal.ErrCodeInvalidRequest)
	}

	c.logger.Info("moyasar: creating charge",
		"given_id", req.GivenID,
		"amount_minor", req.Amount,
		"currency", req.Currency,
		"source_type", req.Source.Type)

	payment, err := c.do(ctx, http.MethodPost, "/payments", req, c.writeTimeout)
	if err != nil {
		return nil, err
	}

	c.logger.Info("moyasar: charge created",
		"payment_id", payment.ID,
		"status", payment.Status.Raw,
		"amount_minor", payment.Amount)

	return payment, nil
}

// FetchCharge reads the live state of a charge. Uses the short read timeout;
// a 404 translates to the charge-not-found taxonomy value.
func (c *Client) FetchCharge(ctx context.Context, chargeID string) (*Payment, error) {
	if chargeID == "" {
		return nil, internal.NewValidationError("charge id is required", internal.ErrCodeInvalidRequest)
	}

	c.logger.Debug("moyasar: fetching charge", "payment_id", chargeID)

	return c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(chargeID), nil, c.readTimeout)
}

// CreateRefund refunds a charge, fully when req.Amount is zero. The gateway
// responds with the updated payment object.
func (c *Client) CreateRefund(ctx context.Context, chargeID string, req RefundRequest) (*Payment, error) {
	if chargeID == "" {
		return nil, internal.NewValidationError("charge id is required", internal.ErrCodeInvalidRequest)
	}
	if req.Amount < 0 {
		return nil, internal.NewValidationError("refund amount must not be negative", internal.ErrCodeInvalidAmount)
	}

	c.logger.Info("moyasar: creating refund",
		"payment_id", chargeID,
		"amount_minor", req.Amount)

	payment, err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(chargeID)+"/refund", req, c.writeTimeout)
	if err != nil {
		return nil, err
	}

	c.logger.Info("moyasar: refund created",
		"payment_id", payment.ID,
		"status", payment.Status.Raw,
		"refunded_minor", payment.Refunded)

	return payment, nil
}

// do runs one authenticated round trip. The request context is detached from
// the caller's cancellation: once a charge or refund is in flight it must
// complete or time out on its own, otherwise money could move at the gateway
// with no terminal local state.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, timeout time.Duration) (*Payment, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, internal.NewInternalError("failed to marshal gateway request", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, internal.NewInternalError("failed to build gateway request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+c.basicAuth())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("moyasar: request failed",
			"method", method,
			"path", path,
			"error", err)
		return nil, translateTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, translateTransportError(fmt.Errorf("reading gateway response: %w", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("moyasar: gateway returned error",
			"method", method,
			"path", path,
			"status_code", resp.StatusCode)
		return nil, translateAPIError(resp.StatusCode, respBody)
	}

	var payment Payment
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, internal.NewGatewayError("gateway returned an undecodable response", internal.GatewayDetails{
			HTTPStatus:     resp.StatusCode,
			GatewayMessage: truncate(string(respBody), 256),
		}).WithCause(err)
	}
	payment.Raw = respBody

	return &payment, nil
}

func (c *Client) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.secretKey + ":"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
