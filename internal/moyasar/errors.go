package moyasar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	internal "github.com/frahmantamala/subscription-billing/internal"
)

// apiError is the gateway's error envelope. Message is usually a string but
// arrives as a field->messages map on validation failures, so it stays raw
// until flattened.
type apiError struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

func (e *apiError) flattenMessage() string {
	if len(e.Message) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(e.Message, &asString); err == nil {
		return asString
	}

	var asMap map[string][]string
	if err := json.Unmarshal(e.Message, &asMap); err == nil {
		parts := make([]string, 0, len(asMap))
		for field, msgs := range asMap {
			parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, ", ")))
		}
		return strings.Join(parts, "; ")
	}

	return string(e.Message)
}

var authKeywords = []string{
	"api key",
	"authentication",
	"unauthorized",
	"credential",
	"invalid key",
}

func looksLikeAuthError(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range authKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// translateTransportError maps errors from the HTTP round trip itself.
// Deadline expiry becomes GatewayTimeout so callers know a retry with a new
// idempotency key is safe; everything else is an opaque gateway failure.
func translateTransportError(err error) *internal.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return internal.NewGatewayTimeoutError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return internal.NewGatewayTimeoutError(err)
	}

	return internal.NewGatewayError("gateway request failed", internal.GatewayDetails{
		GatewayMessage: err.Error(),
	}).WithCause(err)
}

// translateAPIError maps a non-2xx gateway response onto the error taxonomy.
// The raw transport shape never leaves this package.
func translateAPIError(statusCode int, body []byte) *internal.AppError {
	var gatewayErr apiError
	message := ""
	if err := json.Unmarshal(body, &gatewayErr); err == nil {
		message = gatewayErr.flattenMessage()
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	switch {
	case statusCode == http.StatusNotFound:
		return internal.ErrChargeNotFound
	case statusCode == http.StatusUnauthorized:
		return internal.NewAuthenticationError("gateway rejected credentials")
	case looksLikeAuthError(message):
		return internal.NewAuthenticationError(fmt.Sprintf("gateway rejected credentials: %s", message))
	default:
		return internal.NewGatewayError("gateway returned an error", internal.GatewayDetails{
			HTTPStatus:     statusCode,
			GatewayType:    gatewayErr.Type,
			GatewayMessage: message,
		})
	}
}
