package middleware

import (
	"net/http"

	"github.com/frahmantamala/subscription-billing/pkg/logger"
)

// CallerContext stamps the calling service's id into the log context so a
// charge can be traced back to the business system that initiated it.
func CallerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID := r.Header.Get("X-Client-ID")
		if callerID == "" {
			callerID = "unknown"
		}

		ctx := logger.With(r.Context(), "callerID", callerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
