package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/valyc0/document-service/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a request identifier to each request's context and
// response headers, generating one when the client did not supply it.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)
			ctx := logger.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
