// Package middleware provides HTTP middleware for the Overwatch API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/Overwatch/internal/logger"
)

// HeaderRequestID carries the request correlation ID.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen bounds client-supplied IDs that end up in every log line.
const maxRequestIDLen = 128

// RequestID reuses an incoming X-Request-ID or assigns a new UUID, stores it
// in the context for logging, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
