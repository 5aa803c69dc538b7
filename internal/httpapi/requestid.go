package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/redbco/ddfserver/pkg/logger"
)

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// requestIDMiddleware stamps every request with a UUID (echoed in
// X-Request-Id); requestLogger tags the log lines the handlers emit for
// that request (its SQL and any failure) with the same ID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// requestLogger returns a field-tagged logger carrying the request's trace ID.
func (s *Server) requestLogger(r *http.Request) *logger.LogContext {
	return s.logger.WithFields(map[string]string{"request_id": requestID(r)})
}
