package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"grimm.is/hmdl/internal/i18n"
	"grimm.is/hmdl/internal/logging"
	"grimm.is/hmdl/internal/metrics"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the ID assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID keeps a well-formed incoming ID and assigns one otherwise.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// instrument logs and counts each request by its route pattern.
func instrument(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.Get().RecordAPIRequest(r.Method, route, rec.status, elapsed.Seconds())
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", elapsed, "request_id", RequestID(r.Context()))
	})
}

// wrap applies the middleware shared by both servers.
func wrap(logger *logging.Logger, h http.Handler) http.Handler {
	return withRequestID(i18n.Middleware(instrument(logger, h)))
}
