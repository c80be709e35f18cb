package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/outreach-core/internal/metrics"
	"github.com/rpattn/outreach-core/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestID reuses an incoming X-Request-ID or assigns a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// LoggingMiddleware logs each request and records its latency. It must wrap the
// ServeMux directly so the matched route pattern is visible after dispatch.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(r.Method, route, rw.statusCode, duration)

		attrs := []any{
			"status", rw.statusCode,
			"method", r.Method,
			"path", r.URL.Path,
			"latency_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		log := logger.WithContext(r.Context())
		switch {
		case rw.statusCode >= 500:
			log.Error("request completed", attrs...)
		case rw.statusCode >= 400:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	})
}
