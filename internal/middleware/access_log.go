package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wanz-bot/Api/internal/logging"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// RequestIDKey is the context key of the request ID.
const RequestIDKey ContextKey = "requestID"

// RequestID returns the ID assigned by AccessLog, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// AccessLog assigns a request ID (X-Request-ID) and, when logger is non-nil,
// records one access entry per request.
func AccessLog(logger *logging.AccessLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			r = r.WithContext(context.WithValue(r.Context(), RequestIDKey, id))

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if logger == nil {
				return
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Log(logging.AccessEntry{
				Timestamp:  start.UTC(),
				RequestID:  id,
				Method:     r.Method,
				Path:       r.URL.Path,
				IP:         ClientIP(r),
				Status:     status,
				Bytes:      rec.bytes,
				DurationMs: time.Since(start).Milliseconds(),
			})
		})
	}
}
