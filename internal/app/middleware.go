package app

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/thushan/olla-link/internal/core/constants"
	"github.com/thushan/olla-link/internal/logger"
	"github.com/thushan/olla-link/pkg/format"
)

// responseWriter captures status and size for the access log
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

func (rw *responseWriter) WriteHeader(s int) {
	rw.status = s
	rw.ResponseWriter.WriteHeader(s)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// requestLogging tags each request with an id and logs its completion.
// Probe traffic is frequent so it only shows at debug.
func requestLogging(log logger.StyledLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(constants.HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(constants.HeaderRequestID, requestID)

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"response_bytes", format.Bytes(wrapped.size),
				"duration", format.Latency(time.Since(start)),
			}
			reqLog := log.WithRequestID(requestID)
			if wrapped.status >= http.StatusInternalServerError {
				reqLog.Warn("Request completed", fields...)
				return
			}
			reqLog.Debug("Request completed", fields...)
		})
	}
}
