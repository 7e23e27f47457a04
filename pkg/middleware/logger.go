package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger logs the start and the completion of every request. Completion is
// logged at a level matching the response status.
func Logger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := zap.S().Named("http").Desugar()

			fields := []zapcore.Field{
				zap.String("request_id", RequestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", clientIP(r)),
				zap.String("user-agent", r.UserAgent()),
			}
			logger.Info("Request started", fields...)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields = append(fields,
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
			)

			msg := "Request completed"
			switch {
			case ww.Status() >= 500:
				logger.Error(msg, fields...)
			case ww.Status() >= 400:
				logger.Warn(msg, fields...)
			default:
				logger.Info(msg, fields...)
			}
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
