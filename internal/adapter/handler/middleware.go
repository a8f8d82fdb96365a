package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

const roleHeader = "X-Role"

// RequestLogger logs method, path, status and latency for every request.
func RequestLogger(next http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// WithRole copies the caller role set by the upstream authenticator into the
// request context. Unknown or missing roles leave the context without one.
func WithRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, ok := domain.ParseRole(r.Header.Get(roleHeader)); ok {
			r = r.WithContext(domain.WithRole(r.Context(), role))
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
