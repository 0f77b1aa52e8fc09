package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/teamtalk/internal/logger"
)

// RequestLog logs method, path, status and duration for every request.
// WebSocket upgrades are skipped; their lifetime is the connection's.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Infof("%s %s status=%d duration_ms=%d", r.Method, r.URL.Path, ww.Status(), time.Since(start).Milliseconds())
	})
}
