package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"levercore/internal/ports"
)

// recovery intercepts panics in handlers so one broken request cannot
// take the server down.
func recovery(logger ports.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error(r.Context(), nil, "Panic in HTTP handler", map[string]interface{}{
						"panic": rec,
						"path":  r.URL.Path,
						"stack": string(debug.Stack()),
					})
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLogging writes one access-log line per request.
func requestLogging(logger ports.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug(r.Context(), "HTTP request", map[string]interface{}{
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  rec.status,
				"elapsed": time.Since(start).String(),
			})
		})
	}
}
