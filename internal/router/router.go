package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tallygate/service-attendance-go/internal/entry"
	"github.com/tallygate/service-attendance-go/internal/orphan"
	"github.com/tallygate/service-attendance-go/internal/scanner"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps carries the wired handlers and services the router mounts.
type Deps struct {
	Scanner     *scanner.Handler
	ScannerAuth *scanner.AuthService
	Entry       *entry.Handler
	Orphan      *orphan.Handler
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, deps Deps) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /attendance-api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// scanner device login
	mux.HandleFunc("POST /attendance-api/scanner/login", deps.Scanner.Login)

	// batch sync, behind scanner token auth
	withScanner := scanner.AuthMiddleware(deps.ScannerAuth)
	mux.Handle("POST /attendance-api/entries/sync", withScanner(http.HandlerFunc(deps.Entry.Sync)))

	// read-side queries
	mux.HandleFunc("GET /attendance-api/events/{id}/summary", deps.Entry.Summary)
	mux.HandleFunc("GET /attendance-api/events/{id}/attendees/status", deps.Entry.AttendeeStatuses)

	// operator actions
	mux.HandleFunc("POST /attendance-api/sessions/{id}/resync", deps.Entry.Resync)
	mux.HandleFunc("GET /attendance-api/orphans", deps.Orphan.List)
	mux.HandleFunc("DELETE /attendance-api/orphans/{id}", deps.Orphan.Delete)
	mux.HandleFunc("POST /attendance-api/orphans/{id}/recover", deps.Orphan.Recover)

	// wrap with security headers middleware then logging middleware
	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
	return handler
}
