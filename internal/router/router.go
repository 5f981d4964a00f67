package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/admin"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

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

// RequestIDMiddleware keeps a caller supplied X-Request-ID or assigns a snowflake id.
func RequestIDMiddleware(ids *utilities.IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 64 {
				id = ids.Next()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// LoggingMiddleware logs each request at debug level, and 5xx responses at warn.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			fields := []any{
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"size", lrw.size,
			}
			if status >= http.StatusInternalServerError {
				logger.Warnw("http request", fields...)
				return
			}
			logger.Debugw("http request", fields...)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			// HSTS only over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the handlers and collaborators the router mounts.
type Deps struct {
	Logger  *zap.SugaredLogger
	IDs     *utilities.IDGenerator
	Gate    *auth.Gate
	Users   *user.Handler
	APIKeys *apikey.Handler
	Admin   *admin.Handler
	// Ping reports data-store health; nil means always healthy.
	Ping func(ctx context.Context) error
}

// New builds the HTTP handler tree.
func New(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware(d.IDs))
	r.Use(LoggingMiddleware(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			if err := d.Ping(r.Context()); err != nil {
				logger.Warnw("health check failed", "err", err)
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	guard := auth.Guard(d.Gate, logger.Named("auth"))
	d.Users.Routes(r, guard)
	d.APIKeys.Routes(r, guard)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", d.Admin.Login)
		r.Post("/logout", d.Admin.Logout)
		r.Get("/session", d.Admin.Session)
	})
	return r
}
