package router

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/reset"
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

// LoggingMiddleware logs each request at debug level, tagged with the chi request id.
// Query strings are left out since the reset token travels there.
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
			logger.Debugw("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
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
			// token responses must never be cached
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Options wires the handlers and policies into the router.
type Options struct {
	Auth        *auth.Handler
	Reset       *reset.Handler
	Validator   identity.Validator
	PublicPaths []string
	CORSOrigins []string
	// TrustedProxies may set X-Forwarded-For / X-Real-IP; empty trusts none.
	TrustedProxies []netip.Prefix
	// RateLimit guards credential endpoints; nil disables it.
	RateLimit *RateLimiter
	Logger    *zap.SugaredLogger
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// RegisterRoutes mounts the authentication endpoints on a chi router.
func RegisterRoutes(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(ClientIPMiddleware(opts.TrustedProxies))
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(identity.Middleware(opts.Validator, opts.PublicPaths, logger))

	r.Get("/health", healthHandler)

	limited := func(h http.HandlerFunc) http.Handler {
		if opts.RateLimit == nil {
			return h
		}
		return opts.RateLimit.Middleware(h)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Method(http.MethodPost, "/login", limited(opts.Auth.Login))
		r.Post("/refresh", opts.Auth.Refresh)
		r.Post("/logout", opts.Auth.Logout)
		r.Get("/me", opts.Auth.Me)
		r.Post("/password/change", opts.Auth.ChangePassword)
		r.Method(http.MethodPost, "/password/reset-request", limited(opts.Reset.Request))
		r.Method(http.MethodPost, "/password/reset", limited(opts.Reset.Redeem))
	})

	return r
}
