package router

import (
	"net/http"
	"time"

	"github.com/oscmail/automailer/internal/config"
	"github.com/oscmail/automailer/internal/handler"
	"github.com/oscmail/automailer/internal/metrics"
	"github.com/oscmail/automailer/internal/middleware"
)

// New creates and configures the HTTP router. Every mailing route is also
// served under /api for clients that sit behind a path-based proxy.
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config, confirm middleware.Checker) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	// Verification is public, so it gets a per-IP budget
	limit, window := cfg.RateLimiting.Limit, cfg.RateLimiting.Window
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	verifyRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "verify",
		Limit:  limit,
		Window: window,
		KeyFn:  middleware.IPKey,
	})

	var send http.Handler = http.HandlerFunc(h.SendEmails)
	if cfg.Gate.EnforceAPI {
		send = mw.Confirm(confirm)(send)
	}

	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("POST "+prefix+"/process-spreadsheet", h.ProcessSpreadsheet)
		mux.Handle("POST "+prefix+"/send-emails", send)
		mux.Handle("POST "+prefix+"/verify-attendance", verifyRateLimit(http.HandlerFunc(h.VerifyAttendance)))
	}

	// Apply middleware stack
	var handler http.Handler = mux

	// CORS
	handler = mw.CORS(cfg.CORS.AllowedOrigins)(handler)

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Timing
	handler = mw.Timing(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
