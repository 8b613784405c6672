package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"subsum/internal/cache"
	"subsum/internal/core"
	"subsum/internal/log"
	"subsum/internal/services"
)

type Server struct {
	http.Server
	service     *services.SubscriptionService
	reconciler  *services.Reconciler
	rateLimiter *rateLimiter

	// Derived overview data is cached briefly; any mutation clears it.
	overviewCache *cache.LRUCache[core.Overview]
	trendCache    *cache.LRUCache[[]core.TrendPoint]
	cacheManager  *cache.Manager

	structLog    *log.StructuredLogger
	shutdownOnce sync.Once

	// restoreEnabled gates POST /entitlement/restore. False when the
	// commerce backend has no queryable entitlement records: a restore
	// there would commit Free over a projection granted by the
	// transaction stream.
	restoreEnabled bool
}

// NewServer configures routes and returns a ready-to-run http.Server.
func NewServer(addr string, service *services.SubscriptionService, reconciler *services.Reconciler) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		service:        service,
		reconciler:     reconciler,
		rateLimiter:    newRateLimiter(),
		overviewCache:  cache.NewLRUCache[core.Overview](16, time.Minute),
		trendCache:     cache.NewLRUCache[[]core.TrendPoint](16, time.Minute),
		cacheManager:   cache.NewManager(),
		structLog:      log.NewStructuredLogger(log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentHTTP})),
		restoreEnabled: true,
	}

	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.Register(s.trendCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /subscriptions", s.withMiddleware(s.handleListSubscriptions))
	mux.HandleFunc("POST /subscriptions", s.withMiddleware(s.handleCreateSubscription))
	mux.HandleFunc("GET /subscriptions/{id}", s.withMiddleware(s.handleGetSubscription))
	mux.HandleFunc("PUT /subscriptions/{id}", s.withMiddleware(s.handleUpdateSubscription))
	mux.HandleFunc("DELETE /subscriptions/{id}", s.withMiddleware(s.handleDeleteSubscription))
	mux.HandleFunc("POST /subscriptions/{id}/cancel", s.withMiddleware(s.handleCancelSubscription))
	mux.HandleFunc("POST /subscriptions/{id}/reactivate", s.withMiddleware(s.handleReactivateSubscription))

	mux.HandleFunc("GET /overview", s.withMiddleware(s.handleOverview))
	mux.HandleFunc("GET /trend", s.withMiddleware(s.handleTrend))
	mux.HandleFunc("GET /export.csv", s.withMiddleware(s.handleExportCSV))

	mux.HandleFunc("GET /settings", s.withMiddleware(s.handleGetSettings))
	mux.HandleFunc("PUT /settings", s.withMiddleware(s.handleUpdateSettings))

	mux.HandleFunc("GET /entitlement", s.withMiddleware(s.handleEntitlement))
	mux.HandleFunc("GET /entitlement/products", s.withMiddleware(s.handleProducts))
	mux.HandleFunc("POST /entitlement/purchase", s.withMiddleware(s.handlePurchase))
	mux.HandleFunc("POST /entitlement/restore", s.withMiddleware(s.handleRestore))

	return s
}

// DisableRestore turns off the restore endpoint. Used when the commerce
// backend cannot report current entitlements.
func (s *Server) DisableRestore() {
	s.restoreEnabled = false
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.cacheManager != nil {
			s.cacheManager.Stop()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// invalidateDerived drops the cached overview and trend after any write.
func (s *Server) invalidateDerived() {
	s.overviewCache.Clear()
	s.trendCache.Clear()
}

// withMiddleware adds security headers, rate limiting, and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		s.structLog.LogHTTPStart(ctx, r, clientIP)

		// mutations are rate limited per client
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				log.FieldComponent, log.ComponentRateLimit,
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		s.structLog.LogHTTPEnd(ctx, r, rw.statusCode, duration.Milliseconds(), clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
