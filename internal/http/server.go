// Package http exposes the JSON API: recurrence rule CRUD, manual generation
// sweeps, upcoming-occurrence projections and read access to generated
// expenses. Every /api route is scoped to the owner named by the X-Owner-ID
// header.
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

	"tally/internal/core"
	"tally/internal/services"
)

// RuleManager is the rule-lifecycle surface the API needs.
type RuleManager interface {
	CreateRule(ctx context.Context, ownerID string, def services.RuleDefinition) (core.RecurrenceRule, error)
	UpdateRule(ctx context.Context, ownerID string, id int64, def services.RuleDefinition) (core.RecurrenceRule, error)
	DeleteRule(ctx context.Context, ownerID string, id int64) error
	GetRule(ctx context.Context, ownerID string, id int64) (core.RecurrenceRule, error)
	ListRules(ctx context.Context, ownerID string) ([]core.RecurrenceRule, error)
}

// GenerationRunner runs on-demand sweeps and pause/resume toggles.
type GenerationRunner interface {
	GenerateDueOccurrences(ctx context.Context, ownerID string, asOf core.Date) (services.RunSummary, error)
	ToggleRuleActive(ctx context.Context, ownerID string, id int64, active bool) (core.RecurrenceRule, error)
}

// Projector enumerates upcoming occurrences without generating them.
type Projector interface {
	UpcomingOccurrences(ctx context.Context, ownerID string, horizonDays int) ([]services.UpcomingOccurrence, error)
}

// ExpenseReader lists generated expenses for an owner.
type ExpenseReader interface {
	ListExpenses(ctx context.Context, ownerID string, from, to core.Date) ([]core.Expense, error)
}

// CategoryLister returns the known category names.
type CategoryLister interface {
	ListCategories(ctx context.Context) ([]string, error)
}

type Server struct {
	http.Server
	rules       RuleManager
	scheduler   GenerationRunner
	projections Projector
	expenses    ExpenseReader
	categories  CategoryLister

	// defaultHorizonDays is used when /api/upcoming has no days parameter.
	defaultHorizonDays int

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, rules RuleManager, scheduler GenerationRunner, projections Projector, expenses ExpenseReader, categories CategoryLister, defaultHorizonDays int) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		rules:              rules,
		scheduler:          scheduler,
		projections:        projections,
		expenses:           expenses,
		categories:         categories,
		defaultHorizonDays: defaultHorizonDays,
		rateLimiter:        newRateLimiter(),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /api/rules", s.withMiddleware(s.handleListRules))
	mux.HandleFunc("POST /api/rules", s.withMiddleware(s.handleCreateRule))
	mux.HandleFunc("GET /api/rules/{id}", s.withMiddleware(s.handleGetRule))
	mux.HandleFunc("PUT /api/rules/{id}", s.withMiddleware(s.handleUpdateRule))
	mux.HandleFunc("DELETE /api/rules/{id}", s.withMiddleware(s.handleDeleteRule))
	mux.HandleFunc("POST /api/rules/{id}/toggle", s.withMiddleware(s.handleToggleRule))

	mux.HandleFunc("POST /api/generate", s.withMiddleware(s.handleGenerate))
	mux.HandleFunc("GET /api/upcoming", s.withMiddleware(s.handleUpcoming))
	mux.HandleFunc("GET /api/expenses", s.withMiddleware(s.handleListExpenses))
	mux.HandleFunc("GET /api/categories", s.withMiddleware(s.handleListCategories))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withMiddleware adds security headers, rate limiting, and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		// Generate request ID for tracing
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		// Apply rate limiting to mutating requests
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Create a custom response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

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
		// Fallback to timestamp if random fails
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
