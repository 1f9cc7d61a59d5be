// Package server exposes the backend REST API consumed by the offline-first
// clients: transactions, workflows and the user profile, all behind bearer
// token auth.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"expenser/internal/core"
	"expenser/internal/repository"
)

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	UserID(token string) (string, bool)
}

// StaticAuth accepts exactly one token for one user.
type StaticAuth struct {
	Token string
	User  string
}

func (a StaticAuth) UserID(token string) (string, bool) {
	if a.Token != "" && token == a.Token {
		return a.User, true
	}
	return "", false
}

// Publisher emits domain events after successful writes. A nil Publisher
// disables publishing.
type Publisher interface {
	TransactionCreated(ctx context.Context, txn core.Transaction) error
	TransactionDeleted(ctx context.Context, userID, id string) error
	WorkflowCreated(ctx context.Context, wf core.Workflow) error
}

type Server struct {
	repo    *repository.SQLiteRepository
	auth    Authenticator
	events  Publisher
	limiter *Limiter
	logger  *slog.Logger
}

// New assembles the server. A nil events publisher disables event emission
// and a nil limiter disables rate limiting.
func New(repo *repository.SQLiteRepository, auth Authenticator, events Publisher, limiter *Limiter, logger *slog.Logger) *Server {
	return &Server{repo: repo, auth: auth, events: events, limiter: limiter, logger: logger}
}

// Router builds the chi router with logging, CORS and auth wired in. The
// health endpoint stays outside the auth fence so connectivity probes work
// without credentials.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.rateLimit)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", s.handleListTransactions)
				r.Post("/", s.handleCreateTransaction)
				r.Put("/", s.handleUpdateTransaction)
				r.Delete("/", s.handleDeleteTransaction)
			})

			r.Route("/workflows", func(r chi.Router) {
				r.Get("/", s.handleListWorkflows)
				r.Post("/", s.handleCreateWorkflow)
				r.Put("/", s.handleUpdateWorkflow)
				r.Delete("/", s.handleDeleteWorkflow)
			})

			r.Route("/user", func(r chi.Router) {
				r.Get("/profile", s.handleGetProfile)
				r.Put("/profile", s.handleUpdateProfile)
			})
		})
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = 0

// requireAuth verifies the bearer token and stashes the resolved user id in
// the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, ok := s.auth.UserID(token)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// rateLimit rejects clients that exceed the per-IP request budget. RealIP
// runs earlier in the chain, so RemoteAddr already holds the client address.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if !s.limiter.Allow(ip) {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.InfoContext(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
