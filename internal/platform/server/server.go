package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/platform/database"
	"github.com/userhub/userhub/internal/platform/middleware"
	"github.com/userhub/userhub/internal/rbac"
	"github.com/userhub/userhub/internal/users"
)

// Dependencies holds all injected dependencies for the HTTP server.
type Dependencies struct {
	DB             database.Pinger
	Auth           *auth.TokenService
	Gate           *rbac.Gate
	UserHandler    *users.Handler
	AuditHandler   *audit.Handler
	Logger         *slog.Logger
	CORSOrigins    []string
	LoginRateLimit int
	Development    bool
}

// Server is the userhub HTTP server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	db         database.Pinger
	handler    http.Handler
	policies   []string
}

func New(addr string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		mux: mux,
		db:  deps.DB,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)

	if deps.Gate != nil {
		s.registerRoutes(deps, logger)
	}

	var handler http.Handler = mux
	if deps.Auth != nil {
		handler = auth.Middleware(deps.Auth, logger)(handler)
	}
	if len(deps.CORSOrigins) > 0 {
		handler = middleware.CORS(deps.CORSOrigins)(handler)
	}
	handler = middleware.SecureHeaders(deps.Development)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// require wraps h with the named policy and records the name for Policies.
func (s *Server) require(gate *rbac.Gate, policy string, h http.HandlerFunc, opts ...rbac.MiddlewareOption) http.Handler {
	s.policies = append(s.policies, policy)
	return rbac.RequirePolicy(gate, policy, opts...)(h)
}

func (s *Server) requireResource(gate *rbac.Gate, policy string, fetch rbac.ResourceFetcher, h http.HandlerFunc, opts ...rbac.MiddlewareOption) http.Handler {
	s.policies = append(s.policies, policy)
	return rbac.RequireResourcePolicy(gate, policy, fetch, opts...)(h)
}

func (s *Server) registerRoutes(deps Dependencies, logger *slog.Logger) {
	gate := deps.Gate
	opts := []rbac.MiddlewareOption{rbac.WithMiddlewareLogger(logger)}

	if uh := deps.UserHandler; uh != nil {
		s.mux.HandleFunc("POST /api/v1/users/register", uh.HandleRegister)
		s.mux.Handle("POST /api/v1/users/authenticate",
			middleware.RateLimitByIP(deps.LoginRateLimit)(http.HandlerFunc(uh.HandleAuthenticate)),
		)

		s.mux.Handle("GET /api/v1/users",
			s.require(gate, rbac.PolicyManagerOrHigher, uh.HandleList, opts...))
		s.mux.Handle("GET /api/v1/users/me",
			s.require(gate, rbac.PolicyUserOrHigher, uh.HandleMe, opts...))
		s.mux.Handle("GET /api/v1/users/{id}",
			s.requireResource(gate, rbac.PolicyResourceOwner, uh.FetchUser, uh.HandleGet, opts...))
		s.mux.Handle("PUT /api/v1/users/{id}",
			s.requireResource(gate, rbac.PolicyResourceOwner, uh.FetchUser, uh.HandleUpdate, opts...))
		s.mux.Handle("PUT /api/v1/users/{id}/role",
			s.require(gate, rbac.PolicyAdminOnly, uh.HandleChangeRole, opts...))
		s.mux.Handle("DELETE /api/v1/users/{id}",
			s.require(gate, rbac.PolicyAdminOnly, uh.HandleDelete, opts...))
	}

	if deps.AuditHandler != nil {
		s.mux.Handle("GET /api/v1/audit/events",
			s.require(gate, rbac.PolicyAdminOnly, deps.AuditHandler.HandleListEvents, opts...))
	}
}

// Policies returns every policy name bound to a route, for boot-time
// validation with Gate.Require.
func (s *Server) Policies() []string {
	return append([]string(nil), s.policies...)
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
