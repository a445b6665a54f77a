// Package dashboard exposes the trade journal over a read-only JSON
// API: health, trade listing, and aggregate statistics.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/movetrader/movebot/internal/storage"
)

// Config holds the listen address and the optional API token. An empty
// token leaves every endpoint open.
type Config struct {
	Addr      string
	AuthToken string
}

// Server serves the status API. Every endpoint is read-only; mutation
// stays with the bot.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	journal   storage.Interface
	logger    *logrus.Logger
	authToken string
}

// NewServer builds the router and the underlying http.Server. A nil
// logger falls back to a default logrus logger.
func NewServer(cfg Config, journal storage.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		journal:   journal,
		logger:    logger,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.requestLogger)

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Get("/api/trades/{id}", s.handleTradeByID)
	s.router.Get("/api/stats", s.handleStats)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  ww.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("request served")
	})
}

// authMiddleware rejects requests without the configured token; the
// health endpoint stays open for liveness probes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if callerToken(r) != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerToken pulls the credential from the X-Auth-Token header, a
// bearer Authorization header, or a token query parameter.
func callerToken(r *http.Request) string {
	if t := r.Header.Get("X-Auth-Token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Start serves until Shutdown is called. A clean stop returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting dashboard server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.journal.Trades())
}

func (s *Server) handleTradeByID(w http.ResponseWriter, r *http.Request) {
	rec, err := s.journal.TradeByID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.journal.Statistics())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
