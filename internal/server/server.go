// Package server assembles the HTTP API from the feature packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/audit"
	"github.com/lexreview/lexreview/internal/explain"
	"github.com/lexreview/lexreview/internal/letters"
	"github.com/lexreview/lexreview/internal/review"
)

// Config holds server configuration.
type Config struct {
	Port           int
	AllowAll       bool          // allow all CORS origins (dev mode)
	RequestTimeout time.Duration // zero disables the per-request timeout
}

// Features are the optional feature handlers. A nil field leaves that
// feature's routes unmounted.
type Features struct {
	Review  *review.Handler
	Letters *letters.Generator
	Explain *explain.Chain
	Audit   *audit.Store
}

// Server is the lexreview HTTP API server.
type Server struct {
	cfg        Config
	features   Features
	router     chi.Router
	httpServer *http.Server
}

// New creates a server with every non-nil feature mounted.
func New(cfg Config, features Features) *Server {
	s := &Server{cfg: cfg, features: features}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(timeoutExceptUpgrades(s.cfg.RequestTimeout))
	}

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Changes-Applied", "X-Regeneration-Fallback"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/health", s.handleHealth)

	if s.features.Review != nil {
		review.RegisterRoutes(r, s.features.Review)
	}
	if s.features.Letters != nil {
		letters.RegisterRoutes(r, s.features.Letters)
	}
	if s.features.Explain != nil {
		explain.RegisterRoutes(r, s.features.Explain)
	}
	if s.features.Audit != nil {
		audit.RegisterRoutes(r, s.features.Audit)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"features": map[string]bool{
			"bias_review": s.features.Review != nil,
			"letters":     s.features.Letters != nil,
			"explain":     s.features.Explain != nil,
			"audit":       s.features.Audit != nil,
		},
	})
}

// requestLogger logs one line per request through the global zap logger.
// The wrapped writer keeps http.Hijacker so websocket upgrades still work.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// timeoutExceptUpgrades applies middleware.Timeout to every request except
// websocket upgrades, which live as long as the client stays connected.
func timeoutExceptUpgrades(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timed := middleware.Timeout(d)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	}
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	zap.L().Info("lexreview server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
