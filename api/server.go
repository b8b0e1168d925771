package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	apimiddleware "github.com/0xmhha/explorer-indexer/api/middleware"
	"github.com/0xmhha/explorer-indexer/api/websocket"
	"github.com/0xmhha/explorer-indexer/fetch"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Version is reported by the /version endpoint. Set at build time with
// -ldflags "-X github.com/0xmhha/explorer-indexer/api.Version=...".
var Version = "dev"

// SyncController is the part of the sync engine exposed over HTTP
type SyncController interface {
	Status() fetch.Status
	BackfillAsync(start *uint64) error
}

// Server represents the API server
type Server struct {
	config   *Config
	logger   *zap.Logger
	sync     SyncController
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
	wsServer *websocket.Server

	limiterDone chan struct{}
	stopOnce    sync.Once
}

// NewServer creates a new API server. ctrl may be nil, in which case the
// sync endpoints answer 503. A nil gatherer serves the default registry.
func NewServer(config *Config, logger *zap.Logger, ctrl SyncController, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:      config,
		logger:      logger,
		sync:        ctrl,
		gatherer:    gatherer,
		router:      chi.NewRouter(),
		limiterDone: make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery must be outermost
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.LoggerWithLevel(s.logger))

	if s.config.EnableRateLimit {
		limiter := apimiddleware.NewRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst)
		go limiter.RunCleanup(s.limiterDone)
		s.router.Use(apimiddleware.RateLimit(limiter, s.logger))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	if s.config.EnableCORS {
		s.router.Use(s.cors)
	}
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		for _, allowed := range s.config.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Upgrade, Connection")
				w.Header().Set("Access-Control-Max-Age", "300")
				break
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	if s.config.EnableWebSocket {
		s.wsServer = websocket.NewServer(websocket.Options{
			AllowedOrigins: s.config.AllowedOrigins,
		}, s.logger)
		s.router.Get(s.config.WebSocketPath, s.wsServer.ServeHTTP)
		s.logger.Info("WebSocket API enabled", zap.String("path", s.config.WebSocketPath))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/sync", func(r chi.Router) {
		r.Get("/status", s.handleSyncStatus)
		r.Post("/backfill", s.handleBackfill)
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	WebSocketClients *int   `json:"websocketClients,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.wsServer != nil {
		n := s.wsServer.Hub().ClientCount()
		response.WebSocketClients = &n
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"name":    "explorer-indexer",
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.sync.Status())
}

// handleBackfill starts a background backfill. The optional "from" query
// parameter sets the first height.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync engine not configured")
		return
	}

	var start *uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		height, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from height")
			return
		}
		start = &height
	}

	err := s.sync.BackfillAsync(start)
	switch {
	case errors.Is(err, fetch.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("failed to start backfill", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// WebSocket returns the subscription server, or nil when disabled
func (s *Server) WebSocket() *websocket.Server {
	return s.wsServer
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.config.Address()),
		zap.Bool("websocket", s.config.EnableWebSocket),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	s.stopOnce.Do(func() {
		close(s.limiterDone)
		// hijacked WebSocket connections are not closed by Shutdown
		if s.wsServer != nil {
			s.wsServer.Stop()
		}
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
