package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"regime-trader/internal/auth"
	"regime-trader/internal/database"
	"regime-trader/internal/scanner"
)

// RateLimiter provides simple in-memory rate limiting per endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request under key is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// ScanSource exposes the latest scan result to the API.
type ScanSource interface {
	LastResult() (scanner.ScanResult, bool)
}

// BacktestRunner triggers a grid search from an API request.
type BacktestRunner interface {
	RunGrid(ctx context.Context, symbol string, req GridRequest) (any, error)
}

// GridRequest is the API payload for a grid-search run.
type GridRequest struct {
	StrategyName   string           `json:"strategy_name" binding:"required"`
	ParamGrid      map[string][]any `json:"param_grid" binding:"required"`
	BaseParams     map[string]any   `json:"base_params"`
	TargetRegime   string           `json:"target_regime"`
	InitialCapital float64          `json:"initial_capital"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
	JWTSecret      string `json:"jwt_secret"`
	AuthEnabled    bool   `json:"auth_enabled"`
}

// Server is the HTTP API for scan results, regimes, and backtest runs.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	repo        *database.Repository
	scans       ScanSource
	runner      BacktestRunner
	config      ServerConfig
	authManager *auth.Manager
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// NewServer creates the API server. repo, scans, and runner may be nil; the
// corresponding endpoints then return 503.
func NewServer(
	config ServerConfig,
	repo *database.Repository,
	scans ScanSource,
	runner BacktestRunner,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		repo:        repo,
		scans:       scans,
		runner:      runner,
		config:      config,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logger.With().Str("component", "api").Logger(),
	}
	if config.AuthEnabled {
		server.authManager = auth.NewManager(config.JWTSecret, 24*time.Hour)
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(s.rateLimit())
	if s.authManager != nil {
		v1.Use(auth.Middleware(s.authManager))
	}

	v1.GET("/scan/latest", s.handleLatestScan)
	v1.GET("/scan/history", s.handleScanHistory)
	v1.GET("/regimes", s.handleRegimes)
	v1.GET("/backtest/results/:symbol", s.handleTopResults)
	v1.POST("/backtest/grid/:symbol", s.handleRunGrid)
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", addr).Msg("api server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("api server error")
		}
	}()
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
