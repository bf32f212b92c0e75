// Package server wires the settlement engine together and runs the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/skillmint/skillmint/internal/admin"
	"github.com/skillmint/skillmint/internal/chain"
	"github.com/skillmint/skillmint/internal/claims"
	"github.com/skillmint/skillmint/internal/config"
	"github.com/skillmint/skillmint/internal/fraud"
	"github.com/skillmint/skillmint/internal/guard"
	"github.com/skillmint/skillmint/internal/health"
	"github.com/skillmint/skillmint/internal/logging"
	"github.com/skillmint/skillmint/internal/metrics"
	"github.com/skillmint/skillmint/internal/nonce"
	"github.com/skillmint/skillmint/internal/payout"
	"github.com/skillmint/skillmint/internal/ratelimit"
	"github.com/skillmint/skillmint/internal/realtime"
	"github.com/skillmint/skillmint/internal/receipts"
	"github.com/skillmint/skillmint/internal/reconciliation"
	"github.com/skillmint/skillmint/internal/reputation"
	"github.com/skillmint/skillmint/internal/rewards"
	"github.com/skillmint/skillmint/internal/security"
	"github.com/skillmint/skillmint/internal/submitter"
	"github.com/skillmint/skillmint/internal/traces"
	"github.com/skillmint/skillmint/internal/validation"
)

// claimPruneInterval is how often expired claim challenges are swept.
const claimPruneInterval = time.Minute

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the settlement engine dependencies.
type Server struct {
	cfg         *config.Config
	treasury    *chain.Treasury
	nonces      *nonce.Allocator
	submitter   *submitter.Submitter
	payoutSvc   *payout.Service
	payoutStore payout.Store
	fraudStore  fraud.Store
	breaker     *guard.Breaker
	dailyLimit  *guard.DailyLimit
	fraudEngine *fraud.Engine
	dumpMonitor *fraud.DumpMonitor
	fraudTimer  *fraud.Timer
	reconTimer  *reconciliation.Timer
	claimGuard  *claims.Guard
	rewards     *rewards.Service
	receipts    *receipts.Service
	recorder    *receipts.Recorder
	hub         *realtime.Hub
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter

	db       *sql.DB   // nil if using in-memory
	lockConn *sql.Conn // holds the single-submitter advisory lock

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	tracesDown   func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTreasury sets a custom treasury client (for testing)
func WithTreasury(t *chain.Treasury) Option {
	return func(s *Server) {
		s.treasury = t
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set treasury/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		guardStore    guard.Store
		claimsStore   claims.Store
		rewardsStore  rewards.Store
		receiptsStore receipts.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.payoutStore = payout.NewPostgresStore(db)
		s.fraudStore = fraud.NewPostgresStore(db)
		guardStore = guard.NewPostgresStore(db)
		claimsStore = claims.NewPostgresStore(db)
		rewardsStore = rewards.NewPostgresStore(db)
		receiptsStore = receipts.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		s.payoutStore = payout.NewMemoryStore()
		s.fraudStore = fraud.NewMemoryStore()
		guardStore = guard.NewMemoryStore()
		claimsStore = claims.NewMemoryStore()
		rewardsStore = rewards.NewMemoryStore()
		receiptsStore = receipts.NewMemoryStore()
	}

	// Treasury chain client (unless injected for tests)
	if s.treasury == nil {
		t, err := chain.New(chain.Config{
			RPCURL:        cfg.RPCURL,
			TreasuryKey:   cfg.TreasuryKey,
			ChainID:       cfg.ChainID,
			TokenContract: cfg.TokenContract,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create treasury client: %w", err)
		}
		s.treasury = t
	}
	s.logger.Info("treasury signer loaded", "address", s.treasury.Address().Hex())

	// Only one process may sequence treasury nonces. With Postgres the
	// advisory lock enforces it; in-memory mode is single-process anyway.
	if s.db != nil {
		lockConn, err := nonce.AcquireSingletonLock(ctx, s.db)
		if err != nil {
			return nil, fmt.Errorf("submitter lock: %w", err)
		}
		s.lockConn = lockConn
		s.logger.Info("acquired submitter singleton lock")
	}
	s.nonces = nonce.New(s.treasury)

	s.submitter = submitter.New(s.treasury, s.nonces,
		submitter.WithMaxAttempts(cfg.SubmitMaxAttempts),
		submitter.WithConfirmAttempts(cfg.ConfirmAttempts),
	)

	// Treasury guards
	breaker, err := guard.NewBreaker(guardStore, s.payoutStore, s.treasury, cfg.BurstTripCount, cfg.TreasuryFloor)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
	}
	s.breaker = breaker

	dailyLimit, err := guard.NewDailyLimit(guardStore, cfg.DailyPayoutCap)
	if err != nil {
		return nil, fmt.Errorf("failed to create daily limit: %w", err)
	}
	s.dailyLimit = dailyLimit

	// IP reputation (lookups disabled when no provider configured)
	var ipChecker *reputation.Checker
	if cfg.IPReputationURL != "" {
		if err := security.ValidateEndpointURL(cfg.IPReputationURL); err != nil {
			return nil, fmt.Errorf("invalid IP_REPUTATION_URL: %w", err)
		}
		provider := reputation.NewHTTPProvider(cfg.IPReputationURL, cfg.IPReputationKey)

		var cache reputation.Cache
		if cfg.RedisURL != "" {
			client, err := reputation.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				s.logger.Warn("redis unavailable, using in-process reputation cache", "error", err)
				cache = reputation.NewMemoryCache()
			} else {
				cache = reputation.NewRedisCache(client)
				s.logger.Info("reputation cache backed by redis")
			}
		} else {
			cache = reputation.NewMemoryCache()
		}

		ipChecker = reputation.NewChecker(provider,
			reputation.WithCache(cache),
			reputation.WithFraudScoreThreshold(cfg.FraudScoreBlock),
		)
		s.logger.Info("IP reputation lookups enabled")
	}

	// Fraud engine and background sweeps
	engineOpts := []fraud.EngineOption{fraud.WithRewardTotaler(s.payoutStore)}
	if ipChecker != nil {
		engineOpts = append(engineOpts, fraud.WithReputation(ipChecker))
	}
	s.fraudEngine = fraud.NewEngine(s.fraudStore, engineOpts...)
	s.dumpMonitor = fraud.NewDumpMonitor(s.fraudStore, s.treasury, s.payoutStore)
	s.fraudTimer = fraud.NewTimer(s.fraudEngine, s.dumpMonitor, s.logger)

	// Rewards registry. No certificate issuer is wired; rendering lives
	// in the learning platform.
	s.rewards = rewards.NewService(rewardsStore)

	// Settlement receipts
	var signer *receipts.Signer
	if cfg.ReceiptSecret != "" {
		signer = receipts.NewSigner(cfg.ReceiptSecret)
		s.logger.Info("settlement receipts enabled")
	} else {
		s.logger.Info("settlement receipts disabled (no RECEIPT_SECRET)")
	}
	s.receipts = receipts.NewService(receiptsStore, signer)
	s.recorder = receipts.NewRecorder(s.receipts, s.logger)

	// Realtime ops feed
	s.hub = realtime.NewHub(s.logger)

	// Payout settlement service. Lifecycle events feed both the ops
	// stream and the receipt recorder.
	s.payoutSvc = payout.NewService(s.payoutStore, s.submitter, s.breaker, s.dailyLimit,
		payout.WithBlacklist(s.fraudEngine),
		payout.WithFinalizer(s.rewards),
		payout.WithEvents(&eventFanout{publishers: []payout.EventPublisher{s.hub, s.recorder}}),
	)

	// Claim authorization
	s.claimGuard = claims.NewGuard(claimsStore)

	// Reconciliation (report-only checks)
	runner := reconciliation.NewRunner(s.payoutStore, s.treasury)
	s.reconTimer = reconciliation.NewTimer(runner, s.logger)

	s.setupHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupHealthChecks() {
	s.checks = health.NewRegistry()

	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Healthy: false, Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
	}

	treasury := s.treasury
	s.checks.Register("rpc", func(ctx context.Context) health.Status {
		if _, err := treasury.TreasuryBalance(ctx); err != nil {
			return health.Status{Healthy: false, Detail: err.Error()}
		}
		return health.Status{Healthy: true}
	})

	nonces := s.nonces
	s.checks.Register("nonce", func(ctx context.Context) health.Status {
		if nonces.Unstable() {
			return health.Status{Healthy: false, Detail: "repeated nonce cache resets"}
		}
		return health.Status{Healthy: true}
	})

	reconTimer := s.reconTimer
	s.checks.Register("reconciliation", func(ctx context.Context) health.Status {
		if !reconTimer.Running() {
			return health.Status{Healthy: false, Detail: "timer not running"}
		}
		return health.Status{Healthy: true}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rateCfg := ratelimit.DefaultConfig()
	rateCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rateCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket ops feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)
	s.router.GET("/treasury", s.treasuryInfoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// Claim flow (the public settlement surface)
	claimsHandler := claims.NewHandler(s.claimGuard, s.rewards, s.fraudEngine, s.payoutSvc)
	claimsHandler.RegisterRoutes(v1)

	// Reward registration and beneficiary wallets (learning platform boundary)
	rewardsHandler := rewards.NewHandler(s.rewards)
	rewardsHandler.RegisterRoutes(v1)

	// Settlement receipts
	receiptsHandler := receipts.NewHandler(s.receipts)
	receiptsHandler.RegisterRoutes(v1)

	// Admin surface, gated by shared secret
	adminHandler := admin.NewHandler().
		WithBreaker(s.breaker).
		WithNonces(s.nonces).
		WithBlacklist(s.fraudStore).
		WithClusterSweeper(s.fraudEngine).
		WithDumpSweeper(s.dumpMonitor).
		WithPayouts(s.payoutSvc).
		WithPayoutCounter(s.payoutStore).
		WithBalance(s.treasury)
	adminGroup := v1.Group("", admin.AuthMiddleware(s.cfg.AdminSecret))
	adminHandler.RegisterRoutes(adminGroup)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	allHealthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Skillmint",
		"description": "Payout settlement engine for SKILL learning rewards",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
		"currency":    "SKILL",
	})
}

// treasuryInfoHandler exposes the treasury address and live balance.
func (s *Server) treasuryInfoHandler(c *gin.Context) {
	ctx := c.Request.Context()

	balance, err := s.treasury.TreasuryBalance(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to get treasury balance", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve treasury balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":  s.treasury.Address().Hex(),
		"balance":  balance.String(),
		"currency": "SKILL",
		"contract": s.cfg.TokenContract,
		"chain_id": s.cfg.ChainID,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing export (no-op when no OTLP endpoint is configured)
	tracesDown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesDown = tracesDown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"treasury", s.treasury.Address().Hex(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start fraud sweep timer (cluster sweep + dump monitor)
	go s.fraudTimer.Start(runCtx)

	// Start reconciliation timer
	go s.reconTimer.Start(runCtx)

	// Expired claim challenges are pruned on a fixed cadence
	go s.pruneClaimChallenges(runCtx)

	// DB pool metrics
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 30*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

func (s *Server) pruneClaimChallenges(ctx context.Context) {
	ticker := time.NewTicker(claimPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.claimGuard.PruneExpired(ctx); err != nil {
				s.logger.Warn("claim challenge prune failed", "error", err)
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers, janitor)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop fraud sweep timer
	if s.fraudTimer != nil {
		s.fraudTimer.Stop()
		s.logger.Info("fraud timer stopped")
	}

	// Stop reconciliation timer
	if s.reconTimer != nil {
		s.reconTimer.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush trace exporter
	if s.tracesDown != nil {
		if err := s.tracesDown(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
	}

	// Close treasury RPC connection
	if err := s.treasury.Close(); err != nil {
		s.logger.Error("treasury close error", "error", err)
	}

	// Release the submitter singleton lock, then close the pool
	if s.lockConn != nil {
		if err := s.lockConn.Close(); err != nil {
			s.logger.Error("lock release error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// eventFanout delivers each payout lifecycle event to every subscriber:
// the WebSocket hub and the receipt recorder.
type eventFanout struct {
	publishers []payout.EventPublisher
}

func (f *eventFanout) PublishPayout(event string, p *payout.PayoutTransaction) {
	for _, pub := range f.publishers {
		pub.PublishPayout(event, p)
	}
}
