// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/propline/onboarding/internal/billing"
	"github.com/propline/onboarding/internal/circuitbreaker"
	"github.com/propline/onboarding/internal/config"
	"github.com/propline/onboarding/internal/health"
	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/internal/metrics"
	"github.com/propline/onboarding/internal/onboarding"
	"github.com/propline/onboarding/internal/ratelimit"
	"github.com/propline/onboarding/internal/security"
	"github.com/propline/onboarding/internal/tenant"
	"github.com/propline/onboarding/internal/validation"
	"github.com/propline/onboarding/internal/webhooks"
	"github.com/propline/onboarding/migrations"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	processor    billing.Processor
	sessions     *onboarding.Service
	bridge       *onboarding.Bridge
	sessionTimer *onboarding.Timer
	tenants      *tenant.Service
	webhooks     *webhooks.Processor
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB               // nil if using in-memory
	redis        redis.UniversalClient // nil unless REDIS_URL is set or injected
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
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

// WithProcessor sets a custom payment processor (for testing)
func WithProcessor(p billing.Processor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

// WithRedis sets the Redis client backing the webhook ledger.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithVersion sets the build version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(health.DefaultTimeout),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		sessionStore onboarding.Store
		tenantStore  tenant.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		sessionStore = onboarding.NewPostgresStore(db)
		tenantStore = tenant.NewPostgresStore(db)
		s.health.Register("database", health.Database(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		sessionStore = onboarding.NewMemoryStore()
		tenantStore = tenant.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.redis == nil && cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
	}
	if s.redis != nil {
		s.health.Register("redis", health.Redis(s.redis))
	}

	if s.processor == nil {
		s.processor = billing.NewStripeProcessor(billing.StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			Timeout:   cfg.StripeTimeout,
			Logger:    s.logger,
			Breaker:   circuitbreaker.New(5, 30*time.Second),
		})
	}

	s.tenants = tenant.NewService(tenantStore, s.logger)
	s.sessions = onboarding.NewService(sessionStore, &provisionerAdapter{s.tenants}, s.logger)

	bridgeCfg := onboarding.DefaultBridgeConfig()
	bridgeCfg.Currency = cfg.StripeCurrency
	bridgeCfg.CallTimeout = cfg.StripeTimeout
	s.bridge = onboarding.NewBridge(s.sessions, sessionStore, s.processor, bridgeCfg, s.logger)
	s.sessionTimer = onboarding.NewTimer(s.sessions, cfg.SessionCleanupInterval, s.logger)

	s.webhooks = webhooks.NewProcessor(cfg.StripeWebhookSecret, s.sessions, s.tenants, s.newLedger(), s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// newLedger picks the processed-event ledger: Redis, then Postgres, then memory.
func (s *Server) newLedger() webhooks.Ledger {
	switch {
	case s.redis != nil:
		s.logger.Info("webhook ledger: redis", "ttl", webhooks.DefaultLedgerTTL)
		return webhooks.NewRedisLedger(s.redis, webhooks.DefaultLedgerTTL)
	case s.db != nil:
		s.logger.Info("webhook ledger: postgres")
		return webhooks.NewPostgresLedger(s.db)
	default:
		s.logger.Info("webhook ledger: in-memory")
		return webhooks.NewMemoryLedger()
	}
}

func (s *Server) closeStores() {
	if s.db != nil {
		_ = s.db.Close()
	}
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

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

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

	// Outside the rate-limited /v1 group.
	webhooks.NewHandler(s.webhooks).RegisterRoutes(&s.router.RouterGroup)

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         max(s.cfg.RateLimitRPM/6, 1),
	})
	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimiter.Middleware())

	onboarding.NewHandler(s.sessions, s.bridge).RegisterRoutes(v1)

	admin := v1.Group("/admin")
	admin.Use(tenant.RequireAdmin(s.cfg.AdminSecret))
	tenant.NewHandler(s.tenants).RegisterAdminRoutes(admin)
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
	report := s.health.Run(c.Request.Context())

	checks := make(map[string]string, len(report.Checks))
	for _, st := range report.Checks {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
			logging.L(c.Request.Context()).Warn("health check failed", "check", st.Name, "detail", st.Detail)
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !report.Healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
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
	if !s.health.Run(c.Request.Context()).Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "dependencies_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.sessionTimer.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.cancelRunCtx()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sessionTimer.Stop()
	s.logger.Info("session cleanup timer stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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
// Adapters
// -----------------------------------------------------------------------------

// provisionerAdapter adapts tenant.Service to onboarding.Provisioner
type provisionerAdapter struct {
	tenants *tenant.Service
}

func (a *provisionerAdapter) Provision(ctx context.Context, req onboarding.ProvisionRequest) (*onboarding.Organization, error) {
	t, err := a.tenants.Provision(ctx, tenant.ProvisionRequest{
		OnboardingToken: req.SessionToken,
		Name:            req.Name,
		Website:         req.Website,
		Description:     req.Description,
		OwnerUserID:     req.OwnerUserID,
		Tier:            req.Tier,
		BillingCycle:    req.BillingCycle,
		CustomerRef:     req.CustomerRef,
	})
	if err != nil {
		return nil, err
	}
	return &onboarding.Organization{ID: t.ID, Name: t.Name, Slug: t.Slug, Tier: t.Plan}, nil
}
