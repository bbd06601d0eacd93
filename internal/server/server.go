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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/circuitbreaker"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/config"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/health"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/idgen"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/incident"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/metrics"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/proctor"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/profile"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/ratelimit"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/realtime"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/scoring"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/security"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/session"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/validation"
	"github.com/Natasha-Nyaga/online-exam-proctoring/migrations"
)

// Version is reported by /health. cmd/server overrides it from ldflags.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	service      *proctor.Service
	models       *scoring.Pair
	profiles     *profile.Watcher
	history      *session.Registry
	sweeper      *session.Sweeper
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	drainDelay   time.Duration

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

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// One breaker per process: store and classifier failures trip
	// independent keys of the same breaker.
	breaker := circuitbreaker.New(5, 30*time.Second)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		calibrationStore calibration.Store
		incidentStore    incident.Store
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

		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		s.db = db
		calibrationStore = calibration.NewPostgresStore(db)
		incidentStore = incident.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		calibrationStore = calibration.NewMemoryStore()
		incidentStore = incident.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Scoring profile. Models are bound to the first layout seen, so a
	// reload that switches layout is rejected.
	profiles, err := profile.Load(cfg.ProfilePath, profile.LockLayout(nil), s.logger)
	if err != nil {
		s.closeDB()
		return nil, err
	}
	s.profiles = profiles

	models, err := scoring.Load(cfg.KeystrokeModelPath, cfg.MouseModelPath, profiles.Current().FeatureLayout(), scoring.RemoteOptions{
		Timeout:     cfg.ModelTimeout,
		MaxAttempts: cfg.RetryAttempts,
		Breaker:     breaker,
	})
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	s.models = models
	if !models.Loaded() {
		s.logger.Warn("classifiers not loaded, analysis will answer model_unavailable",
			"keystroke_model", cfg.KeystrokeModelPath,
			"mouse_model", cfg.MouseModelPath,
		)
	}

	s.history = session.NewRegistry(session.Options{})
	s.sweeper = session.NewSweeper(s.history, cfg.HistoryTTL, s.logger)

	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)

	store := calibration.NewGuarded(calibrationStore, calibration.GuardOptions{
		Timeout:     cfg.StoreTimeout,
		MaxAttempts: cfg.RetryAttempts,
		Breaker:     breaker,
	})
	incidents := incident.NewLogger(incidentStore, incident.LoggerOptions{
		Timeout:     cfg.StoreTimeout,
		MaxAttempts: cfg.RetryAttempts,
		Breaker:     breaker,
	})
	s.service = proctor.NewService(store, incidents, models, profiles, s.history).
		WithPublisher(s.realtimeHub)

	s.health = health.NewRegistry(cfg.StoreTimeout)
	s.health.Register(health.FromError("models", func(context.Context) error {
		if !s.models.Loaded() {
			return errors.New("classifiers not loaded")
		}
		return nil
	}))
	if s.db != nil {
		s.health.Register(health.FromError("database", s.db.PingContext))
	}

	if !cfg.IsDevelopment() {
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

func (s *Server) closeDB() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	// Empty CORS_ORIGINS allows any origin
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting (0 disables)
	if s.cfg.RateLimitRPM > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		s.rateLimiter = ratelimit.New(rl)
		s.router.Use(s.rateLimiter.Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, exam client)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
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
		case path == "/health/live" || path == "/health/ready" || path == "/metrics":
			// probes and scrapes
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

	v1 := s.router.Group("/v1")
	proctor.NewHandler(s.service, s.cfg.StoreTimeout+s.cfg.ModelTimeout).RegisterRoutes(v1)

	// Live incident and analysis feed for proctors
	v1.GET("/feed", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Version      string          `json:"version"`
	ModelsLoaded bool            `json:"models_loaded"`
	Layout       string          `json:"layout"`
	Checks       []health.Status `json:"checks"`
	Timestamp    string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Version:      Version,
		ModelsLoaded: s.models.Loaded(),
		Layout:       string(s.profiles.Current().FeatureLayout()),
		Checks:       checks,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches background workers: the live feed hub, the idle session
// sweeper, rate limiter eviction, DB stats and profile hot reload. They
// stop when ctx is done or Shutdown is called.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.realtimeHub.Run(runCtx)
	go s.sweeper.Start(runCtx)
	if s.rateLimiter != nil {
		go s.rateLimiter.Run(runCtx)
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	s.profiles.Watch()
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"models_loaded", s.models.Loaded(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

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

	// Stop hub, sweeper, limiter eviction and DB stats
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped", "live_sessions", s.history.Len())
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
