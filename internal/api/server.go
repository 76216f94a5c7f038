package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luthierworks/luthier/internal/config"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/importer"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/metrics"
	"github.com/luthierworks/luthier/internal/models"
	"github.com/luthierworks/luthier/internal/store"
)

// Syncer is the review integration as seen by the HTTP layer.
// importer.Importer satisfies it.
type Syncer interface {
	Run(ctx context.Context, opts importer.RunOptions) (*models.SyncRun, error)
	Status() importer.Status
	Account(ctx context.Context) (*models.UserInfo, error)
	Locations(ctx context.Context) ([]models.Location, error)
	SelectLocation(id string) error
	Disconnect(ctx context.Context) error
}

// Authorizer runs the OAuth consent flow. oauth.Client satisfies it.
type Authorizer interface {
	AuthorizationURL() string
	Exchange(ctx context.Context, code string) (models.Credential, error)
}

// Deps are the collaborators of a Server. Sync and Authorizer are nil when
// the Google integration is disabled.
type Deps struct {
	Store      store.Store
	Sync       Syncer
	Authorizer Authorizer
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	config      config.ServerConfig
	apiConfig   config.APIConfig
	store       store.Store
	sync        Syncer
	authorizer  Authorizer
	metrics     *metrics.Metrics
	logger      *logging.Logger
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	tlsConfig   config.TLSConfig

	callbacksMu sync.RWMutex
	callbacks   map[string]gin.HandlerFunc
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, deps Deps) *Server {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics("luthier")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 50
	}
	maxBody := apiCfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	rateLimiter := newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst)

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		apiConfig:   apiCfg,
		store:       deps.Store,
		sync:        deps.Sync,
		authorizer:  deps.Authorizer,
		metrics:     m,
		logger:      logger,
		rateLimiter: rateLimiter,
		tlsConfig:   cfg.TLS,
		callbacks:   make(map[string]gin.HandlerFunc),
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	if apiCfg.CORS.Enabled {
		server.router.Use(corsMiddleware(apiCfg.CORS, apiCfg.Auth.HeaderName))
	}
	server.router.Use(rateLimitMiddleware(rateLimiter))
	server.router.Use(bodyLimitMiddleware(maxBody))
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	if deps.Authorizer != nil {
		server.RegisterOAuthCallback("google", server.handleGoogleCallback)
	}

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", correlationID)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/health", s.handleHealth)

	s.router.GET("/testimonials", s.handleListTestimonials)
	s.router.GET("/testimonials/:id", s.handleGetTestimonial)

	s.router.GET("/oauth/callback/:provider", s.handleOAuthCallback)

	admin := s.router.Group("/admin")
	admin.Use(APIKeyAuth(s.adminKeys(), s.apiConfig.Auth.HeaderName, s.logger))
	{
		admin.GET("/testimonials", s.handleListTestimonials)
		admin.POST("/testimonials", s.handleCreateTestimonial)
		admin.PUT("/testimonials/:id", s.handleUpdateTestimonial)
		admin.DELETE("/testimonials/:id", s.handleDeleteTestimonial)

		google := admin.Group("/integrations/google")
		google.Use(s.requireIntegration())
		{
			google.GET("", s.handleGoogleStatus)
			google.GET("/connect", s.handleGoogleConnect)
			google.GET("/locations", s.handleGoogleLocations)
			google.PUT("/location", s.handleGoogleSelectLocation)
			google.POST("/sync", s.handleGoogleSync)
			google.DELETE("", s.handleGoogleDisconnect)
		}
	}
}

func (s *Server) adminKeys() []string {
	if !s.apiConfig.Auth.Enabled {
		return nil
	}
	return s.apiConfig.Auth.APIKeys
}

// Run starts the HTTP or HTTPS server based on TLS configuration
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.tlsConfig.Enabled {
		return s.RunTLS()
	}

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// RunTLS starts the HTTPS server with TLS configuration
func (s *Server) RunTLS() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	s.logger.Info("starting HTTPS server", "addr", addr, "cert_file", s.tlsConfig.CertFile)

	srv, err := NewHTTPSServer(addr, s.tlsConfig.CertFile, s.tlsConfig.KeyFile, s.router)
	if err != nil {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	s.httpServer = srv

	if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown stops accepting requests, then closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var errList []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err.Error())
			errList = append(errList, &errors.ErrServerShutdown{Err: err})
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errList = append(errList, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}
	s.logger.Info("graceful shutdown completed")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	resp := gin.H{
		"timestamp": time.Now().UTC(),
		"google":    s.sync != nil,
	}
	if s.store != nil {
		stats := s.store.Stats()
		resp["testimonials"] = stats.TestimonialCount
		resp["imported"] = stats.ImportedCount
	} else {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	resp["status"] = status
	c.JSON(code, resp)
}
