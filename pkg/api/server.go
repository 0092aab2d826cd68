package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duraq/pkg/api/middleware"
	"duraq/pkg/auth"
	"duraq/pkg/history"
	"duraq/pkg/logger"
	"duraq/pkg/queue"

	"go.uber.org/zap"
)

// Server is duraq's admin HTTP API: enqueue, inspect, delete, and
// invoke jobs, plus health/metrics/history endpoints.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	producer  *queue.Producer
	repo      *queue.JobRepository
	history   *history.Store     // optional
	activity  queue.ActivityBus  // optional, powers the SSE stream
	validator *middleware.Validator
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Producer    *queue.Producer
	Repo        *queue.JobRepository
	History     *history.Store    // nil disables the history endpoint
	Activity    queue.ActivityBus // nil disables the activity stream endpoint
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	AuthEnabled bool
}

// NewServer creates a new API server with all dependencies wired.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware("duraq-admin"))
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	if cfg.AuthEnabled {
		router.Use(middleware.AuthMiddleware(middleware.AuthConfig{
			JWTService:  cfg.JWTService,
			APIKeyStore: cfg.APIKeyStore,
			SkipPaths:   []string{"/health", "/metrics"},
		}))
	}

	s := &Server{
		router:    router,
		producer:  cfg.Producer,
		repo:      cfg.Repo,
		history:   cfg.History,
		activity:  cfg.Activity,
		validator: middleware.NewValidator(middleware.DefaultValidatorConfig()),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Get().Info("admin API listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Get().Info("admin API shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		jobs := v1.Group("/tenants/:tenant/queues/:queue/jobs")
		{
			jobs.POST("", s.enqueueJob)
			jobs.GET("/:id", s.getJob)
			jobs.DELETE("/:id", s.deleteJob)
			jobs.POST("/:id/invoke", s.invokeJob)
			jobs.GET("/:id/history", s.jobHistory)
		}
		v1.GET("/activity", s.streamActivity)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Get().Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	deps := map[string]bool{
		"backend": s.repo != nil,
	}
	if s.history != nil {
		deps["history"] = true
	}

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
