// Package api wires together all HTTP routes for the QMS backend.
//
// Route grouping philosophy:
//   - /health, /ready, and /version are unauthenticated so that load balancers
//     and orchestrators can probe the service without credentials.
//   - /api/v1/auth/login is the only other public endpoint, behind the strict
//     auth rate limiter to slow credential stuffing before any DB work runs.
//   - Everything else under /api/v1/ requires a valid, unrevoked session. The
//     authenticated middleware stack is what makes handler-side audit records
//     trustworthy: by the time a handler runs, the actor identity on the
//     context has been verified against both the JWT signature and the user
//     table.
package api

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jinkaiteo/qms-backend/internal/api/audittrail"
	"github.com/jinkaiteo/qms-backend/internal/api/documents"
	"github.com/jinkaiteo/qms-backend/internal/api/reports"
	"github.com/jinkaiteo/qms-backend/internal/api/session"
	"github.com/jinkaiteo/qms-backend/internal/api/training"
	"github.com/jinkaiteo/qms-backend/internal/api/users"
	"github.com/jinkaiteo/qms-backend/internal/audit"
	"github.com/jinkaiteo/qms-backend/internal/auth"
	"github.com/jinkaiteo/qms-backend/internal/compliance"
	"github.com/jinkaiteo/qms-backend/internal/config"
	"github.com/jinkaiteo/qms-backend/internal/db/repositories"
	"github.com/jinkaiteo/qms-backend/internal/middleware"
	"github.com/jinkaiteo/qms-backend/internal/storage"

	// Import storage backends to register them
	_ "github.com/jinkaiteo/qms-backend/internal/storage/local"
	_ "github.com/jinkaiteo/qms-backend/internal/storage/s3"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	exporter     *audit.Exporter
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.exporter != nil {
		bg.exporter.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize storage backend
	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	docRepo := repositories.NewDocumentRepository(db)
	trainingRepo := repositories.NewTrainingRepository(db)

	// Audit core: writer/reader service, verifier, compliance reporter
	auditSvc := audit.NewService(auditRepo)
	verifier := audit.NewVerifier(auditSvc)
	reporter := compliance.NewReporter(auditSvc, verifier, cfg.Compliance.Modules, cfg.Compliance.ReportRecordCap)

	// Session revocation store
	revoker := newRevoker(cfg)

	// Audit export pipeline (optional)
	exporter := newExporter(cfg, auditRepo)
	if exporter != nil {
		if err := exporter.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start audit exporter: %v", err)
		}
		log.Printf("Audit exporter started (interval %s)", cfg.Audit.Export.Interval)
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, storageBackend))

	// API version
	router.GET("/version", versionHandler())

	// Initialize handlers
	sessionHandlers := session.NewHandlers(userRepo, auditSvc, revoker, cfg.Auth.TokenTTL)
	userHandlers := users.NewHandlers(userRepo, auditSvc)
	auditHandlers := audittrail.NewHandlers(auditSvc, verifier)
	reportHandlers := reports.NewHandlers(reporter)
	documentHandlers := documents.NewHandlers(docRepo, auditSvc, storageBackend)
	trainingHandlers := training.NewHandlers(trainingRepo, userRepo, auditSvc)

	// Initialize rate limiters
	authRateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimitConfig())
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	uploadRateLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())

	apiV1 := router.Group("/api/v1")
	{
		// Login is public but strictly rate limited
		apiV1.POST("/auth/login",
			middleware.RateLimitMiddleware(authRateLimiter),
			sessionHandlers.LoginHandler())

		// Everything else requires a valid, unrevoked session
		authenticated := apiV1.Group("")
		authenticated.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		authenticated.Use(middleware.AuthMiddleware(userRepo, revoker))
		{
			authenticated.POST("/auth/logout", sessionHandlers.LogoutHandler())
			authenticated.GET("/auth/me", sessionHandlers.MeHandler())

			// Account administration
			authenticated.GET("/users", userHandlers.ListHandler())
			authenticated.POST("/users", userHandlers.CreateHandler())
			authenticated.PUT("/users/:id/active", userHandlers.SetActiveHandler())

			// Audit trail (read-only plus verification)
			authenticated.GET("/audit", auditHandlers.ListHandler())
			authenticated.POST("/audit/verify", auditHandlers.VerifyHandler())
			authenticated.GET("/audit/:id", auditHandlers.GetHandler())

			// Compliance reports
			authenticated.GET("/compliance/report", reportHandlers.ReportHandler())
			authenticated.GET("/compliance/report/full", reportHandlers.FullReportHandler())

			// EDMS: controlled documents
			authenticated.GET("/documents", documentHandlers.ListHandler())
			authenticated.POST("/documents", documentHandlers.CreateHandler())
			authenticated.GET("/documents/:id", documentHandlers.GetHandler())
			authenticated.PUT("/documents/:id", documentHandlers.UpdateHandler())
			authenticated.DELETE("/documents/:id", documentHandlers.DeleteHandler())
			authenticated.POST("/documents/:id/submit", documentHandlers.SubmitHandler())
			authenticated.POST("/documents/:id/approve", documentHandlers.ApproveHandler())
			authenticated.POST("/documents/:id/reject", documentHandlers.RejectHandler())
			authenticated.POST("/documents/:id/obsolete", documentHandlers.ObsoleteHandler())
			authenticated.GET("/documents/:id/content", documentHandlers.DownloadContentHandler())
			authenticated.POST("/documents/:id/content",
				middleware.RateLimitMiddleware(uploadRateLimiter),
				documentHandlers.UploadContentHandler())

			// TRM: training assignments
			authenticated.GET("/training", trainingHandlers.ListHandler())
			authenticated.POST("/training", trainingHandlers.AssignHandler())
			authenticated.POST("/training/:id/complete", trainingHandlers.CompleteHandler())
		}
	}

	bg := &BackgroundServices{
		exporter:     exporter,
		rateLimiters: []*middleware.RateLimiter{authRateLimiter, generalRateLimiter, uploadRateLimiter},
	}

	return router, bg
}

// newRevoker builds the session revocation store named in the configuration.
func newRevoker(cfg *config.Config) auth.Revoker {
	switch cfg.Auth.RevokerBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Auth.Redis.Addr,
			Password: cfg.Auth.Redis.Password,
			DB:       cfg.Auth.Redis.DB,
		})
		revoker, err := auth.NewRedisRevoker(context.Background(), client)
		if err != nil {
			log.Fatalf("Failed to connect to redis revoker: %v", err)
		}
		return revoker
	default:
		return auth.NewMemoryRevoker()
	}
}

// newExporter builds the audit exporter from configuration, or returns nil
// when export is disabled.
func newExporter(cfg *config.Config, auditRepo *repositories.AuditRepository) *audit.Exporter {
	if !cfg.Audit.Export.Enabled {
		return nil
	}

	shipperCfgs := make([]audit.ShipperConfig, 0, 2)
	if cfg.Audit.Export.FilePath != "" {
		shipperCfgs = append(shipperCfgs, audit.ShipperConfig{
			Enabled: true,
			Type:    "file",
			File:    &audit.FileConfig{Path: cfg.Audit.Export.FilePath},
		})
	}
	if cfg.Audit.Export.WebhookURL != "" {
		shipperCfgs = append(shipperCfgs, audit.ShipperConfig{
			Enabled: true,
			Type:    "webhook",
			Webhook: &audit.WebhookConfig{
				URL:     cfg.Audit.Export.WebhookURL,
				Timeout: cfg.Audit.Export.WebhookTimeout,
			},
		})
	}

	shipper, err := audit.NewMultiShipper(shipperCfgs)
	if err != nil {
		log.Fatalf("Failed to configure audit export: %v", err)
	}
	return audit.NewExporter(auditRepo, shipper, cfg.Audit.Export.Interval)
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database and storage backend connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the storage backend so
// that a Kubernetes readiness gate fails when uploads/downloads would error.
func readinessHandler(db *sqlx.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Check storage backend — probe with a known-absent sentinel path.
		// Exists() exercises authentication and network connectivity without
		// creating any state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
