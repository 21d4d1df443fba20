package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/foliohq/folio-api/api/swagger"
	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/handler"
	"github.com/foliohq/folio-api/internal/middleware"
	"github.com/foliohq/folio-api/internal/models"
	"github.com/foliohq/folio-api/internal/repository"
	"github.com/foliohq/folio-api/internal/service"
	"github.com/foliohq/folio-api/pkg/cache"
	"github.com/foliohq/folio-api/pkg/config"
	"github.com/foliohq/folio-api/pkg/database"
	"github.com/foliohq/folio-api/pkg/logger"
	corsmiddleware "github.com/foliohq/folio-api/pkg/middleware/cors"
	reqidmiddleware "github.com/foliohq/folio-api/pkg/middleware/requestid"
)

// @title Folio API
// @version 1.0.0
// @description Multi-tenant content backend with a tamper-evident, PII-protected audit trail
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, audit listing cache disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	validate := validator.New()

	metricsService := service.NewMetricsService()

	// Audit pipeline: PII registry, encryption, diffing and the store.
	registry := audit.NewRegistry()
	models.RegisterPIIFields(registry)
	auditRepo := repository.NewAuditRepository(db)
	auditor := audit.NewService(auditRepo, registry, logr, metricsService, audit.Config{
		Enabled:       cfg.Audit.Enabled,
		EncryptionKey: cfg.Audit.PIIEncryptionKey,
	})
	audit.SetDefault(auditor)

	userRepo := repository.NewUserRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	authService := service.NewAuthService(userRepo, auditor, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	documentService := service.NewDocumentService(documentRepo, auditor, validate, logr)
	auditQueryService := service.NewAuditQueryService(auditRepo, cacheRepo, auditor, metricsService, validate, logr, cfg.Audit.CacheTTL)
	retentionService := service.NewRetentionService(auditRepo, cacheRepo, auditor, logr, cfg.Audit.RetentionDays, cfg.Audit.SweepInterval)

	authHandler := handler.NewAuthHandler(authService)
	documentHandler := handler.NewDocumentHandler(documentService)
	auditHandler := handler.NewAuditHandler(auditQueryService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))
	r.Use(middleware.AuditContext())

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
			auth.GET("/me", middleware.JWT(authService), authHandler.Me)
		}

		documents := api.Group("/documents", middleware.JWT(authService))
		{
			documents.POST("", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleEditor), documentHandler.Create)
			documents.GET("/:id", documentHandler.Get)
			documents.PATCH("/:id", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleEditor), documentHandler.Update)
			documents.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), documentHandler.Delete)
		}

		auditGroup := api.Group("/audit", middleware.JWT(authService))
		{
			auditGroup.GET("/events", auditHandler.List)
			auditGroup.GET("/events/export", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), auditHandler.Export)
			auditGroup.GET("/events/:id", auditHandler.Get)
			auditGroup.GET("/events/:id/verify", middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), auditHandler.VerifyIntegrity)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retentionService.Start(ctx)
	defer retentionService.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
