package main

import (
	"context"
	"errors"
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
	"go.uber.org/zap"

	_ "github.com/riseschools/results-api/api/swagger"
	"github.com/riseschools/results-api/internal/handler"
	"github.com/riseschools/results-api/internal/middleware"
	"github.com/riseschools/results-api/internal/models"
	"github.com/riseschools/results-api/internal/repository"
	"github.com/riseschools/results-api/internal/service"
	"github.com/riseschools/results-api/pkg/cache"
	"github.com/riseschools/results-api/pkg/config"
	"github.com/riseschools/results-api/pkg/database"
	"github.com/riseschools/results-api/pkg/export"
	"github.com/riseschools/results-api/pkg/jobs"
	"github.com/riseschools/results-api/pkg/logger"
	corsmiddleware "github.com/riseschools/results-api/pkg/middleware/cors"
	reqidmiddleware "github.com/riseschools/results-api/pkg/middleware/requestid"
	"github.com/riseschools/results-api/pkg/storage"
)

// @title Rise Schools Results API
// @version 1.0.0
// @description Grade computation, ranking and reporting engine
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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, report cache disabled", zap.Error(err))
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	rankingRepo := repository.NewRankingRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "results-api",
	})
	sessionSvc := service.NewSessionService(sessionRepo, validate, logr)
	rankingSvc := service.NewRankingService(rankingRepo, sectionRepo, scoreRepo, cacheSvc, metricsSvc, logr)
	scoreSvc := service.NewScoreService(studentRepo, enrollmentRepo, scoreRepo, rankingSvc, validate, logr)
	rosterSvc := service.NewRosterService(sectionRepo, studentRepo, enrollmentRepo, rankingSvc, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, subjectRepo, validate, logr)
	reportSvc := service.NewReportService(scoreRepo, studentRepo, sectionRepo, sessionRepo, cacheSvc, metricsSvc, cfg.Cache.TTL, logr)
	studentSvc := service.NewStudentService(studentRepo, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, logr)
	sectionSvc := service.NewSectionService(sectionRepo, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exportSvc *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		exportRepo := repository.NewExportRepository(db)
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Fatal("failed to prepare export storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

		var worker *service.ExportWorker
		exportQueue = jobs.NewQueue("exports", func(ctx context.Context, job jobs.Job) error {
			return worker.Handle(ctx, job)
		}, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportSvc = service.NewExportService(exportRepo, reportSvc, sectionRepo, exportQueue, store, signer, service.ExportConfig{
			APIPrefix:       cfg.APIPrefix,
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
			MaxRetries:      cfg.Exports.WorkerRetries,
		}, logr, export.NewCSVExporter(), export.NewPDFExporter())
		worker = service.NewExportWorker(exportRepo, exportSvc, cfg.Exports.WorkerRetries, logr)

		exportQueue.Start(ctx)
		defer exportQueue.Stop()
		exportSvc.RecoverPendingJobs(ctx)
		exportSvc.StartCleanup(ctx)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	subjectHandler := handler.NewSubjectHandler(subjectSvc)
	sectionHandler := handler.NewSectionHandler(sectionSvc, rosterSvc, sessionSvc)
	scoreHandler := handler.NewScoreHandler(scoreSvc, sessionSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, sessionSvc)
	reportHandler := handler.NewReportHandler(reportSvc, sessionSvc)
	rankingHandler := handler.NewRankingHandler(rankingSvc, sessionSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		api.GET("/exports/download/:token", exportHandler.Download)

		protected := api.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher))
		protected.POST("/exports", exportHandler.Create)
		protected.GET("/exports/:id", exportHandler.Status)
	}

	authed := api.Group("", middleware.JWT(authSvc))
	{
		authed.POST("/auth/logout", authHandler.Logout)
		authed.GET("/auth/me", authHandler.Me)

		authed.GET("/sessions", sessionHandler.List)
		authed.GET("/sessions/current", sessionHandler.Current)
		authed.GET("/sessions/:id", sessionHandler.Get)
		authed.POST("/sessions", middleware.RequireRoles(models.RoleAdmin), sessionHandler.Create)
		authed.POST("/sessions/:id/activate", middleware.RequireRoles(models.RoleAdmin), sessionHandler.Activate)
		authed.GET("/sessions/:id/terms", sessionHandler.TermConfigs)
		authed.PUT("/sessions/:id/terms", middleware.RequireRoles(models.RoleAdmin), sessionHandler.SetTermConfig)

		authed.GET("/classes", sectionHandler.ListClasses)
		authed.GET("/subjects", subjectHandler.List)
		authed.GET("/subjects/:id", subjectHandler.Get)

		staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
		selfOrStaff := middleware.RBAC(string(models.RoleAdmin), string(models.RoleTeacher), middleware.SelfScope)

		authed.GET("/students", staff, studentHandler.List)
		authed.GET("/students/:id", selfOrStaff, studentHandler.Get)
		authed.GET("/students/:id/enrollments", selfOrStaff, enrollmentHandler.List)
		authed.PUT("/students/:id/enrollments", staff, enrollmentHandler.Assign)
		authed.GET("/students/:id/scores", selfOrStaff, scoreHandler.List)
		authed.PUT("/students/:id/scores", staff, scoreHandler.Submit)
		authed.GET("/students/:id/report-card", selfOrStaff, reportHandler.ReportCard)

		authed.GET("/sections", staff, sectionHandler.List)
		authed.GET("/sections/:id", staff, sectionHandler.Get)
		authed.GET("/sections/:id/students", staff, sectionHandler.Roster)
		authed.POST("/sections/:id/students", staff, sectionHandler.AssignStudent)
		authed.DELETE("/sections/:id/students/:studentId", staff, sectionHandler.RemoveStudent)
		authed.GET("/sections/:id/broadsheet", staff, reportHandler.Broadsheet)
		authed.GET("/sections/:id/summary", staff, reportHandler.SectionSummary)

		authed.POST("/rankings/subjects/:id/recompute", middleware.RequireRoles(models.RoleAdmin), rankingHandler.RecomputeSubject)
		authed.POST("/rankings/sections/:id/recompute", middleware.RequireRoles(models.RoleAdmin), rankingHandler.RecomputeClass)

		authed.GET("/metrics/snapshot", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forced shutdown", zap.Error(err))
	}
}
