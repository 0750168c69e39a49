package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sigae-edu/sigae-api/api/swagger"
	"github.com/sigae-edu/sigae-api/internal/handler"
	"github.com/sigae-edu/sigae-api/internal/middleware"
	"github.com/sigae-edu/sigae-api/internal/repository"
	"github.com/sigae-edu/sigae-api/internal/service"
	"github.com/sigae-edu/sigae-api/pkg/cache"
	"github.com/sigae-edu/sigae-api/pkg/config"
	"github.com/sigae-edu/sigae-api/pkg/database"
	"github.com/sigae-edu/sigae-api/pkg/logger"
	corsmiddleware "github.com/sigae-edu/sigae-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sigae-edu/sigae-api/pkg/middleware/requestid"
)

// @title SIGAE API
// @version 1.0.0
// @description Academic year and enrollment lifecycle service
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Stats fall back to direct queries when Redis is unavailable.
		logr.Sugar().Warnw("redis unavailable, running without stats cache", "error", err)
		redisClient = nil
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	yearRepo := repository.NewYearRepository(db)
	termRepo := repository.NewTermRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	eventRepo := repository.NewEventRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, metricsSvc, logr)

	yearSvc := service.NewYearService(yearRepo, termRepo, enrollmentRepo, eventRepo, service.PromoteAllPolicy(), validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, yearRepo, catalogRepo, eventRepo, cacheRepo, cfg.Stats.CacheTTL, validate, logr)
	gradeChangeSvc := service.NewGradeChangeService(enrollmentRepo, catalogRepo, yearRepo, enrollmentSvc, cfg.Promotions.MinimumAverage, validate, logr)

	yearHandler := handler.NewYearHandler(yearSvc, metricsSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, metricsSvc)
	gradeChangeHandler := handler.NewGradeChangeHandler(gradeChangeSvc, metricsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Permission grants live in the surrounding platform; until its
	// oracle is plugged in, authenticated actors may invoke everything.
	oracle := middleware.AllowAll()

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		years := api.Group("/academic-years")
		{
			years.GET("", yearHandler.List)
			years.POST("", middleware.RequirePermission(oracle, "academic_years.create"), yearHandler.Create)
			years.GET("/:id", yearHandler.Get)
			years.DELETE("/:id", middleware.RequirePermission(oracle, "academic_years.delete"), yearHandler.Delete)
			years.GET("/:id/terms", yearHandler.Terms)
			years.POST("/:id/terms", middleware.RequirePermission(oracle, "academic_years.edit"), yearHandler.AddTerm)
			years.GET("/:id/validate-activation", yearHandler.ValidateActivation)
			years.PUT("/:id/activate", middleware.RequirePermission(oracle, "academic_years.activate"), yearHandler.Activate)
			years.PUT("/:id/close", middleware.RequirePermission(oracle, "academic_years.close"), yearHandler.Close)
			years.GET("/:id/permissions", yearHandler.Permissions)
			years.GET("/:id/enrollment-stats", enrollmentHandler.Stats)
		}

		enrollments := api.Group("/enrollments")
		{
			enrollments.GET("", enrollmentHandler.List)
			enrollments.POST("", middleware.RequirePermission(oracle, "enrollments.create"), enrollmentHandler.Create)
			enrollments.POST("/promote", middleware.RequirePermission(oracle, "enrollments.promote"), enrollmentHandler.Promote)
			enrollments.GET("/:id", enrollmentHandler.Get)
			enrollments.GET("/:id/events", enrollmentHandler.Events)
			enrollments.PUT("/:id/withdraw", middleware.RequirePermission(oracle, "enrollments.withdraw"), enrollmentHandler.Withdraw)
			enrollments.PUT("/:id/transfer", middleware.RequirePermission(oracle, "enrollments.transfer"), enrollmentHandler.Transfer)
			enrollments.PUT("/:id/group", middleware.RequirePermission(oracle, "enrollments.change_group"), enrollmentHandler.ChangeGroup)
			enrollments.PUT("/:id/reactivate", middleware.RequirePermission(oracle, "enrollments.reactivate"), enrollmentHandler.Reactivate)
			enrollments.GET("/:id/grade-change/validate", gradeChangeHandler.Validate)
			enrollments.PUT("/:id/grade-change", middleware.RequirePermission(oracle, "enrollments.grade_change"), gradeChangeHandler.Execute)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
