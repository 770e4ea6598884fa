package main

import (
	"context"
	"net/http"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/common/db"
	commonmw "ojudge/internal/common/http/middleware"
	"ojudge/internal/common/mq"
	"ojudge/internal/judge/controller"
	"ojudge/internal/judge/queue"
	"ojudge/internal/judge/repository"
	"ojudge/internal/judge/sandbox/engine"
	"ojudge/internal/judge/service"
	submitController "ojudge/internal/submit/controller"
	submitService "ojudge/internal/submit/service"
	"ojudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

type routeDeps struct {
	submit      *submitService.SubmitService
	run         *service.RunService
	status      *repository.StatusRepository
	submissions repository.SubmissionRepository
	coordinator *queue.Coordinator
	registry    *prometheus.Registry
	checks      map[string]func(context.Context) error
}

func buildHTTPServer(cfg *AppConfig, deps routeDeps) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())
	registerRoutes(router, cfg, deps)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func registerRoutes(router *gin.Engine, cfg *AppConfig, deps routeDeps) {
	router.GET("/healthz", healthz(deps.checks))
	if cfg.Metrics.Enabled && deps.registry != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))
	}
	if !cfg.Roles.API {
		return
	}

	api := router.Group("/api/v1")
	if deps.submit != nil {
		submitCtl := submitController.NewSubmitController(deps.submit)
		api.POST("/submissions", submitCtl.Create)
		api.POST("/submissions/practice/:problemCode", submitCtl.CreatePractice)
	}
	if deps.run != nil {
		api.POST("/run", controller.NewRunController(deps.run).Run)
	}
	judgeCtl := controller.NewJudgeController(deps.status, deps.submissions, deps.coordinator)
	api.GET("/submissions/:id", judgeCtl.GetStatus)
	api.GET("/judge/queue/stats", judgeCtl.QueueStats)
}

func healthz(checks map[string]func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		failed := make(map[string]string)
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			logger.Warn(ctx, "readiness check failed", zap.Any("failed", failed))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func readinessChecks(database *db.Database, redisCache cache.Cache, queueClient mq.MessageQueue, backend *engine.DockerBackend) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": database.Ping,
		"redis":    redisCache.Ping,
		"queue":    queueClient.Ping,
	}
	if backend != nil {
		checks["docker"] = backend.Ping
	}
	return checks
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
