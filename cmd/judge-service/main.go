package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/common/db"
	"ojudge/internal/common/mq"
	"ojudge/internal/common/storage"
	"ojudge/internal/common/tracing"
	"ojudge/internal/judge/metrics"
	"ojudge/internal/judge/queue"
	"ojudge/internal/judge/repository"
	"ojudge/internal/judge/sandbox/engine"
	"ojudge/internal/judge/sandbox/profile"
	"ojudge/internal/judge/sandbox/runner"
	"ojudge/internal/judge/service"
	submitService "ojudge/internal/submit/service"
	"ojudge/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultConfigPath = "configs/judge-service.yaml"
	workerHealthName  = "ojudge.judge.worker"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, appCfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), defaultReadTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn(flushCtx, "flush traces failed", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	database, err := db.Open(ctx, appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := newMessageQueue(appCfg)
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}
	defer func() {
		_ = mqClient.Close()
	}()

	var objStorage storage.ObjectStorage
	if appCfg.Storage.Enabled {
		objStorage, err = storage.NewMinIOStorage(appCfg.Storage.MinIOConfig)
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
	}

	languages, err := loadLanguages(appCfg.Sandbox.LanguageFile)
	if err != nil {
		return err
	}

	submissionRepo := repository.NewSubmissionRepository(database)
	problemRepo := repository.NewProblemRepository(database, redisCache, objStorage, repository.ProblemRepositoryConfig{
		CacheTTL:      appCfg.Problem.CacheTTL,
		EmptyCacheTTL: appCfg.Problem.EmptyCacheTTL,
		Bucket:        appCfg.Storage.Bucket,
		MaxBlobBytes:  appCfg.Storage.MaxBlobBytes,
	})
	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.TTL)

	var judgeSvc *service.Service
	var runSvc *service.RunService
	var backend *engine.DockerBackend
	if appCfg.Roles.Worker {
		backend, err = engine.NewDockerBackend(appCfg.Sandbox.toDockerConfig())
		if err != nil {
			return fmt.Errorf("init docker backend: %w", err)
		}
		defer func() {
			_ = backend.Close()
		}()
		prepareBackend(ctx, appCfg.Sandbox, backend, languages)

		executor, err := runner.NewExecutor(appCfg.Sandbox.Config, languages, backend, recorder)
		if err != nil {
			return fmt.Errorf("init executor: %w", err)
		}
		var events repository.StatusEventPublisher
		if appCfg.Queue.Driver == "kafka" {
			events = repository.NewMQStatusEventPublisher(mqClient, appCfg.Kafka.StatusTopic)
		}
		judgeSvc, err = service.NewService(service.Config{
			Executor:      executor,
			Submissions:   submissionRepo,
			Problems:      problemRepo,
			Leaderboard:   repository.NewLeaderboardRepository(database, redisCache),
			StatusRepo:    statusRepo,
			Events:        events,
			Recorder:      recorder,
			StatusTimeout: appCfg.Status.Timeout,
		})
		if err != nil {
			return fmt.Errorf("init judge service: %w", err)
		}
		runSvc, err = service.NewRunService(executor, service.RunConfig{MaxCodeBytes: appCfg.Submit.MaxCodeBytes})
		if err != nil {
			return fmt.Errorf("init run service: %w", err)
		}
	}

	var handler queue.JobHandler
	if judgeSvc != nil {
		handler = judgeSvc
	}
	coordinator, err := queue.NewCoordinator(appCfg.Queue.Config, mqClient, handler, queue.Options{
		Stats:    queue.NewStatsStore(redisCache, appCfg.Queue.StatsKey),
		Lock:     cache.NewTokenLock(redisCache),
		Recorder: recorder,
	})
	if err != nil {
		return fmt.Errorf("init job coordinator: %w", err)
	}

	var submitSvc *submitService.SubmitService
	if appCfg.Roles.API {
		submitSvc, err = submitService.NewSubmitService(submitService.Config{
			Submissions:    submissionRepo,
			Problems:       problemRepo,
			Languages:      languages,
			Jobs:           coordinator,
			Status:         statusRepo,
			Cache:          redisCache,
			MaxCodeBytes:   appCfg.Submit.MaxCodeBytes,
			IdempotencyTTL: appCfg.Submit.IdempotencyTTL,
			Timeouts: submitService.TimeoutConfig{
				DB:    appCfg.Submit.DBTimeout,
				Cache: appCfg.Submit.CacheTimeout,
				MQ:    appCfg.Submit.MQTimeout,
			},
		})
		if err != nil {
			return fmt.Errorf("init submit service: %w", err)
		}
	}

	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	grpcListener, err := net.Listen("tcp", appCfg.Server.GRPCHealthAddr)
	if err != nil {
		return fmt.Errorf("init grpc health listener: %w", err)
	}

	httpServer := buildHTTPServer(appCfg, routeDeps{
		submit:      submitSvc,
		run:         runSvc,
		status:      statusRepo,
		submissions: submissionRepo,
		coordinator: coordinator,
		registry:    registry,
		checks:      readinessChecks(database, redisCache, mqClient, backend),
	})
	httpListener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		_ = grpcListener.Close()
		return fmt.Errorf("init http listener: %w", err)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if judgeSvc != nil {
		if err := coordinator.Start(workerCtx); err != nil {
			return fmt.Errorf("start workers: %w", err)
		}
		if appCfg.Sandbox.SweepOrphans && appCfg.Sandbox.SweepInterval > 0 {
			go sweepLoop(workerCtx, appCfg.Sandbox.SweepInterval, backend)
		}
		healthSrv.SetServingStatus(workerHealthName, healthpb.HealthCheckResponse_SERVING)
	}
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(httpListener)
	}()
	go func() {
		logger.Info(ctx, "grpc health server started", zap.String("addr", appCfg.Server.GRPCHealthAddr))
		errCh <- grpcServer.Serve(grpcListener)
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-signalCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if judgeSvc != nil {
		drainWorkers(shutdownCtx, coordinator, stopWorkers)
	}
	grpcServer.GracefulStop()
	return serveErr
}

// drainWorkers stops fetching and waits for in-flight jobs until the grace
// period ends, then cancels the ones still running so they are redelivered.
func drainWorkers(ctx context.Context, coordinator *queue.Coordinator, cancelJobs context.CancelFunc) {
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Stop()
	}()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn(ctx, "stop workers failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Warn(ctx, "grace period elapsed, canceling in-flight jobs", zap.Int("in_flight", coordinator.InFlight()))
		cancelJobs()
		<-done
	}
}

// sweepLoop removes containers left by workers that died mid-execution.
func sweepLoop(ctx context.Context, interval time.Duration, backend *engine.DockerBackend) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := backend.SweepOrphans(ctx)
			if err != nil {
				logger.Warn(ctx, "sweep orphan containers failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info(ctx, "removed orphan containers", zap.Int("count", removed))
			}
		}
	}
}

func newMessageQueue(appCfg *AppConfig) (mq.MessageQueue, error) {
	if appCfg.Queue.Driver == "memory" {
		return mq.NewMemoryQueue(), nil
	}
	return mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
}

func loadLanguages(path string) (*profile.Registry, error) {
	if path == "" {
		return profile.NewDefaultRegistry(), nil
	}
	registry, err := profile.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}
	return registry, nil
}

// prepareBackend removes leftovers of a previous process and pulls missing
// images. Failures are logged; executions surface them per job.
func prepareBackend(ctx context.Context, cfg SandboxConfig, backend *engine.DockerBackend, languages *profile.Registry) {
	if cfg.SweepOrphans {
		removed, err := backend.SweepOrphans(ctx)
		if err != nil {
			logger.Warn(ctx, "sweep orphan containers failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info(ctx, "removed orphan containers", zap.Int("count", removed))
		}
	}
	if !cfg.PullImages {
		return
	}
	for _, ref := range languages.Images() {
		if err := backend.EnsureImage(ctx, ref); err != nil {
			logger.Warn(ctx, "ensure sandbox image failed", zap.String("image", ref), zap.Error(err))
		}
	}
}
