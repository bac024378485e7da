package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/common/mq"
	"rexe/internal/common/storage"
	"rexe/internal/execute/sandbox/engine"
	"rexe/internal/execute/sandbox/observer"
	"rexe/internal/execute/sandbox/profile"
	"rexe/internal/execute/sandbox/runner"
	"rexe/internal/execute/worker"
	"rexe/internal/submission/model"
	"rexe/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/worker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	language := flag.String("language", "", "Language served by this worker (overrides config)")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}
	if *language != "" {
		appCfg.Worker.Language = *language
	}
	lang, ok := model.ParseLanguage(appCfg.Worker.Language)
	if !ok {
		fmt.Fprintf(os.Stderr, "unsupported worker language %q\n", appCfg.Worker.Language)
		os.Exit(2)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() { _ = redisCache.Close() }()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka, mq.NewRedisDeduper(redisCache, appCfg.Kafka.DedupWindow))
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() { _ = mqClient.Close() }()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	store, err := storage.NewJSONStore(objStorage, appCfg.MinIO.Bucket, appCfg.MinIO.Compress)
	if err != nil {
		logger.Error(context.Background(), "init object store failed", zap.Error(err))
		return
	}

	eng, err := engine.NewEngine(appCfg.Engine)
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}

	var metrics observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	var metricsServer *http.Server
	if appCfg.Worker.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		recorder, err := observer.NewPrometheusRecorder(reg)
		if err != nil {
			logger.Error(context.Background(), "init metrics failed", zap.Error(err))
			return
		}
		metrics = recorder
		metricsServer = buildMetricsServer(appCfg.Worker.MetricsAddr, reg)
		go func() {
			logger.Info(context.Background(), "metrics server started", zap.String("addr", appCfg.Worker.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(context.Background(), "metrics server stopped", zap.Error(err))
			}
		}()
	}

	jobRunner := runner.NewRunnerWithObserver(eng, profile.NewLocalRepository(appCfg.Languages), appCfg.Runner, metrics)
	w, err := worker.NewWorker(lang, store, mqClient, jobRunner)
	if err != nil {
		logger.Error(context.Background(), "init worker failed", zap.Error(err))
		return
	}
	consumer, err := mq.NewConsumer(mqClient, mq.ConsumerConfig{
		Name:           "worker-" + string(lang),
		Topic:          w.Topic(),
		Wait:           appCfg.Worker.PollWait,
		MaxAttempts:    appCfg.Worker.MaxAttempts,
		RetryBaseDelay: appCfg.Worker.RetryBaseDelay,
		RetryMaxDelay:  appCfg.Worker.RetryMaxDelay,
	}, w.Handle)
	if err != nil {
		logger.Error(context.Background(), "init consumer failed", zap.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	_ = consumer.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}

func buildMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
