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
	"rexe/internal/common/db"
	"rexe/internal/common/mq"
	"rexe/internal/ingest/service"
	"rexe/internal/submit/repository"
	"rexe/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/ingestor.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	mysqlDB, err := db.OpenMySQL(appCfg.MySQL)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() { _ = mysqlDB.Close() }()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() { _ = redisCache.Close() }()

	// Notices carry their own fingerprint; duplicates are absorbed by the unique key.
	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka, nil)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() { _ = mqClient.Close() }()

	var metrics service.Metrics
	var metricsServer *http.Server
	if appCfg.Ingest.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := service.NewPrometheusMetrics(reg)
		if err != nil {
			logger.Error(context.Background(), "init metrics failed", zap.Error(err))
			return
		}
		metrics = m
		router := gin.New()
		router.Use(gin.Recovery())
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
		metricsServer = &http.Server{Addr: appCfg.Ingest.MetricsAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(context.Background(), "metrics server stopped", zap.Error(err))
			}
		}()
	}

	ingestor, err := service.NewIngestService(
		repository.NewCompletionRepositoryWithTTL(mysqlDB, redisCache, appCfg.Ingest.CompletionTTL),
		repository.NewInflightLock(redisCache),
		mqClient,
		metrics,
	)
	if err != nil {
		logger.Error(context.Background(), "init ingest service failed", zap.Error(err))
		return
	}
	consumer, err := mq.NewConsumer(mqClient, mq.ConsumerConfig{
		Name:           "ingestor",
		Topic:          ingestor.Topic(),
		Wait:           appCfg.Ingest.PollWait,
		MaxAttempts:    appCfg.Ingest.MaxAttempts,
		RetryBaseDelay: appCfg.Ingest.RetryBaseDelay,
		RetryMaxDelay:  appCfg.Ingest.RetryMaxDelay,
	}, ingestor.Handle)
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
