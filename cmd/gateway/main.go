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

	"rexe/internal/common/cache"
	"rexe/internal/common/db"
	commonmw "rexe/internal/common/http/middleware"
	"rexe/internal/common/mq"
	"rexe/internal/common/storage"
	gatewayController "rexe/internal/gateway/controller"
	"rexe/internal/gateway/middleware"
	"rexe/internal/gateway/repository"
	"rexe/internal/gateway/service"
	"rexe/internal/submit/controller"
	submitRepo "rexe/internal/submit/repository"
	submitService "rexe/internal/submit/service"
	"rexe/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/gateway.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	issueFor := flag.String("issue-token", "", "Print an access token for the given user and exit")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if *issueFor != "" {
		token, expiresAt, err := service.NewAuthService(appCfg.Auth.JWT, nil).Issue(*issueFor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
		return
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

	mysqlDB, err := db.OpenMySQL(appCfg.MySQL)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() { _ = mysqlDB.Close() }()

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
	if err := objStorage.EnsureBucket(context.Background(), appCfg.MinIO.Bucket); err != nil {
		logger.Error(context.Background(), "ensure bucket failed", zap.Error(err))
		return
	}
	store, err := storage.NewJSONStore(objStorage, appCfg.MinIO.Bucket, appCfg.MinIO.Compress)
	if err != nil {
		logger.Error(context.Background(), "init object store failed", zap.Error(err))
		return
	}

	cookies, err := submitService.NewCookieSigner(appCfg.Submission.CookieSecret, appCfg.Submission.Retention)
	if err != nil {
		logger.Error(context.Background(), "init cookie signer failed", zap.Error(err))
		return
	}
	svc, err := submitService.NewSubmitService(submitService.Config{
		Store:        store,
		Completions:  submitRepo.NewCompletionRepositoryWithTTL(mysqlDB, redisCache, appCfg.Submission.CompletionTTL),
		Lock:         submitRepo.NewInflightLock(redisCache),
		Queue:        mqClient,
		Cookies:      cookies,
		Limits:       appCfg.Submission.Limits,
		MaxCodeBytes: appCfg.Submission.MaxCodeBytes,
		Retention:    appCfg.Submission.Retention,
		Timeouts:     appCfg.Submission.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	blacklist := repository.NewTokenBlacklistRepository(
		repository.NewLRUCache(appCfg.Auth.BlacklistLocalMax, appCfg.Auth.BlacklistLocalTTL),
		redisCache,
		appCfg.Auth.RedisTimeout,
		appCfg.Auth.BlacklistLocalTTL,
	)
	authService := service.NewAuthService(appCfg.Auth.JWT, blacklist)
	rateService := service.NewRateLimitService(redisCache, appCfg.RateLimit.Run.Window, appCfg.Auth.RedisTimeout)

	httpServer := buildHTTPServer(appCfg, svc, authService, rateService)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "gateway http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, svc *submitService.SubmitService, authService *service.AuthService, rateService *service.RateLimitService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORS))
	router.Use(requestLogger())
	router.Use(func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	})

	submitController := controller.NewSubmitController(svc, cfg.Submission.HTTP)
	authController := gatewayController.NewAuthController(authService)

	router.GET("/health", submitController.Health)

	api := router.Group("/", middleware.AuthMiddleware(authService))
	api.POST("/run", middleware.RateLimitMiddleware(rateService, "run", cfg.RateLimit.Run), submitController.Run)
	api.POST("/save", submitController.Save)
	api.GET("/code", submitController.Load)
	api.GET("/check", submitController.Check)
	api.GET("/watch", submitController.Watch)
	api.POST("/sign-out", authController.SignOut)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
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
