package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medreminder/internal/config"
	"github.com/medreminder/internal/db"
	"github.com/medreminder/internal/handler"
	"github.com/medreminder/internal/logging"
	"github.com/medreminder/internal/router"
	"github.com/medreminder/internal/service"
	"github.com/medreminder/internal/task"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	api := handler.NewAPI(db.DB, cfg.DosePoints, publisher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := task.NewRunner(logger,
		service.PruneTask(api.Effects(), cfg.PruneInterval, logger),
		service.MaterializeTask(api.Ledger(), cfg.MaterializeInterval, logger),
		service.StreakTask(api.Points(), api.Ledger(), cfg.StreakInterval, logger),
	)
	runner.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router.SetupRouter(api, cfg, logger),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	runner.Wait()
}

// newPublisher 配置了 Redis 时通过 PUBLISH 广播事件，否则只写日志
func newPublisher(cfg config.AppConfig, logger *zap.Logger) (service.EventPublisher, func()) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return service.NewLogPublisher(logger), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, events may be dropped", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	return service.NewRedisPublisher(client, cfg.EventChannel), func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis client", zap.Error(err))
		}
	}
}
