package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kyungseok/orderflow/common/logger"
	"github.com/kyungseok/orderflow/internal/gateway"
)

func main() {
	log, err := logger.NewLogger("gateway-service", true)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	cfg := gateway.LoadConfig()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	log.Info("connected to redis")

	registry := gateway.NewRegistry(cfg.Upstreams)
	limiter := gateway.NewRateLimiter(redisClient, cfg.RateLimitBucketSize, cfg.RateLimitRefillPerSec, cfg.RateLimitOverrides)
	forwarder := gateway.NewForwarder(cfg.UpstreamTimeout)

	router := gateway.NewRouter(cfg, registry, limiter, forwarder, log)

	server := &http.Server{
		Addr:    ":" + cfg.ServicePort,
		Handler: router,
	}

	go func() {
		log.Info("gateway http server starting", zap.String("port", cfg.ServicePort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("gateway http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gateway...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway forced to shutdown", zap.Error(err))
	}
	log.Info("gateway stopped")
}
