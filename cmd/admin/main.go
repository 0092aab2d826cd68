package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	config "duraq/configs"
	"duraq/pkg/api"
	"duraq/pkg/auth"
	"duraq/pkg/history"
	"duraq/pkg/logger"
	"duraq/pkg/observability"
	"duraq/pkg/queue"
	"duraq/pkg/queue/redisstore"
	"duraq/pkg/resilience"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.Get()
	log.Info("duraq admin starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingCfg := tracing.DefaultConfig("duraq-admin")
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.Endpoint = cfg.TracingEndpoint
	tracingProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracingProvider.Shutdown(shutdownCtx)
	}()

	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	breaker := resilience.NewCircuitBreaker("backend", resilience.DefaultCircuitBreakerConfig())
	store := redisstore.New(rdb, breaker)
	repo := queue.NewJobRepository(store)
	activityBus := redisstore.NewActivity(rdb)
	producer := queue.NewProducer(repo, activityBus)

	var historyStore *history.Store
	if cfg.HistoryEnabled {
		connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		hs, err := history.New(connStr)
		if err != nil {
			log.Fatal("failed to connect history store", zap.Error(err))
		}
		defer hs.Close()
		historyStore = hs
		log.Info("history store connected")
	}

	var jwtService *auth.JWTService
	var apiKeyStore auth.APIKeyStore
	if cfg.AuthEnabled {
		jwtCfg := auth.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.JWTSecret
		jwtCfg.Issuer = cfg.JWTIssuer
		svc, err := auth.NewJWTService(jwtCfg)
		if err != nil {
			log.Fatal("failed to build JWT service", zap.Error(err))
		}
		jwtService = svc
		apiKeyStore = auth.NewRedisAPIKeyStore(rdb)
	}

	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		Producer:    producer,
		Repo:        repo,
		History:     historyStore,
		Activity:    activityBus,
		JWTService:  jwtService,
		APIKeyStore: apiKeyStore,
		AuthEnabled: cfg.AuthEnabled,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()
	log.Info("admin API started", zap.String("port", cfg.APIPort))

	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	cancel()
	log.Info("shutdown complete")
}
