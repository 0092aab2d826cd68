package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	config "duraq/configs"
	"duraq/pkg/logger"
	"duraq/pkg/queue"
	"duraq/pkg/queue/artifacts"
	"duraq/pkg/queue/redisstore"
	"duraq/pkg/queue/resourcestats"
	"duraq/pkg/queue/schedulemap"
	"duraq/pkg/resilience"

	"go.uber.org/zap"
)

// demoTenants is the worker's tenant set. A production deployment would
// discover this dynamically (e.g. from a tenant registry); the demo
// binary here ships a static list via TenantSource.
var demoTenants = []string{"default"}

func main() {
	cfg := config.LoadConfig()
	log := logger.Get()
	log.Info("duraq worker starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	breaker := resilience.NewCircuitBreaker("backend", resilience.DefaultCircuitBreakerConfig())
	store := redisstore.New(rdb, breaker)
	repo := queue.NewJobRepository(store)
	activityBus := redisstore.NewActivity(rdb)
	waker := redisstore.NewWake(rdb)
	engine := queue.NewScheduleEngine(store, schedulemap.New())
	ack := queue.NewAcknowledger(repo, engine, activityBus)

	artifactStore, err := artifacts.New(ctx, artifacts.Config{
		Bucket:   cfg.ArtifactsBucket,
		Region:   cfg.ArtifactsRegion,
		Endpoint: cfg.ArtifactsEndpoint,
		LocalDir: cfg.ArtifactsLocalDir,
	})
	if err != nil {
		log.Fatal("failed to build failure artifact store", zap.Error(err))
	}

	pollInterval, err := time.ParseDuration(cfg.PollInterval)
	if err != nil {
		log.Fatal("invalid POLL_INTERVAL", zap.Error(err))
	}

	distributor, err := queue.NewJobDistributor(repo, queue.DistributorConfig{
		Tenants:    queue.NewStaticTenantSource(demoTenants),
		MaxJobs:    cfg.MaxJobs,
		StaleAfter: cfg.StaleAfter,
		PollDelay:  pollInterval,
		Waker:      waker,
	})
	if err != nil {
		log.Fatal("failed to build job distributor", zap.Error(err))
	}

	worker := queue.NewWorker(queue.WorkerConfig{
		Distributor: distributor,
		Repo:        repo,
		Ack:         ack,
		Processor:   exampleProcessor,
		Artifacts:   artifactStore,
	})

	var staleChecker *queue.StaleChecker
	if cfg.StaleCheckInterval != "manual" {
		interval, err := time.ParseDuration(cfg.StaleCheckInterval)
		if err != nil {
			log.Fatal("invalid STALE_CHECK_INTERVAL", zap.Error(err))
		}
		staleChecker = queue.NewStaleChecker(queue.StaleCheckerConfig{
			Repo:     repo,
			Interval: interval,
			Bus:      activityBus,
		})
		staleChecker.Start(ctx)
	}

	go resourcestats.Report(ctx, 15*time.Second)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+cfg.APIPort, mux); err != nil && err != http.ErrServerClosed {
			log.Error("worker metrics server error", zap.Error(err))
		}
	}()

	distributor.Start(ctx)
	go worker.Run(ctx)
	log.Info("worker started", zap.Int("max_jobs", cfg.MaxJobs), zap.Strings("tenants", demoTenants))

	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	distributor.Stop()
	if staleChecker != nil {
		staleChecker.Stop()
	}
	log.Info("worker shutdown complete")
}

// exampleProcessor is a placeholder job handler: real deployments supply
// their own ProcessorFunc wiring payload dispatch to application logic.
func exampleProcessor(ctx context.Context, job *queue.Job) (queue.AckOpts, error) {
	logger.Debug("processing job",
		zap.String("tenant", job.Tenant), zap.String("queue", job.Queue), zap.String("id", job.ID),
		zap.Int("payload_bytes", len(job.Payload)))
	return queue.AckOpts{}, nil
}
