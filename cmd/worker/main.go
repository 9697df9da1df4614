package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/leadtrack/internal/config"
	"github.com/ignite/leadtrack/internal/metrics"
	"github.com/ignite/leadtrack/internal/pkg/distlock"
	"github.com/ignite/leadtrack/internal/pkg/logger"
	"github.com/ignite/leadtrack/internal/pkg/supervisor"
	"github.com/ignite/leadtrack/internal/recompute"
	"github.com/ignite/leadtrack/internal/repository/postgres"
	"github.com/ignite/leadtrack/internal/service/engagement"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config: %v", err)
	}
	if cfg.Store.Type != "postgres" {
		log.Fatalf("worker requires store.type postgres, got %q", cfg.Store.Type)
	}
	logger.Init(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		RedactPII: cfg.Logging.Redact(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
	})
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	tokens := postgres.NewTokenRepo(db)
	policy := engagement.DefaultPolicy()
	policy.DedupeWindow = cfg.Engagement.DedupeWindow()
	policy.Ceiling = cfg.Engagement.ScoreCeiling
	agg := engagement.NewAggregator(tokens, postgres.NewEventRepo(db), postgres.NewEngagementRepo(db), policy)

	sup := supervisor.New("leadtrack-worker")

	if cfg.Engagement.RecomputeMode == "sqs" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Engagement.SQS.Region))
		if err != nil {
			logger.Error("failed to load aws config", "error", err)
			os.Exit(1)
		}
		consumer := recompute.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Engagement.SQS.QueueURL, agg, recompute.ConsumerConfig{
			WaitTimeSeconds:   cfg.Engagement.SQS.WaitTimeSeconds,
			MaxMessages:       cfg.Engagement.SQS.MaxMessages,
			VisibilityTimeout: cfg.Engagement.SQS.VisibilityTimeout,
		})
		sup.Add(supervisor.Named("recompute-consumer", consumer))
	}

	if cfg.Reconcile.Enabled {
		var rdb *redis.Client
		if cfg.Redis.Enabled() {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
		}
		lock := distlock.NewLock(rdb, db, cfg.Reconcile.LockKey, cfg.Reconcile.LockTTL())
		reconciler := engagement.NewReconciler(agg, tokens, lock, cfg.Reconcile.Interval(), cfg.Reconcile.PageSize)
		sup.Add(supervisor.Named("reconciler", reconciler))
	}

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	sup.Add(supervisor.NewHTTPService("worker-http", &http.Server{Addr: cfg.Server.Addr(), Handler: r}, 0))

	logger.Info("worker starting",
		"recompute_mode", cfg.Engagement.RecomputeMode,
		"reconcile", cfg.Reconcile.Enabled,
		"redis_lock", cfg.Redis.Enabled(),
	)
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor stopped", "error", err)
	}
	logger.Info("worker stopped")
}
