package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/thejerf/suture/v4"

	"github.com/ignite/leadtrack/internal/api"
	"github.com/ignite/leadtrack/internal/beacon"
	"github.com/ignite/leadtrack/internal/config"
	"github.com/ignite/leadtrack/internal/pkg/logger"
	"github.com/ignite/leadtrack/internal/pkg/supervisor"
	"github.com/ignite/leadtrack/internal/recompute"
	"github.com/ignite/leadtrack/internal/repository/memory"
	"github.com/ignite/leadtrack/internal/repository/postgres"
	"github.com/ignite/leadtrack/internal/service/engagement"
	"github.com/ignite/leadtrack/internal/service/tracking"
)

// stores groups the repositories for the selected backend.
type stores struct {
	tokens     tracking.TokenRepository
	events     tracking.EventStore
	engagement engagement.Repository
	close      func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store.Type == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		db := memory.New()
		return &stores{
			tokens:     db.Tokens(),
			events:     db.Events(),
			engagement: db.Engagement(),
			close:      func() error { return nil },
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
	})
	if err != nil {
		return nil, err
	}
	return &stores{
		tokens:     postgres.NewTokenRepo(db),
		events:     postgres.NewEventRepo(db),
		engagement: postgres.NewEngagementRepo(db),
		close:      db.Close,
	}, nil
}

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
	logger.Init(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		RedactPII: cfg.Logging.Redact(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.close()

	policy := engagement.DefaultPolicy()
	policy.DedupeWindow = cfg.Engagement.DedupeWindow()
	policy.Ceiling = cfg.Engagement.ScoreCeiling
	agg := engagement.NewAggregator(st.tokens, st.events, st.engagement, policy)
	view := engagement.NewView(st.engagement, agg, st.tokens)

	sup := supervisor.New("leadtrack-tracking")
	// Workers fed by the request path run on their own tree so they outlive
	// the HTTP server and take the appends still in flight at shutdown.
	workers := supervisor.New("leadtrack-tracking-workers")

	trigger, err := newTrigger(ctx, cfg, agg, workers)
	if err != nil {
		logger.Error("failed to set up recompute trigger", "error", err)
		os.Exit(1)
	}

	breaker := tracking.NewBreaker(tracking.BreakerConfig{
		Name:                "event-store",
		MaxRequests:         cfg.Tracking.Breaker.MaxRequests,
		Interval:            cfg.Tracking.Breaker.Interval(),
		Timeout:             cfg.Tracking.Breaker.Timeout(),
		ConsecutiveFailures: cfg.Tracking.Breaker.ConsecutiveFailures,
	})
	lookupTokens := breaker.Tokens(st.tokens)
	appendStore := breaker.Store(st.events)
	retrier := tracking.NewRetrier(lookupTokens, appendStore, trigger, tracking.RetryConfig{
		QueueSize:       cfg.Tracking.Retry.QueueSize,
		Workers:         cfg.Tracking.Retry.Workers,
		InitialInterval: cfg.Tracking.Retry.InitialInterval(),
		MaxInterval:     cfg.Tracking.Retry.MaxInterval(),
		MaxElapsed:      cfg.Tracking.Retry.MaxElapsed(),
		AppendTimeout:   cfg.Tracking.AppendTimeout(),
	})
	workers.Add(supervisor.Named("retrier", retrier))

	redirects := tracking.NewRedirectPolicy(
		cfg.Tracking.AllowedHosts,
		cfg.Tracking.AllowedSchemes,
		cfg.Tracking.DefaultDestination,
		cfg.Tracking.FallbackURL,
	)
	ingestor := tracking.NewIngestor(lookupTokens, appendStore, redirects, trigger, retrier, tracking.IngestorConfig{
		ResponseDeadline: cfg.Tracking.ResponseDeadline(),
		AppendTimeout:    cfg.Tracking.AppendTimeout(),
	})
	issuer := tracking.NewIssuer(st.tokens, cfg.Tracking.BaseURL, cfg.Tracking.DefaultDestination)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	api.SetupRoutes(r, api.NewHandlers(issuer, view, agg), api.RouterConfig{
		CORSOrigins:        cfg.API.CORSOrigins,
		RateLimitPerMinute: cfg.API.RateLimitPerMinute,
	})
	r.Mount("/", beacon.NewHandler(ingestor, beacon.PixelMode(cfg.Tracking.PixelMode), redirects.Fallback()).Routes())

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}
	sup.Add(supervisor.NewHTTPService("http-server", server, 0))

	logger.Info("tracking service starting",
		"addr", server.Addr,
		"store", cfg.Store.Type,
		"recompute_mode", cfg.Engagement.RecomputeMode,
		"base_url", cfg.Tracking.BaseURL,
	)
	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	workersDone := workers.ServeBackground(workersCtx)

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor stopped", "error", err)
	}

	ingestor.Wait()
	stopWorkers()
	if err := <-workersDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker supervisor stopped", "error", err)
	}
	if p, ok := trigger.(*recompute.Publisher); ok {
		p.Wait()
	}
	logger.Info("tracking service stopped")
}

// newTrigger builds the recompute trigger for the configured mode. Queue
// based modes register their background service on sup.
func newTrigger(ctx context.Context, cfg *config.Config, agg *engagement.Aggregator, sup *suture.Supervisor) (tracking.RecomputeTrigger, error) {
	switch cfg.Engagement.RecomputeMode {
	case "inline":
		return recompute.NewInline(agg, cfg.Tracking.AppendTimeout()), nil
	case "sqs":
		client, err := newSQSClient(ctx, cfg.Engagement.SQS.Region)
		if err != nil {
			return nil, err
		}
		return recompute.NewPublisher(client, cfg.Engagement.SQS.QueueURL, cfg.Engagement.SQS.PublishTimeout()), nil
	default:
		q := recompute.NewQueue(agg, cfg.Engagement.QueueSize, 2, 0)
		sup.Add(supervisor.Named("recompute-queue", q))
		return q, nil
	}
}

func newSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}
