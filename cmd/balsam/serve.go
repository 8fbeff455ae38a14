package main

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/balsam/config"
	"github.com/Ramsey-B/balsam/internal/handlers"
	"github.com/Ramsey-B/balsam/internal/repositories"
	"github.com/Ramsey-B/balsam/internal/server"
	"github.com/Ramsey-B/balsam/pkg/database"
	"github.com/Ramsey-B/balsam/pkg/events"
	"github.com/Ramsey-B/balsam/pkg/health"
	"github.com/Ramsey-B/balsam/pkg/jobs"
	"github.com/Ramsey-B/balsam/pkg/kafka"
	"github.com/Ramsey-B/balsam/pkg/loader"
	"github.com/Ramsey-B/balsam/pkg/locking"
	"github.com/Ramsey-B/balsam/pkg/matching"
	"github.com/Ramsey-B/balsam/pkg/redis"
	"github.com/Ramsey-B/balsam/pkg/scheduler"
	"github.com/Ramsey-B/balsam/pkg/startup"
	"github.com/Ramsey-B/balsam/pkg/statusstore"
	"github.com/Ramsey-B/balsam/pkg/tracing"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts.cfg, opts.logger)
		},
	}
}

func csvDelimiter(cfg *config.Config) rune {
	if cfg.CSVDelimiter == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(cfg.CSVDelimiter)
	return r
}

// service holds what serve wires together. Fields are filled as startup dependencies come up.
type service struct {
	cfg      *config.Config
	logger   ectologger.Logger
	db       *database.DatabaseInstance
	redis    *redis.Client
	producer *kafka.Producer
	checker  *health.Checker
}

func serve(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, tracing.OTLPConfig{
		Endpoint: otlpEndpoint(cfg),
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	svc := &service{cfg: cfg, logger: logger, checker: health.NewChecker(cfg.Version)}
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			if svc.db != nil {
				return nil
			}
			db, err := connectDatabase(ctx, &rootOptions{cfg: cfg, logger: logger})
			if err != nil {
				return err
			}
			if err := migrateDatabase(&rootOptions{cfg: cfg, logger: logger}, db, false); err != nil {
				_ = db.Close()
				return err
			}
			svc.db = db
			svc.checker.AddCheck("database", db)
			return nil
		},
		OnStop: func(context.Context) error {
			return svc.db.Close()
		},
	})

	if cfg.LockBackend == "redis" {
		boot.AddDependency(startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				if svc.redis != nil {
					return nil
				}
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				svc.redis = client
				svc.checker.AddCheck("redis", health.PingFunc(client.Ping))
				return nil
			},
			OnStop: func(context.Context) error {
				return svc.redis.Close()
			},
		})
	}

	if cfg.KafkaBrokers != "" {
		boot.AddDependency(startup.Func{
			Name: "kafka",
			OnStart: func(context.Context) error {
				svc.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers: strings.Split(cfg.KafkaBrokers, ","),
					Topic:   cfg.KafkaEventsTopic,
				}, logger)
				svc.checker.AddOptionalCheck("kafka", svc.producer)
				return nil
			},
			OnStop: func(context.Context) error {
				return svc.producer.Close()
			},
		})
	}

	if err := boot.Start(ctx); err != nil {
		return err
	}

	app := svc.wire(ctx)
	httpServer := server.New(cfg, server.NewEcho(cfg, svc.checker, app.handlers, logger), svc.checker, logger)
	// added before the server so it stops after it: no new runs arrive while draining
	boot.AddDependency(startup.Func{
		Name:   "background-runs",
		OnStop: app.handlers.Jobs.Drain,
	})
	boot.AddDependency(httpServer)
	if cfg.SchedulerEnabled {
		boot.AddDependency(app.scheduler)
	}
	if err := boot.Start(ctx); err != nil {
		_ = boot.Stop(context.WithoutCancel(ctx))
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-httpServer.Errors():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if stopErr := boot.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

func otlpEndpoint(cfg *config.Config) string {
	if !cfg.OTLPEnabled {
		return ""
	}
	return cfg.OTLPEndpoint
}

type wiring struct {
	handlers  server.Handlers
	scheduler *scheduler.Scheduler
}

// wire builds repositories, services and handlers once infrastructure is up.
func (s *service) wire(ctx context.Context) wiring {
	cfg, logger := s.cfg, s.logger

	jobRepo := repositories.NewJobRepository(s.db, logger)
	lockRepo := repositories.NewLockRepository(s.db, logger)
	keyRepo := repositories.NewKeyStatusRepository(s.db, logger)
	thresholdRepo := repositories.NewThresholdRepository(s.db, logger)
	modelRepo := repositories.NewProcessingModelRepository(s.db, logger)
	reportRepo := repositories.NewReportRepository(s.db, logger)

	if released, err := lockRepo.ReleaseExpired(ctx); err != nil {
		logger.WithError(err).Warn("Failed to clear expired locks")
	} else if released > 0 {
		logger.Infof("Cleared %d expired locks", released)
	}

	var locker locking.Locker = lockRepo
	if s.redis != nil {
		locker = redis.NewLocker(s.redis, cfg.RedisLockPrefix)
	}

	var publisher events.Publisher
	if s.producer != nil {
		publisher = s.producer
	}
	emitter := events.NewEmitter(publisher, logger)

	coordinator := jobs.NewCoordinator(jobs.Config{
		HolderID:          cfg.HolderID,
		LockTTL:           cfg.LockTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ChunkSize:         cfg.NormalizeChunkSize,
		Matcher:           matching.Config{BucketCheckEvery: cfg.MatchBucketCheckEvery},
	}, jobs.Dependencies{
		Jobs:       jobRepo,
		Locker:     locker,
		Loader:     loader.NewFileLoader(logger, loader.Options{Delimiter: csvDelimiter(cfg)}),
		Thresholds: thresholdRepo,
		Statuses:   keyRepo,
		Reports:    reportRepo,
		Events:     emitter,
		Tx:         jobRepo,
		Logger:     logger,
	})

	statuses := statusstore.NewService(keyRepo, logger).WithNotifier(emitter)

	return wiring{
		handlers: server.Handlers{
			Jobs:   handlers.NewJobHandler(coordinator, modelRepo, reportRepo, logger),
			Keys:   handlers.NewKeyHandler(statuses, logger),
			Config: handlers.NewConfigHandler(modelRepo, thresholdRepo, logger),
		},
		scheduler: scheduler.NewScheduler(jobRepo, coordinator, scheduler.Config{
			PollInterval:  cfg.SchedulerPollInterval,
			Workers:       cfg.SchedulerWorkers,
			RetryAttempts: cfg.SchedulerRetryAttempts,
		}, logger),
	}
}
