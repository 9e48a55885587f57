package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/jwalitptl/caregem-api/config"
	"github.com/jwalitptl/caregem-api/internal/email"
	"github.com/jwalitptl/caregem-api/internal/handler/health"
	"github.com/jwalitptl/caregem-api/internal/repository/dynamo"
	"github.com/jwalitptl/caregem-api/internal/repository/postgres"
	accessService "github.com/jwalitptl/caregem-api/internal/service/access"
	auditService "github.com/jwalitptl/caregem-api/internal/service/audit"
	deviceService "github.com/jwalitptl/caregem-api/internal/service/device"
	eventService "github.com/jwalitptl/caregem-api/internal/service/event"
	identityService "github.com/jwalitptl/caregem-api/internal/service/identity"
	"github.com/jwalitptl/caregem-api/internal/worker"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/messaging/redis"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
	"github.com/jwalitptl/caregem-api/pkg/security"
)

const healthAddr = ":8081"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	})
	log.Logger = appLogger.ZL

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics("caregem_worker", registry)

	awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg.Env.AWSRegion)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}
	phiStore := dynamo.NewPHIStore(dynamo.NewClient(awsCfg, cfg.AWS.Endpoint), dynamo.Config{
		Table:        cfg.PHITable(),
		HistoryTable: cfg.PHIHistoryTable(),
		Timeout:      cfg.AWS.KVTimeout,
	}, m)

	base := postgres.NewBaseRepository(db, cfg.Database.QueryTimeout)
	userRepo := postgres.NewUserRepository(base)
	orgRepo := postgres.NewOrganizationRepository(base)
	networkRepo := postgres.NewNetworkRepository(base)
	deviceRepo := postgres.NewDeviceRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	events := eventService.NewEventService(outboxRepo, appLogger)
	auditor := auditService.NewService(postgres.NewAuditRepository(base), postgres.NewChangeLogRepository(base), phiStore, appLogger)
	policy := accessService.NewService(userRepo, orgRepo, networkRepo, m, appLogger)
	directory := identityService.NewService(identityService.Deps{
		Tx:      &base,
		Users:   userRepo,
		Orgs:    orgRepo,
		Network: networkRepo,
		Devices: deviceRepo,
		PHI:     phiStore,
		Auditor: auditor,
		Events:  events,
		Hasher:  security.NewIdentityHasher(cfg.Security.IdentityHashSalt),
		Logger:  appLogger,
	})
	devices := deviceService.NewService(deviceService.Deps{
		Tx:      &base,
		Devices: deviceRepo,
		Users:   userRepo,
		Orgs:    orgRepo,
		Policy:  policy,
		Auditor: auditor,
		Events:  events,
		Metrics: m,
		Logger:  appLogger,
	})

	mailer := email.NewNopService()
	if cfg.SMTP.Enabled() {
		mailer = email.NewSMTPService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		appLogger.Warn("smtp not configured, alert emails disabled")
	}

	processor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
	}, appLogger, m)
	cleanup := worker.NewOutboxCleanupWorker(events, cfg.Outbox.RetentionPeriod, cfg.Outbox.CleanupInterval, appLogger)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { processor.Start(ctx) })
	run(func() { cleanup.Start(ctx) })

	if len(cfg.Kafka.Brokers) > 0 {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			GroupID:  cfg.Kafka.GroupID,
			MinBytes: cfg.Kafka.MinBytes,
			MaxBytes: cfg.Kafka.MaxBytes,
		})
		defer reader.Close()

		consumer := worker.NewReadingsConsumer(reader, devices, directory, events, mailer,
			worker.ReadingsConfig{Attempts: 3, RetryDelay: 200 * time.Millisecond}, m, appLogger)
		run(func() {
			if err := consumer.Run(ctx); err != nil {
				appLogger.Error(err, "readings consumer stopped")
				stop()
			}
		})
	} else {
		appLogger.Warn("no kafka brokers configured, readings consumer disabled")
	}

	engine := gin.New()
	health.NewHandler(map[string]health.Check{
		"postgres": db.PingContext,
	}, registry).RegisterRoutes(engine)
	srv := &http.Server{Addr: healthAddr, Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "health server failed")
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
}
