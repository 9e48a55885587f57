package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/caregem-api/config"
	auditHandler "github.com/jwalitptl/caregem-api/internal/handler/audit"
	billingHandler "github.com/jwalitptl/caregem-api/internal/handler/billing"
	chatHandler "github.com/jwalitptl/caregem-api/internal/handler/chat"
	deviceHandler "github.com/jwalitptl/caregem-api/internal/handler/device"
	"github.com/jwalitptl/caregem-api/internal/handler/health"
	networkHandler "github.com/jwalitptl/caregem-api/internal/handler/network"
	organizationHandler "github.com/jwalitptl/caregem-api/internal/handler/organization"
	patientHandler "github.com/jwalitptl/caregem-api/internal/handler/patient"
	userHandler "github.com/jwalitptl/caregem-api/internal/handler/user"
	"github.com/jwalitptl/caregem-api/internal/middleware"
	"github.com/jwalitptl/caregem-api/internal/repository/dynamo"
	"github.com/jwalitptl/caregem-api/internal/repository/postgres"
	"github.com/jwalitptl/caregem-api/internal/router"
	"github.com/jwalitptl/caregem-api/internal/secrets"
	accessService "github.com/jwalitptl/caregem-api/internal/service/access"
	auditService "github.com/jwalitptl/caregem-api/internal/service/audit"
	callService "github.com/jwalitptl/caregem-api/internal/service/call"
	chatService "github.com/jwalitptl/caregem-api/internal/service/chat"
	clinicalService "github.com/jwalitptl/caregem-api/internal/service/clinical"
	deviceService "github.com/jwalitptl/caregem-api/internal/service/device"
	eventService "github.com/jwalitptl/caregem-api/internal/service/event"
	identityService "github.com/jwalitptl/caregem-api/internal/service/identity"
	networkService "github.com/jwalitptl/caregem-api/internal/service/network"
	organizationService "github.com/jwalitptl/caregem-api/internal/service/organization"
	"github.com/jwalitptl/caregem-api/pkg/auth"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
	"github.com/jwalitptl/caregem-api/pkg/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Log.Console,
	})
	log.Logger = appLogger.ZL
	if cfg.Env.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("caregem", registry)

	awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg.Env.AWSRegion)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}
	phiStore := dynamo.NewPHIStore(dynamo.NewClient(awsCfg, cfg.AWS.Endpoint), dynamo.Config{
		Table:        cfg.PHITable(),
		HistoryTable: cfg.PHIHistoryTable(),
		Timeout:      cfg.AWS.KVTimeout,
	}, m)
	secretStore := secrets.NewFromConfig(awsCfg, cfg.AWS.SecretTTL, cfg.AWS.SecretTimeout)

	// Repositories
	base := postgres.NewBaseRepository(db, cfg.Database.QueryTimeout)
	userRepo := postgres.NewUserRepository(base)
	orgRepo := postgres.NewOrganizationRepository(base)
	networkRepo := postgres.NewNetworkRepository(base)
	deviceRepo := postgres.NewDeviceRepository(base)
	auditRepo := postgres.NewAuditRepository(base)
	changeLogRepo := postgres.NewChangeLogRepository(base)
	callRepo := postgres.NewCallRepository(base)
	chatRepo := postgres.NewChatRepository(base)
	clinicalRepo := postgres.NewClinicalRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	// Services
	events := eventService.NewEventService(outboxRepo, appLogger)
	auditor := auditService.NewService(auditRepo, changeLogRepo, phiStore, appLogger)
	policy := accessService.NewService(userRepo, orgRepo, networkRepo, m, appLogger)
	identitySvc := identityService.NewService(identityService.Deps{
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
	orgSvc := organizationService.NewService(&base, orgRepo, networkRepo, auditor, events, appLogger)
	networkSvc := networkService.NewService(&base, userRepo, orgRepo, networkRepo, policy, auditor, events, appLogger)
	deviceSvc := deviceService.NewService(deviceService.Deps{
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
	callSvc := callService.NewService(&base, callRepo, policy, auditor)
	clinicalSvc := clinicalService.NewService(&base, clinicalRepo, userRepo, orgRepo, networkRepo, policy, auditor, appLogger)
	chatSvc := chatService.NewService(chatRepo, userRepo, policy, identitySvc, secretStore, cfg.Env.EncryptionKeySecretID, auditor, appLogger)

	// HTTP
	verifier, err := newVerifier(ctx, cfg.JWT)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token verification")
	}
	healthH := health.NewHandler(map[string]health.Check{
		"postgres": db.PingContext,
	}, registry)

	routerCfg := router.DefaultConfig()
	routerCfg.RequestTimeout = cfg.Server.RequestTimeout
	routerCfg.RateLimitEnabled = cfg.RateLimit.Enabled
	routerCfg.RateLimit = middleware.RateLimiterConfig{
		Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
		Burst: cfg.RateLimit.Burst,
	}
	routerCfg.CORS.AllowOrigins = cfg.Security.AllowedOrigins
	routerCfg.CORS.AllowMethods = cfg.Security.AllowedMethods

	r := router.NewRouter(
		middleware.NewAuthMiddleware(verifier, identitySvc),
		healthH,
		m,
		routerCfg,
		patientHandler.NewHandler(clinicalSvc, networkSvc, deviceSvc, callSvc),
		deviceHandler.NewHandler(deviceSvc),
		networkHandler.NewHandler(networkSvc),
		organizationHandler.NewHandler(orgSvc),
		userHandler.NewHandler(identitySvc),
		auditHandler.NewHandler(auditor),
		billingHandler.NewHandler(clinicalSvc),
		chatHandler.NewHandler(chatSvc),
	)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Setup(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("environment", cfg.Env.Environment).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server exited properly")
}

// newVerifier prefers the user pool's JWKS; a shared secret is for local runs.
func newVerifier(ctx context.Context, cfg config.JWTConfig) (auth.Verifier, error) {
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return auth.NewHMACVerifier(cfg.Secret, cfg.Issuer), nil
}
