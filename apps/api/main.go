package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenGate-Global/palmyra-helpdesk/contracts"
	channelshandler "github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/handler"
	channelsrepo "github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/repo"
	channelsservice "github.com/zenGate-Global/palmyra-helpdesk/domains/channels/be/service"
	conversationshandler "github.com/zenGate-Global/palmyra-helpdesk/domains/conversations/be/handler"
	conversationsrepo "github.com/zenGate-Global/palmyra-helpdesk/domains/conversations/be/repo"
	conversationsservice "github.com/zenGate-Global/palmyra-helpdesk/domains/conversations/be/service"
	messageshandler "github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/handler"
	messagesrepo "github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/repo"
	messagesservice "github.com/zenGate-Global/palmyra-helpdesk/domains/messages/be/service"
	queueshandler "github.com/zenGate-Global/palmyra-helpdesk/domains/queues/be/handler"
	queuesrepo "github.com/zenGate-Global/palmyra-helpdesk/domains/queues/be/repo"
	queuesservice "github.com/zenGate-Global/palmyra-helpdesk/domains/queues/be/service"
	tenantshandler "github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/handler"
	tenantsprov "github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/provisioning"
	tenantsrepo "github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/palmyra-helpdesk/domains/tenants/be/service"
	triageservice "github.com/zenGate-Global/palmyra-helpdesk/domains/triage/be/service"
	usershandler "github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/handler"
	usersrepo "github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/repo"
	usersservice "github.com/zenGate-Global/palmyra-helpdesk/domains/users/be/service"
	webhookshandler "github.com/zenGate-Global/palmyra-helpdesk/domains/webhooks/be/handler"
	webhooksservice "github.com/zenGate-Global/palmyra-helpdesk/domains/webhooks/be/service"
	platformauth "github.com/zenGate-Global/palmyra-helpdesk/platform/go/auth"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel/gti"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel/official"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/channel/webchat"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/events"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/palmyra-helpdesk/platform/go/logging"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/palmyra-helpdesk/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/realtime"
	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/requesttrace"
	tenantmiddleware "github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant/middleware"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"false"`

	AuthProvider            string        `env:"AUTH_PROVIDER" envDefault:"jwt"` // firebase | jwt | dev
	JWTSecret               string        `env:"JWT_SECRET"`
	JWTIssuer               string        `env:"JWT_ISSUER" envDefault:"palmyra-helpdesk"`
	JWTTTL                  time.Duration `env:"JWT_TTL" envDefault:"12h"`
	FirebaseCredentialsFile string        `env:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseProjectID       string        `env:"FIREBASE_PROJECT_ID"`

	EnvKey          string `env:"ENV_KEY,required"`
	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"local"`             // gcs | local | none
	StorageBucket   string `env:"STORAGE_BUCKET"`                                 // required when STORAGE_BACKEND=gcs
	StorageLocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"` // used when STORAGE_BACKEND=local

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"helpdesk.events"`

	WebhookMaxBodyBytes int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	VendorHTTPTimeout   time.Duration `env:"VENDOR_HTTP_TIMEOUT" envDefault:"30s"`
	CORSAllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	SubscriptionSweepSchedule string        `env:"SUBSCRIPTION_SWEEP_SCHEDULE" envDefault:"@every 15m"`
	TriageTimeout             time.Duration `env:"TRIAGE_TIMEOUT" envDefault:"10s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.MigrateOnStart {
		status, err := persistence.Migrate(cfg.DatabaseURL, persistence.MigrateUp, 0)
		if err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Uint("version", status.Version), zap.Bool("changed", status.Changed))
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		ApplicationName: "helpdesk-api",
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	tenantDB := persistence.NewTenantDB(pool)
	tenantStore := persistence.NewTenantStore(tenantDB)
	channelStore := persistence.NewChannelStore(tenantDB)
	conversationStore := persistence.NewConversationStore(tenantDB)
	messageStore := persistence.NewMessageStore(pool)
	queueStore := persistence.NewQueueStore(pool)
	userStore := persistence.NewUserStore(pool)

	// Real-time fan-out: websocket rooms always, the broker when configured.
	hub := realtime.NewHub(realtime.HubConfig{AllowedOrigins: cfg.CORSAllowedOrigins}, logger)
	defer hub.Close()
	publisher := realtime.Fanout{hub}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal("init amqp publisher", zap.Error(err))
		}
		defer amqpPublisher.Close()
		publisher = append(publisher, events.NewBridge(amqpPublisher, "helpdesk-api"))
		logger.Info("forwarding realtime events to amqp", zap.String("exchange", cfg.AMQPExchange))
	}

	vendorClient := &http.Client{Timeout: cfg.VendorHTTPTimeout}
	registry, err := channel.NewRegistry(
		gti.New(vendorClient, logger),
		official.New(vendorClient, logger),
		webchat.New(hub, logger),
	)
	if err != nil {
		logger.Fatal("init channel registry", zap.Error(err))
	}

	tenantService := tenantsservice.New(
		tenantsrepo.NewPostgresRepository(tenantStore),
		cfg.EnvKey,
		tenantsservice.ProvisioningDeps{Storage: buildStorageProvisioner(ctx, cfg, logger)},
		logger,
	)
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	var issuer usersservice.TokenIssuer
	if cfg.JWTSecret != "" {
		tokenIssuer, err := platformauth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
		if err != nil {
			logger.Fatal("init token issuer", zap.Error(err))
		}
		issuer = tokenIssuer
	} else {
		logger.Warn("JWT_SECRET not set; /auth/login is disabled")
	}
	userService := usersservice.New(usersrepo.NewPostgresRepository(userStore), tenantStore, issuer, logger)
	userHTTPHandler := usershandler.New(userService, logger)

	queueService := queuesservice.New(queuesrepo.NewPostgresRepository(queueStore), logger)
	queueHTTPHandler := queueshandler.New(queueService, logger)

	channelService := channelsservice.New(channelsrepo.NewPostgresRepository(channelStore), logger)
	channelHTTPHandler := channelshandler.New(channelService, logger)

	messageService := messagesservice.New(messagesrepo.NewPostgresRepository(messageStore), publisher, logger)
	messageHTTPHandler := messageshandler.New(messageService, logger)

	conversationService := conversationsservice.New(
		conversationsrepo.NewPostgresRepository(conversationStore, channelStore, queueStore),
		registry,
		messageService,
		publisher,
		logger,
	)
	conversationHTTPHandler := conversationshandler.New(conversationService, logger)
	realtimeHTTPHandler := conversationshandler.NewRealtime(conversationService, hub, logger)

	orchestrator, err := triageservice.NewOrchestrator(triageservice.NewTriageAgent())
	if err != nil {
		logger.Fatal("init triage orchestrator", zap.Error(err))
	}
	webhookService := webhooksservice.New(
		channelStore,
		registry,
		conversationService,
		messageService,
		orchestrator,
		webhooksservice.Config{TriageTimeout: cfg.TriageTimeout},
		logger,
	)
	webhookHTTPHandler := webhookshandler.New(webhookService, hub, webhookshandler.Config{MaxBodyBytes: cfg.WebhookMaxBodyBytes}, logger)

	authMiddleware := buildAuthMiddleware(ctx, cfg, tenantService, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		platformmiddleware.Metrics,
		platformmiddleware.CORS(cfg.CORSAllowedOrigins),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := persistence.CheckReady(r.Context(), pool, 2*time.Second); err != nil {
			platformlogging.FromRequest(r, logger).Warn("readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Method(http.MethodGet, "/metrics", metrics.Handler())

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, logger)

	// Public ingress: vendors, widgets and sign-in. Websocket routes must not
	// run under the request timeout.
	rootRouter.Group(func(r chi.Router) {
		r.Use(platformmiddleware.WebhookTrace)
		webhookHTTPHandler.Routes(r)
	})
	rootRouter.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		userHTTPHandler.LoginRoutes(r)
	})

	apiRouter := chi.NewRouter()
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformauth.RequireUser)
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Use(tenantmiddleware.WithTenantSpace(tenantService, tenantmiddleware.Config{
		EnvKey:   cfg.EnvKey,
		CacheTTL: time.Minute,
	}))

	realtimeHTTPHandler.Routes(apiRouter)

	helpdeskValidator := mustNewSpecValidator(logger)
	apiRouter.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
		r.Use(helpdeskValidator)
		conversationHTTPHandler.Routes(r)
		messageHTTPHandler.Routes(r)
		queueHTTPHandler.Routes(r)
		channelHTTPHandler.Routes(r)
		userHTTPHandler.Routes(r)
		tenantHTTPHandler.Routes(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           rootRouter,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	sweeper, err := newSubscriptionSweeper(tenantService, cfg.SubscriptionSweepSchedule, logger)
	if err != nil {
		logger.Fatal("init subscription sweeper", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Start()
		<-gctx.Done()
		<-sweeper.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
		webhookService.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("api server stopped", zap.Error(err))
	}
}

// buildStorageProvisioner picks the tenant media backend. "none" skips provisioning.
func buildStorageProvisioner(ctx context.Context, cfg config, logger *zap.Logger) tenantsservice.StorageProvisioner {
	switch cfg.StorageBackend {
	case "gcs":
		if cfg.StorageBucket == "" {
			logger.Fatal("storage bucket required when STORAGE_BACKEND=gcs")
		}
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Fatal("init gcs client", zap.Error(err))
		}
		return tenantsprov.NewGCSStorageProvisioner(gcsClient, cfg.StorageBucket)
	case "local":
		if strings.TrimSpace(cfg.StorageLocalDir) == "" {
			logger.Fatal("storage local dir required when STORAGE_BACKEND=local")
		}
		return tenantsprov.NewLocalStorageProvisioner(cfg.StorageLocalDir)
	case "none":
		logger.Warn("tenant storage provisioning disabled")
		return nil
	default:
		logger.Fatal("invalid STORAGE_BACKEND (use gcs, local or none)", zap.String("backend", cfg.StorageBackend))
		return nil
	}
}

type expiredTenantDisabler interface {
	DisableExpired(ctx context.Context) ([]uuid.UUID, error)
}

// newSubscriptionSweeper schedules the job that disables tenants whose subscription ran out.
func newSubscriptionSweeper(tenants expiredTenantDisabler, schedule string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		sweepExpiredSubscriptions(ctx, tenants, logger)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// sweepExpiredSubscriptions runs one sweep under a system actor.
func sweepExpiredSubscriptions(ctx context.Context, tenants expiredTenantDisabler, logger *zap.Logger) {
	runID := "sweep-" + uuid.NewString()
	ctx = requesttrace.IntoContext(ctx, requesttrace.System(runID))
	disabled, err := tenants.DisableExpired(ctx)
	if err != nil {
		logger.Error("subscription sweep failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	if len(disabled) > 0 {
		logger.Info("disabled expired tenants", zap.String("run_id", runID), zap.Int("count", len(disabled)), zap.Any("tenant_ids", disabled))
	}
}

// mustNewSpecValidator builds the oapi-codegen validator middleware from the embedded contract.
// It enforces request shapes and the bearerAuth scopes on every /api/v1 REST route.
func mustNewSpecValidator(logger *zap.Logger) func(http.Handler) http.Handler {
	spec := mustLoadSpec(logger)
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			switch statusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				httpx.WriteProblem(w, httpx.NewProblem("Forbidden", message, httpx.ProblemTypeForbidden, http.StatusForbidden, nil))
			case http.StatusNotFound:
				httpx.WriteProblem(w, httpx.NewProblem("Not found", message, httpx.ProblemTypeNotFound, http.StatusNotFound, nil))
			default:
				httpx.WriteProblem(w, httpx.ValidationProblem(message, nil))
			}
		},
	})
}

// mustLoadSpec loads and returns the OpenAPI document for validation and docs serving.
func mustLoadSpec(logger *zap.Logger) *openapi3.T {
	spec, err := contracts.Load()
	if err != nil {
		logger.Fatal("load openapi spec", zap.String("name", contracts.Name), zap.Error(err))
	}
	logSecuritySchemes(logger, contracts.Name, spec)
	return spec
}

func logSecuritySchemes(logger *zap.Logger, name string, spec *openapi3.T) {
	if spec == nil || spec.Components == nil {
		return
	}
	schemes := make([]string, 0, len(spec.Components.SecuritySchemes))
	for schemeName := range spec.Components.SecuritySchemes {
		schemes = append(schemes, schemeName)
	}
	logger.Debug("loaded openapi contract", zap.String("name", name), zap.Strings("security_schemes", schemes))
}
