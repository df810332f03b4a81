package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/brightatelier/commerce-api/internal/handlers"
	"github.com/brightatelier/commerce-api/internal/payments"
	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/platform/config"
	"github.com/brightatelier/commerce-api/internal/platform/eventlog"
	pfirestore "github.com/brightatelier/commerce-api/internal/platform/firestore"
	"github.com/brightatelier/commerce-api/internal/platform/jobs"
	"github.com/brightatelier/commerce-api/internal/platform/observability"
	"github.com/brightatelier/commerce-api/internal/platform/secrets"
	platformstorage "github.com/brightatelier/commerce-api/internal/platform/storage"
	"github.com/brightatelier/commerce-api/internal/repositories"
	firestoreRepo "github.com/brightatelier/commerce-api/internal/repositories/firestore"
	"github.com/brightatelier/commerce-api/internal/services"
	"github.com/brightatelier/commerce-api/internal/shipping"
)

const meterName = "github.com/brightatelier/commerce-api/cmd/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	alerter, err := observability.NewAlerter(cfg.Observability.SentryDSN, cfg.Observability.SentryEnvironment, logger.Named("alerts"))
	if err != nil {
		logger.Fatal("failed to initialise alerter", zap.Error(err))
	}
	defer alerter.Flush(2 * time.Second)

	metrics, err := observability.NewMetrics(otel.Meter(meterName))
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	var firestoreOpts []pfirestore.ProviderOption
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	customerRepo, err := firestoreRepo.NewCustomerRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise customer repository", zap.Error(err))
	}
	adminRepo, err := firestoreRepo.NewAdminRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise admin repository", zap.Error(err))
	}

	eventLogger := observability.EventLogger(logger.Named("services"))

	gateway, err := newPaymentGateway(cfg, metrics, observability.EventLogger(logger.Named("payments")))
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	var shippingProvider services.ShippingProvider
	shippingClient, err := shipping.NewClient(shipping.Config{
		BaseURL:        cfg.Shipping.BaseURL,
		Email:          cfg.Shipping.Email,
		Password:       cfg.Shipping.Password,
		PickupLocation: cfg.Shipping.PickupLocation,
		Timeout:        cfg.Shipping.Timeout,
		MaxRetries:     cfg.Shipping.MaxRetries,
		Logger:         observability.EventLogger(logger.Named("shipping")),
		Metrics:        metrics,
	})
	switch {
	case err == nil:
		shippingProvider = shippingClient
	case errors.Is(err, shipping.ErrNotConfigured):
		logger.Warn("shipping provider credentials not configured; shipment actions disabled")
	default:
		logger.Fatal("failed to initialise shipping client", zap.Error(err))
	}

	var (
		orderEvents   services.OrderEventPublisher
		notifications services.NotificationPublisher
	)
	if cfg.PubSub.OrderEventsTopic != "" || cfg.PubSub.NotificationsTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubPublisher(
			pubsubTopic(pubsubClient, cfg.PubSub.OrderEventsTopic),
			pubsubTopic(pubsubClient, cfg.PubSub.NotificationsTopic),
		)
		if err != nil {
			logger.Fatal("failed to initialise pubsub publisher", zap.Error(err))
		}
		defer publisher.Stop()
		orderEvents = publisher
		notifications = publisher
	}

	var reports services.SweepReportWriter
	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		writer, err := platformstorage.NewJSONWriter(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise export writer", zap.Error(err))
		}
		reportWriter, err := platformstorage.NewSweepReportWriter(writer)
		if err != nil {
			logger.Fatal("failed to initialise sweep report writer", zap.Error(err))
		}
		reports = reportWriter
	}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}
	eventStore, err := newEventLog(firestoreProvider, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise webhook event log", zap.Error(err))
	}

	customerService, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: customerRepo,
		Logger:    eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise customer service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: orderRepo,
		Events: orderEvents,
		Logger: eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	shipmentService, err := services.NewShipmentService(services.ShipmentServiceDeps{
		Orders:        orderRepo,
		Provider:      shippingProvider,
		Events:        orderEvents,
		Notifications: notifications,
		Logger:        eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise shipment service", zap.Error(err))
	}

	webhookService, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:    orderService,
		Shipments: shipmentService,
		EventLog:  eventStore,
		EventTTL:  cfg.Webhooks.EventTTL,
		Metrics:   metrics,
		Logger:    eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook service", zap.Error(err))
	}

	reconciliationService, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:     orderService,
		OrderRepo:  orderRepo,
		Customers:  customerService,
		Gateway:    gateway,
		Reports:    reports,
		Metrics:    metrics,
		BatchSize:  cfg.Sweep.BatchSize,
		BatchDelay: cfg.Sweep.BatchDelay,
		PageSize:   cfg.Sweep.PageSize,
		Logger:     eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise reconciliation service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:             orderService,
		Customers:          customerService,
		Shipments:          shipmentService,
		Alerts:             alerter,
		Gateway:            cfg.Gateway.Provider,
		KeySecret:          cfg.Gateway.KeySecret,
		AutoCreateShipment: cfg.Shipping.AutoCreate,
		Logger:             eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	adminService, err := services.NewAdminService(services.AdminServiceDeps{
		Admins:       adminRepo,
		DefaultEmail: cfg.Admin.DefaultEmail,
		Logger:       eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise admin service", zap.Error(err))
	}

	authLogger := observability.NewPrintfAdapter(logger.Named("auth"))
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier,
		auth.WithAdminDirectory(auth.AdminDirectoryFunc(adminService.ResolveAdmin)),
		auth.WithAuthLogger(authLogger),
	)

	webhookGuard := auth.NewWebhookGuard(configuredSecrets(map[string]string{
		handlers.PaymentWebhookSecretName: cfg.Gateway.WebhookSecret,
		handlers.ShippingWebhookTokenName: cfg.Shipping.WebhookToken,
	}),
		auth.WithWebhookLogger(authLogger),
		auth.WithWebhookMetrics(metrics),
	)

	healthRepo, err := newHealthRepository(firestoreProvider, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(healthRepo),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService)
	webhookHandlers := handlers.NewWebhookHandlers(webhookService, handlers.WithWebhookGuard(webhookGuard))
	shipmentHandlers := handlers.NewAdminShipmentHandlers(shipmentService)
	adminAccessHandlers := handlers.NewAdminAccessHandlers(adminService)
	syncHandlers := handlers.NewSyncHandlers(reconciliationService,
		handlers.WithSyncLookback(cfg.Sweep.Lookback),
		handlers.WithSyncRateLimit(cfg.RateLimits.SyncPerMinute, time.Minute),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithAdminRoutes(shipmentHandlers.Routes, syncHandlers.AdminRoutes, adminAccessHandlers.Routes),
		handlers.WithAdminMiddlewares(authenticator.RequireAdmin()),
	}
	if oidc := newOIDCMiddleware(cfg, authLogger, metrics); oidc != nil {
		opts = append(opts,
			handlers.WithInternalRoutes(syncHandlers.InternalRoutes),
			handlers.WithInternalMiddlewares(oidc),
		)
	} else {
		logger.Warn("oidc audience not configured; scheduler sweep endpoint disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening", zap.String("gateway", cfg.Gateway.Provider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter(meterName)),
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the credentials the selected gateway cannot run without.
func requiredSecretNames(env map[string]string) []string {
	switch strings.ToLower(strings.TrimSpace(env["API_GATEWAY_PROVIDER"])) {
	case "stripe":
		return []string{"Gateway.StripeAPIKey"}
	default:
		return []string{"Gateway.KeySecret"}
	}
}

func newPaymentGateway(cfg config.Config, metrics *observability.Metrics, logger payments.Logger) (*payments.Manager, error) {
	gateways := make(map[string]payments.Gateway)
	if cfg.Gateway.KeyID != "" && cfg.Gateway.KeySecret != "" {
		razorpay, err := payments.NewRazorpayGateway(payments.RazorpayGatewayConfig{
			KeyID:     cfg.Gateway.KeyID,
			KeySecret: cfg.Gateway.KeySecret,
			Timeout:   cfg.Gateway.Timeout,
			Logger:    logger,
			Metrics:   metrics,
		})
		if err != nil {
			return nil, err
		}
		gateways["razorpay"] = razorpay
	}
	if cfg.Gateway.StripeAPIKey != "" {
		stripe, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:  cfg.Gateway.StripeAPIKey,
			Logger:  logger,
			Metrics: metrics,
		})
		if err != nil {
			return nil, err
		}
		gateways["stripe"] = stripe
	}
	return payments.NewManager(gateways, payments.WithDefaultProvider(cfg.Gateway.Provider))
}

func pubsubTopic(client *pubsub.Client, name string) *pubsub.Topic {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	topic := client.Topic(name)
	topic.EnableMessageOrdering = true
	return topic
}

// configuredSecrets serves webhook secrets already resolved by config.Load. Blank values report
// auth.ErrSecretNotConfigured so the guard can tell "unset" from "lookup failed".
func configuredSecrets(values map[string]string) auth.SecretProvider {
	return auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		value, ok := values[name]
		if !ok {
			return "", fmt.Errorf("auth: unknown secret %q", name)
		}
		if strings.TrimSpace(value) == "" {
			return "", auth.ErrSecretNotConfigured
		}
		return value, nil
	})
}

func newOIDCMiddleware(cfg config.Config, logger auth.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	oidcCfg := cfg.Security.OIDC
	if strings.TrimSpace(oidcCfg.Audience) == "" {
		return nil
	}
	cache := auth.NewJWKSCache(oidcCfg.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCMetrics(metrics),
	)
	return validator.RequireOIDC(auth.OIDCPolicy{
		Audience:      oidcCfg.Audience,
		Issuers:       oidcCfg.Issuers,
		AllowedEmails: oidcCfg.AllowedEmails,
	})
}

// newEventLog remembers webhook event ids in Firestore, shared by every instance. Redis takes
// over when configured.
func newEventLog(provider *pfirestore.Provider, redisClient *redis.Client) (services.EventLog, error) {
	if redisClient != nil {
		return eventlog.NewRedisStore(redisClient)
	}
	return eventlog.NewFirestoreStore(provider)
}

func newHealthRepository(provider *pfirestore.Provider, redisClient *redis.Client) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{Name: "firestore", Timeout: 2 * time.Second, Check: provider.Ping},
	}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks, nil)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
