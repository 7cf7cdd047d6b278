package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/orders/internal/di"
	"github.com/hanko-field/orders/internal/handlers"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/config"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/secrets"
	"github.com/hanko-field/orders/internal/repositories"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("ORDERS_LOG_LEVEL")
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("orders")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var firestoreProvider *pfirestore.Provider
	if cfg.Store.Backend != config.StoreBackendMemory {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
	}

	messaging, err := di.NewMessaging(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise pubsub publisher", zap.Error(err))
	}
	exports, err := di.NewExportStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialise export storage", zap.Error(err))
	}

	var extraChecks []repositories.DependencyCheck
	containerOpts := []di.Option{di.WithLogger(logger)}
	if messaging != nil {
		extraChecks = append(extraChecks, messaging.Check)
		containerOpts = append(containerOpts, di.WithEventPublisher(messaging.Publisher), di.WithCloser(messaging.Close))
	} else {
		logger.Warn("order events topic not configured; events will not be published")
	}
	if exports != nil {
		containerOpts = append(containerOpts, di.WithExporter(exports.Exporter), di.WithCloser(exports.Close))
	}

	registry, err := di.OpenRegistry(cfg, firestoreProvider, extraChecks...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()
	svc := container.Services

	var idempotencyStore idempotency.Store
	if firestoreProvider != nil {
		idempotencyStore = idempotency.NewFirestoreStore(firestoreProvider, "")
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, cfg.Firebase.RoleClaim)

	limits := handlers.PageLimits{Default: cfg.Orders.DefaultPageSize, Max: cfg.Orders.MaxPageSize}
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Lifecycle, svc.Returns,
		handlers.WithOrderPageLimits(limits),
		handlers.WithCreateOrderMiddleware(idempotencyMiddleware),
	)
	returnHandlers := handlers.NewReturnHandlers(authenticator, svc.Returns, limits)
	storefrontHandlers := handlers.NewStorefrontHandlers(authenticator, svc.Stock, svc.Discounts)
	adminOrders := handlers.NewAdminOrderHandlers(authenticator, svc.Orders, svc.Lifecycle, svc.Stats, limits)
	adminReturns := handlers.NewAdminReturnHandlers(authenticator, svc.Returns, limits)
	adminStock := handlers.NewAdminStockHandlers(authenticator, svc.Stock)
	adminPromotions := handlers.NewAdminPromotionHandlers(authenticator, svc.Discounts)
	adminAudit := handlers.NewAdminAuditHandlers(authenticator, svc.AuditLogs, limits)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo(cfg, startedAt)),
		handlers.WithHealthRepository(registry.Health()),
	)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware,
			observability.RequestLoggerMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReturnRoutes(returnHandlers.Routes),
		handlers.WithStorefrontRoutes(storefrontHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			adminOrders.Routes(r)
			adminReturns.Routes(r)
			adminStock.Routes(r)
			adminPromotions.Routes(r)
			adminAudit.Routes(r)
		}),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		jobs := handlers.NewInternalJobHandlers(svc.Stats, idempotencyStore,
			handlers.WithCleanupBatchSize(cfg.Idempotency.CleanupBatchSize),
		)
		routerOpts = append(routerOpts,
			handlers.WithInternalMiddlewares(oidcMiddleware),
			handlers.WithInternalRoutes(jobs.Routes),
		)
	} else {
		logger.Warn("auth: OIDC JWKS url not configured; internal job routes disabled")
	}
	router := handlers.NewRouter(routerOpts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Backend))
	go func() {
		serverLogger.Info("orders api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfo(cfg config.Config, started time.Time) handlers.BuildInfo {
	lookup := func(key, fallback string) string {
		value, _ := config.Lookup(key)
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return fallback
	}
	return handlers.BuildInfo{
		Version:     lookup("ORDERS_BUILD_VERSION", "dev"),
		CommitSHA:   lookup("ORDERS_BUILD_COMMIT_SHA", "unknown"),
		Environment: lookup("ORDERS_ENVIRONMENT", "local"),
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: 5 * time.Second}, time.Now)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return auth.NewOIDCVerifier(cache, audience, issuers).RequireOIDC
}

func traceProjectID(cfg config.Config) string {
	if project := strings.TrimSpace(cfg.Firestore.ProjectID); project != "" {
		return project
	}
	return strings.TrimSpace(cfg.Firebase.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		value, _ := config.Lookup(key)
		return strings.TrimSpace(value)
	}

	defaultProject := lookup("ORDERS_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("ORDERS_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("ORDERS_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("ORDERS_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
