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

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/freshmart/api/internal/domain"
	"github.com/freshmart/api/internal/handlers"
	"github.com/freshmart/api/internal/platform/auth"
	"github.com/freshmart/api/internal/platform/config"
	pfirestore "github.com/freshmart/api/internal/platform/firestore"
	"github.com/freshmart/api/internal/platform/idempotency"
	"github.com/freshmart/api/internal/platform/jobs"
	"github.com/freshmart/api/internal/platform/observability"
	platformstorage "github.com/freshmart/api/internal/platform/storage"
	"github.com/freshmart/api/internal/repositories"
	firestoreRepo "github.com/freshmart/api/internal/repositories/firestore"
	"github.com/freshmart/api/internal/services"
)

const (
	// checkoutRateLimit caps order placement attempts per customer per window.
	checkoutRateLimit  = 30
	checkoutRateWindow = time.Minute

	idempotencyCleanupEvery = 10 * time.Minute
	idempotencyCleanupBatch = 100
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := handlers.BuildInfo{
		Version:     strings.TrimSpace(os.Getenv("API_VERSION")),
		CommitSHA:   strings.TrimSpace(os.Getenv("API_COMMIT_SHA")),
		Environment: strings.TrimSpace(os.Getenv("API_ENVIRONMENT")),
		StartedAt:   startedAt,
	}

	var clientOpts []option.ClientOption
	if credentials := strings.TrimSpace(cfg.Firebase.CredentialsFile); credentials != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentials))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	notificationsTopic := pubsubClient.Topic(cfg.PubSub.NotificationsTopic)
	defer notificationsTopic.Stop()

	publisher, err := jobs.NewPubSubNotificationPublisher(notificationsTopic)
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}

	storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	// The service account key doubles as the URL signing key; without one the
	// store hands out canonical object URLs instead of signed links.
	var storeOpts []platformstorage.DocumentStoreOption
	if credentials := strings.TrimSpace(cfg.Firebase.CredentialsFile); credentials != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromFile(credentials)
		if err != nil {
			logger.Warn("invoice url signing disabled", zap.Error(err))
		} else {
			storeOpts = append(storeOpts, platformstorage.WithSigner(signer))
		}
	}

	documents, err := platformstorage.NewDocumentStore(storageClient, cfg.Storage.InvoicesBucket, storeOpts...)
	if err != nil {
		logger.Fatal("failed to initialise invoice document store", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider,
		firestoreRepo.WithDependencyCheck(repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 1500 * time.Millisecond,
			Check:   pubsubPing(notificationsTopic),
		}),
		firestoreRepo.WithDependencyCheck(repositories.DependencyCheck{
			Name:    "storage",
			Timeout: 1500 * time.Millisecond,
			Check:   storagePing(storageClient, cfg.Storage.InvoicesBucket),
		}),
	)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Publisher: publisher,
		Logger:    zapEventLogger(logger.Named("notifications")),
	})
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}

	invoiceRenderer, err := services.NewStorageInvoiceRenderer(documents)
	if err != nil {
		logger.Fatal("failed to initialise invoice renderer", zap.Error(err))
	}
	invoiceService, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Orders:    registry.Orders(),
		Counters:  registry.Counters(),
		Directory: registry.Directory(),
		Renderer:  invoiceRenderer,
		Notifier:  dispatcher,
		Logger:    zapEventLogger(logger.Named("invoices")),
	})
	if err != nil {
		logger.Fatal("failed to initialise invoice service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    registry.Orders(),
		Directory: registry.Directory(),
		Invoices:  invoiceService,
		Notifier:  dispatcher,
		Logger:    zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	deliveryService, err := services.NewDeliveryService(services.DeliveryServiceDeps{
		Orders:          registry.Orders(),
		Directory:       registry.Directory(),
		Invoices:        invoiceService,
		Notifier:        dispatcher,
		DefaultRadiusKM: cfg.Delivery.NearbyRadiusKM,
		Logger:          zapEventLogger(logger.Named("delivery")),
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     registry.Orders(),
		Catalog:    registry.Catalog(),
		Carts:      registry.Carts(),
		Counters:   registry.Counters(),
		Directory:  registry.Directory(),
		UnitOfWork: registry,
		Coupons:    services.NewFixedRateCouponValidator(cfg.Pricing.CouponDiscountBasisPoints),
		Notifier:   dispatcher,
		Rates: domain.PricingRates{
			TaxBasisPoints:      cfg.Pricing.TaxBasisPoints,
			DiscountBasisPoints: cfg.Pricing.CouponDiscountBasisPoints,
			StandardDelivery:    cfg.Pricing.StandardDeliveryCharge,
			ExpressDelivery:     cfg.Pricing.ExpressDeliveryCharge,
		},
		Currency:              cfg.Pricing.Currency,
		EstimatedDeliveryDays: cfg.Delivery.EstimatedDays,
		Logger:                zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: registry.Catalog(),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	cartService, err := services.NewCartService(registry.Carts(), registry.Catalog())
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	systemService, err := services.NewSystemService(registry.Health())
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	orderHandlers := handlers.NewOrderHandlers(handlers.OrderHandlersDeps{
		Authenticator:   authenticator,
		Checkout:        checkoutService,
		Orders:          orderService,
		Delivery:        deliveryService,
		Invoices:        invoiceService,
		CheckoutLimiter: handlers.NewRateLimiter(checkoutRateLimit, checkoutRateWindow, time.Now),
	})
	deliveryHandlers := handlers.NewDeliveryHandlers(authenticator, deliveryService)
	cartHandlers := handlers.NewCartHandlers(authenticator, cartService)
	productHandlers := handlers.NewProductHandlers(authenticator, catalogService)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(idempotencyCleanupEvery)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), idempotencyCleanupBatch)
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

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithDeliveryRoutes(deliveryHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("freshmart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	// Let queued notification deliveries flush before the pubsub client closes.
	dispatcher.Wait()
}

func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func pubsubPing(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pubsub topic %q not found", topic.ID())
		}
		return nil
	}
}

func storagePing(client *cloudstorage.Client, bucket string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := client.Bucket(bucket).Attrs(ctx)
		return err
	}
}
