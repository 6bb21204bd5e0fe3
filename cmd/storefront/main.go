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
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"github.com/BUIHOANGDU/nail-store/internal/catalog"
	"github.com/BUIHOANGDU/nail-store/internal/detail"
	"github.com/BUIHOANGDU/nail-store/internal/i18n"
	"github.com/BUIHOANGDU/nail-store/internal/orders"
	"github.com/BUIHOANGDU/nail-store/internal/platform/config"
	pfirestore "github.com/BUIHOANGDU/nail-store/internal/platform/firestore"
	"github.com/BUIHOANGDU/nail-store/internal/platform/observability"
	"github.com/BUIHOANGDU/nail-store/internal/platform/secrets"
	"github.com/BUIHOANGDU/nail-store/internal/platform/snapshot"
	platformstorage "github.com/BUIHOANGDU/nail-store/internal/platform/storage"
	"github.com/BUIHOANGDU/nail-store/internal/session"
	"github.com/BUIHOANGDU/nail-store/internal/storefront"
)

func main() {
	ctx := context.Background()

	baseLogger, logLevel, err := observability.NewLeveledLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(firstNonEmpty(os.Getenv("STORE_FIRESTORE_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"))),
		secrets.WithFallbackFile(os.Getenv("STORE_SECRETS_FALLBACK_FILE")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", verr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if level := strings.TrimSpace(cfg.Log.Level); level != "" {
		logLevel.SetLevel(observability.ParseLevel(level))
	}
	logger = logger.With(zap.String("env", cfg.Environment))
	ctx = observability.WithLogger(ctx, logger)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	loader, closeCatalog := newCatalogLoader(ctx, cfg, firestoreProvider, logger.Named("catalog"))
	defer closeCatalog()

	submitter, closeOrders, err := newOrderSubmitter(ctx, cfg, firestoreProvider, logger.Named("orders"))
	if err != nil {
		logger.Fatal("failed to initialise order submitter", zap.Error(err))
	}
	defer closeOrders()

	snapshots, closeSnapshots, err := snapshot.Open(cfg.Cart)
	if err != nil {
		logger.Fatal("failed to initialise cart storage", zap.Error(err), zap.String("backend", cfg.Cart.Backend))
	}
	defer func() {
		if err := closeSnapshots(); err != nil {
			logger.Warn("cart storage close error", zap.Error(err))
		}
	}()

	sessions, err := newSessionManager(cfg.Session, logger)
	if err != nil {
		logger.Fatal("failed to initialise sessions", zap.Error(err))
	}

	messages, err := i18n.Load(cfg.Locale.Default, cfg.Locale.Supported)
	if err != nil {
		logger.Fatal("failed to load message catalogs", zap.Error(err))
	}

	srv, err := storefront.New(storefront.Deps{
		Catalog:       loader,
		Snapshots:     snapshots,
		Orders:        submitter,
		Detail:        detail.NewPresenter(),
		Sessions:      sessions,
		Messages:      messages,
		Logger:        logger.Named("http"),
		CartKeyPrefix: cfg.Cart.KeyPrefix,
	})
	if err != nil {
		logger.Fatal("failed to initialise storefront", zap.Error(err))
	}

	handler := srv.Routes()
	if cfg.Server.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.Server.RequestTimeout, "request timed out")
	}
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening")
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

func newCatalogLoader(ctx context.Context, cfg config.Config, provider *pfirestore.Provider, logger *zap.Logger) (*catalog.Loader, func()) {
	closer := func() {}
	staticOpts := []catalog.StaticOption{catalog.WithStaticLogger(logger)}
	if platformstorage.IsObjectURL(cfg.Catalog.StaticSource) {
		reader, err := platformstorage.NewReader(ctx, nil)
		if err != nil {
			logger.Warn("cloud storage unavailable; static catalog will be empty", zap.Error(err))
		} else {
			staticOpts = append(staticOpts, catalog.WithObjectReader(reader))
			closer = func() {
				if err := reader.Close(); err != nil {
					logger.Warn("storage close error", zap.Error(err))
				}
			}
		}
	}
	static := catalog.NewStaticSource(cfg.Catalog.StaticSource, staticOpts...)

	var remote catalog.RemoteSource
	if strings.TrimSpace(cfg.Firestore.ProjectID) != "" || strings.TrimSpace(cfg.Firestore.EmulatorHost) != "" {
		remote = catalog.NewFirestoreSource(provider, cfg.Catalog.Collection, logger)
	} else {
		logger.Warn("no firestore project configured; serving the static catalog", zap.String("location", static.Location()))
	}

	loader := catalog.NewLoader(remote, static,
		catalog.WithFallbackPolicy(catalog.FallbackPolicy(cfg.Catalog.FallbackPolicy)),
		catalog.WithQueryTimeout(cfg.Catalog.QueryTimeout),
		catalog.WithBreaker(cfg.Catalog.BreakerFailures, cfg.Catalog.BreakerCooldown),
		catalog.WithLogger(logger),
	)
	return loader, closer
}

func newOrderSubmitter(ctx context.Context, cfg config.Config, provider *pfirestore.Provider, logger *zap.Logger) (*orders.Submitter, func(), error) {
	closer := func() {}
	opts := []orders.Option{orders.WithLogger(logger)}

	if topicName := strings.TrimSpace(cfg.Orders.Topic); topicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Warn("pubsub unavailable; order notifications disabled", zap.Error(err))
		} else {
			topic := client.Topic(topicName)
			notifier, err := orders.NewPubSubNotifier(topic)
			if err != nil {
				_ = client.Close()
				return nil, closer, err
			}
			opts = append(opts, orders.WithNotifier(notifier))
			closer = func() {
				topic.Stop()
				if err := client.Close(); err != nil {
					logger.Warn("pubsub close error", zap.Error(err))
				}
			}
		}
	}

	sink := orders.NewFirestoreSink(provider, cfg.Orders.Collection, logger)
	submitter, err := orders.NewSubmitter(sink, opts...)
	if err != nil {
		closer()
		return nil, func() {}, err
	}
	return submitter, closer, nil
}

func newSessionManager(cfg config.SessionConfig, logger *zap.Logger) (*session.Manager, error) {
	hashKey := []byte(cfg.HashKey)
	if len(hashKey) == 0 {
		logger.Warn("session hash key not configured; using an ephemeral key")
		hashKey = securecookie.GenerateRandomKey(32)
	}
	var blockKey []byte
	if cfg.BlockKey != "" {
		blockKey = []byte(cfg.BlockKey)
	}
	return session.NewManager(session.Config{
		CookieName:   cfg.CookieName,
		HashKey:      hashKey,
		BlockKey:     blockKey,
		CookieSecure: cfg.Secure,
		Lifetime:     cfg.Lifetime,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
