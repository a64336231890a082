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
	"go.uber.org/zap"

	"github.com/oiy-sale/api/internal/di"
	"github.com/oiy-sale/api/internal/handlers"
	"github.com/oiy-sale/api/internal/platform/config"
	"github.com/oiy-sale/api/internal/platform/events"
	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/platform/observability"
	firestoreRepo "github.com/oiy-sale/api/internal/repositories/firestore"
	"github.com/oiy-sale/api/internal/services"
)

func main() {
	ctx := context.Background()

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
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore provider close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(provider)
	if err != nil {
		logger.Fatal("failed to build repositories", zap.Error(err))
	}

	var publisher services.OrderEventPublisher
	var pubsubClient *pubsub.Client
	if cfg.PubSub.Enabled() {
		projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
		if projectID == "" {
			projectID = cfg.Firestore.ProjectID
		}
		pubsubClient, err = pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to create pubsub client", zap.Error(err))
		}
		publisher, err = events.NewPubSubOrderEventPublisher(pubsubClient.Topic(cfg.PubSub.OrderEventsTopic))
		if err != nil {
			logger.Fatal("failed to build order event publisher", zap.Error(err))
		}
		logger.Info("order event publishing enabled", zap.String("topic", cfg.PubSub.OrderEventsTopic))
	} else {
		logger.Info("order event publishing disabled")
	}
	defer func() {
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub client close error", zap.Error(err))
			}
		}
	}()

	container, err := di.NewContainer(ctx, cfg, di.ContainerDeps{
		Registry: registry,
		Events:   publisher,
		Logger:   serviceLogger(),
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(container.Services.System)),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(container.Services.Checkout).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(container.Services.Orders).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminOrderHandlers(container.Services.Orders, container.Services.Audit).Routes),
		handlers.WithTeamRoutes(handlers.NewShipmentHandlers(container.Services.Shipments).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
		return
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
	logger.Info("server stopped")
}

// serviceLogger adapts the zap logger stored on the request context to the
// event-style logging hook the services accept.
func serviceLogger() func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		observability.FromContext(ctx).Info(event, zapFields...)
	}
}
