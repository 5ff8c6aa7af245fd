// Package server builds the matcher service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-matcher/internal/api"
	"github.com/JakeFAU/realtime-price-matcher/internal/cache"
	"github.com/JakeFAU/realtime-price-matcher/internal/config"
	"github.com/JakeFAU/realtime-price-matcher/internal/dispatcher"
	"github.com/JakeFAU/realtime-price-matcher/internal/fetcher/headless"
	gcppublisher "github.com/JakeFAU/realtime-price-matcher/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/realtime-price-matcher/internal/queue/memory"
	"github.com/JakeFAU/realtime-price-matcher/internal/query"
)

// closer is a durable cache store that holds connections.
type closer interface {
	Close()
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	service      *query.Service
	dispatch     *dispatcher.Dispatcher
	queue        *queuememory.Queue
	cache        *cache.Cache
	browser      *headless.Browser
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	cacheStore   closer
	// redisClose is set when the cache store is Redis, whose Close returns an error.
	redisClose     func() error
	tracerShutdown func(context.Context) error
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Service returns the query service.
func (a *App) Service() *query.Service {
	return a.service
}

// Start launches the dispatcher and cache janitor; they stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Matcher.JobWorkers))
		a.dispatch.Run(ctx)
	}()
	go a.cache.RunJanitor(ctx, time.Duration(a.cfg.Cache.JanitorIntervalMs)*time.Millisecond)
}

// Run starts the application and blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every external resource. It is safe to call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.cacheStore != nil {
		a.cacheStore.Close()
	}
	if a.redisClose != nil {
		if err := a.redisClose(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}
