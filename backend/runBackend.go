package backend

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/jghoshh/habittree/backend/config"
	"github.com/jghoshh/habittree/backend/engine"
	"github.com/jghoshh/habittree/backend/metrics"
	"github.com/jghoshh/habittree/backend/queue"
	"github.com/jghoshh/habittree/backend/server"
	"github.com/jghoshh/habittree/backend/storage/cache"
	"github.com/jghoshh/habittree/backend/storage/persistent"
)

// numProgressProducers is the number of producers publishing progress events.
const numProgressProducers = 1

// RunBackend is the main function that sets up and runs the backend server.
// It blocks until SIGINT or SIGTERM, or until ctx is done, then shuts everything down.
func RunBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store: MongoDB when a URI is configured, memory otherwise.
	store, err := persistent.NewStorage(persistent.Options{
		URI:             cfg.MongoDBURI,
		DBName:          cfg.DBName,
		UseTransactions: cfg.UseTransactions,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Disconnect(); err != nil {
			logger.Error("error disconnecting store", "error", err)
		}
	}()

	// Leaderboard cache: Redis when a URL is configured, memory otherwise.
	leaderboardCache, err := cache.NewCache(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := leaderboardCache.Disconnect(); err != nil {
			logger.Error("error disconnecting cache", "error", err)
		}
	}()

	m := metrics.New()

	// Progress events go through RabbitMQ when it is configured, otherwise they are
	// handled in the request goroutine.
	var publisher engine.ProgressPublisher = &queue.DirectPublisher{Cache: leaderboardCache, Recorder: m}
	if cfg.RabbitMQURL != "" {
		progressQueue, err := queue.BuildProgressQueue(cfg.RabbitMQURL, numProgressProducers, cfg.ProgressConsumers, leaderboardCache, m, logger)
		if err != nil {
			return err
		}
		consumersCtx, stopConsumers := context.WithCancel(ctx)
		wg := progressQueue.StartConsumers(consumersCtx, logger)
		defer func() {
			stopConsumers()
			wg.Wait()
			if err := progressQueue.Close(); err != nil {
				logger.Error("error closing progress queue", "error", err)
			}
		}()
		publisher = queue.NewQueuePublisher(progressQueue)
	}

	service, err := engine.NewService(engine.Options{
		Store:     store,
		Cache:     leaderboardCache,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
		Location:  cfg.Location,
	})
	if err != nil {
		return err
	}

	handler := server.NewRouter(server.Config{
		Service:    service,
		Metrics:    m,
		SigningKey: cfg.JWTSigningKey,
		Logger:     logger,
		AccessLog:  os.Stdout,
	})

	logger.Info("starting backend",
		"server_url", cfg.ServerURL,
		"mongodb", cfg.MongoDBURI != "",
		"redis", cfg.RedisURL != "",
		"rabbitmq", cfg.RabbitMQURL != "",
		"timezone", cfg.Location.String(),
	)

	err = server.Start(ctx, cfg.ServerURL, handler, logger)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("backend stopped")
	return nil
}
