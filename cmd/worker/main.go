package main

import (
	"context"
	"os/signal"
	"syscall"

	"qrattend/internal/clock"
	"qrattend/internal/config"
	"qrattend/internal/events"
	"qrattend/internal/log"
	"qrattend/internal/notify"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes session_created jobs and notifies enrolled students through the
// shared event channel.
func main() {
	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "qrattend-worker"})
	logger := log.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.EventsBackend != "redis" {
		logger.Warn().Msg("EVENTS_BACKEND is not redis; notifications from this process reach no subscriber")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.StoreDriver, cfg.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()
	repo := store.NewRepository(db.Client)

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable; worker will keep retrying")
	}

	q := queue.NewRedisQueue(rdb.Client, "attendance:notify")
	relay := events.NewRedisRelay(rdb.Client, events.DefaultChannel, nil)
	worker := notify.NewWorker(q, repo, notify.NewFanout(repo, relay, clock.Real{}))

	if err := worker.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
	logger.Info().Msg("worker stopped")
}
