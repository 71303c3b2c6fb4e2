package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"qrattend/internal/api"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/clock"
	"qrattend/internal/config"
	"qrattend/internal/events"
	"qrattend/internal/faceclient"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/log"
	"qrattend/internal/notify"
	"qrattend/internal/queue"
	"qrattend/internal/ratelimit"
	"qrattend/internal/session"
	"qrattend/internal/store"
)

// notifyQueueKey is the Redis list shared with cmd/worker.
const notifyQueueKey = "attendance:notify"

func main() {
	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "qrattend-api"})
	logger := log.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("api server failed")
	}
	logger.Info().Msg("server exited")
}

func run(ctx context.Context, cfg config.App) error {
	logger := log.WithComponent("main")

	db, err := store.NewDB(ctx, cfg.StoreDriver, cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	repo := store.NewRepository(db.Client)

	health := map[string]api.HealthCheck{"db": db.Healthy}

	var rdb *store.Redis
	if cfg.NeedsRedis() {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		if !rdb.Healthy(ctx) {
			logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable at startup")
		}
		health["redis"] = rdb.Healthy
	}

	clk := clock.Real{}
	verifier := auth.Verifier{Key: cfg.JWTSigningKey, Issuer: cfg.JWTIssuer}
	hub := events.NewHub(verifier, 0)
	defer hub.Close()

	var publisher events.Publisher = hub
	var relay *events.RedisRelay
	if cfg.EventsBackend == "redis" {
		relay = events.NewRedisRelay(rdb.Client, events.DefaultChannel, hub)
		publisher = relay
	}

	var live session.LiveStore = session.NewMemoryStore()
	if cfg.LiveStore == "redis" {
		live = session.NewRedisStore(rdb.Client, "", 0)
	}

	limits := ratelimit.Config{MaxAttempts: cfg.Policy.RateLimitAttempts, Window: cfg.Policy.RateLimitWindow}
	window := ratelimit.NewWindow(limits, clk)
	var limiter ratelimit.Limiter = window
	if cfg.RateLimitBackend == "redis" {
		limiter = ratelimit.NewRedis(rdb.Client, "", limits)
	}

	var notifier session.Notifier = notify.NewFanout(repo, publisher, clk)
	if cfg.NotifyMode == "queue" {
		notifier = notify.NewQueued(queue.NewRedisQueue(rdb.Client, notifyQueueKey))
	}

	sessions := session.NewManager(session.Config{
		SessionWindow:  cfg.Policy.SessionWindow,
		RegenWindow:    cfg.Policy.RegenWindow,
		DefaultRadius:  cfg.Policy.DefaultRadiusMeters,
		DefaultRoom:    cfg.Policy.DefaultRoom,
		CheckInBaseURL: cfg.PublicBaseURL,
	}, repo, live, publisher, session.WithClock(clk), session.WithNotifier(notifier))

	admission := attendance.NewService(attendance.Policy{
		SessionWindow:         cfg.Policy.SessionWindow,
		GracePeriod:           cfg.Policy.GracePeriod,
		FaceDistanceThreshold: cfg.Policy.FaceDistanceThreshold,
		StrictGeofence:        cfg.Policy.StrictGeofence,
	}, attendance.Deps{
		Live:      live,
		Records:   repo,
		Ledger:    repo,
		Limiter:   limiter,
		Publisher: publisher,
		Clock:     clk,
	})

	var face api.FaceVerifier
	if cfg.FaceMode == "server" {
		fc := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
		if err := fc.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("face service not available")
		}
		face = fc
	}

	srv := api.New(api.Deps{
		Sessions:  sessions,
		Admission: admission,
		Repo:      repo,
		Hub:       hub,
		Verifier:  verifier,
		Face:      face,
		IPLimiter: httpmiddleware.NewIPLimiter(cfg.RateLimitPerMin),
		Health:    health,
		Clock:     clk,
	})

	httpSrv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/events holds its response open.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpSrv.Addr).Msg("starting server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		// Close streams first so Shutdown is not held open by SSE handlers.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server forced shutdown")
		}
		return nil
	})
	g.Go(func() error {
		session.NewSweeper(live, clk, cfg.Policy.SweepInterval).Run(gctx)
		return nil
	})
	if cfg.RateLimitBackend == "memory" {
		g.Go(func() error {
			window.Run(gctx, cfg.Policy.RateLimitWindow)
			return nil
		})
	}
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
