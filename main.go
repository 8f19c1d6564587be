package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/olticketwidget/price-ingest/config"
	"github.com/olticketwidget/price-ingest/logger"
	"github.com/olticketwidget/price-ingest/metadataref"
	"github.com/olticketwidget/price-ingest/poller"
	"github.com/olticketwidget/price-ingest/ratelimiter"
	"github.com/olticketwidget/price-ingest/redisclient"
	"github.com/olticketwidget/price-ingest/retention"
	"github.com/olticketwidget/price-ingest/router"
	"github.com/olticketwidget/price-ingest/runlock"
	"github.com/olticketwidget/price-ingest/scheduler"
	"github.com/olticketwidget/price-ingest/store"
	"github.com/olticketwidget/price-ingest/teapi"
	"github.com/olticketwidget/price-ingest/teclient"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("price ingest service starting")

	ctx := context.Background()

	pgStore, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pgStore.Close()
	log.Info().Msg("postgres connected")

	limiter := buildRateLimiter(cfg, log)

	teClient, err := teclient.New(teclient.Config{
		BaseURL:    cfg.TEBaseURL,
		Token:      cfg.TEToken,
		Secret:     cfg.TESecret,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build ticket evolution client")
	}
	limitedFetcher := &rateLimitedFetcher{client: teClient, limiter: limiter}

	enforcer := retention.New(pgStore, cfg.RetentionDaysEnd)
	engine := poller.New(pgStore, limitedFetcher, retention.PollerAdapter{Enforcer: enforcer}, cfg.BatchSize, log)
	coordinator := runlock.New(pgStore, cfg.StaleLockMinutes)
	refresher := metadataref.New(pgStore, teClient, cfg.OLTBaseURL, cfg.DefaultTimezone)

	h := &scheduler.Handlers{
		Coordinator:  coordinator,
		Engine:       engine,
		Refresher:    refresher,
		Retention:    enforcer,
		Roller:       pgStore,
		SharedSecret: cfg.SchedulerSharedSecret,
		Log:          log,
	}

	var cronHandle interface{ Stop() context.Context }
	if cfg.EnableInProcessCron {
		c := scheduler.StartInProcessCron(h)
		cronHandle = c
		log.Info().Msg("in-process cron scheduler started")
	}

	handler := router.New(cfg, log, h)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("price ingest service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	if cronHandle != nil {
		cronHandle.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("price ingest service stopped gracefully")
	}
}

// rateLimitedFetcher adapts teclient.Client to poller.ListingsFetcher,
// gating every call on the outbound rate limiter.
type rateLimitedFetcher struct {
	client  *teclient.Client
	limiter ratelimiter.Limiter
}

func (f *rateLimitedFetcher) GetListings(ctx context.Context, eventID int64) ([]teapi.Listing, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return f.client.GetListings(ctx, eventID)
}

func buildRateLimiter(cfg *config.Config, log zerolog.Logger) ratelimiter.Limiter {
	if cfg.RedisURL == "" {
		log.Info().Msg("no REDIS_URL set, using in-memory outbound rate limiter")
		return ratelimiter.NewInMemory(300)
	}

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed, falling back to in-memory rate limiter")
		return ratelimiter.NewInMemory(300)
	}
	if err := rc.Ping(context.Background()); err != nil {
		log.Warn().Err(err).Msg("redis ping failed, falling back to in-memory rate limiter")
		return ratelimiter.NewInMemory(300)
	}
	log.Info().Msg("redis connected, using redis-backed outbound rate limiter")
	return ratelimiter.NewRedis(rc.Raw, "te_api_calls", 300)
}
