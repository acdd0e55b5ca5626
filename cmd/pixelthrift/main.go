package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/pixelthrift/internal/api"
	"github.com/dunamismax/pixelthrift/internal/config"
	"github.com/dunamismax/pixelthrift/internal/decode"
	"github.com/dunamismax/pixelthrift/internal/fetch"
	"github.com/dunamismax/pixelthrift/internal/pipeline"
	"github.com/dunamismax/pixelthrift/internal/ratelimit"
	"github.com/dunamismax/pixelthrift/internal/store"
	"github.com/dunamismax/pixelthrift/internal/telemetry"
)

func main() {
	cfg := config.Load().Normalize()
	logger := log.New(os.Stdout, "[pixelthrift] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Trace, "pixelthrift", logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	var rateLimiter api.RateLimiter
	if cfg.RateLimit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer func() {
			if err := client.Close(); err != nil {
				logger.Printf("redis close error: %v", err)
			}
		}()

		bucket, err := ratelimit.NewTokenBucket(client, cfg.RateLimit.PerMinute, time.Minute, "pixelthrift:ratelimit")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		rateLimiter = bucket
		logger.Printf("rate limiting enabled redis=%s rpm=%d", cfg.RateLimit.RedisAddr, cfg.RateLimit.PerMinute)
	}

	var savings store.SavingsStore = store.NewMemorySavingsStore()
	if cfg.Store.PostgresDSN != "" {
		pg, err := store.NewPostgresSavingsStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			logger.Printf("postgres savings store unavailable, falling back to memory: %v", err)
		} else {
			defer func() {
				if err := pg.Close(); err != nil {
					logger.Printf("postgres close error: %v", err)
				}
			}()
			savings = pg
		}
	}

	app := api.NewServer(
		logger,
		cfg,
		fetch.NewClient(logger, cfg.Fetch),
		decode.New(logger, cfg.Fetch.MaxBodyBytes),
		pipeline.NewOrchestrator(logger, cfg.Transcode),
		savings,
		rateLimiter,
		otel.Tracer("pixelthrift/api"),
	)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: app.Handler(),
		// The write timeout has to cover a full fetch plus transcode with
		// one fallback retry.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Fetch.Timeout + cfg.Transcode.MetadataTimeout + 2*cfg.Transcode.EncodeTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s concurrency=%d min_compress_length=%d", cfg.Server.Addr, cfg.Transcode.Concurrency, cfg.Compress.MinCompressLength)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
