package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/matchcall/internal/adapters/http"
	"github.com/dkeye/matchcall/internal/adapters/relay"
	"github.com/dkeye/matchcall/internal/app"
	"github.com/dkeye/matchcall/internal/bus"
	"github.com/dkeye/matchcall/internal/config"
	"github.com/dkeye/matchcall/internal/observe"
)

func newBroker(ctx context.Context, cfg config.RelayConfig) (bus.Broker, error) {
	switch cfg.Broker {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info().Str("module", "main").Str("addr", cfg.RedisAddr).Msg("redis broker")
		return bus.NewRedis(client), nil
	default:
		log.Info().Str("module", "main").Msg("in-memory broker")
		return bus.NewMemory(), nil
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	provider, err := observe.InitProvider("matchcall-relay")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init metrics")
	}
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create instruments")
	}

	broker, err := newBroker(ctx, cfg.Relay)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start broker")
	}

	hub := app.NewHub(broker, metrics)
	ctrl := relay.NewBusWSController(hub, relay.Options{
		ReadLimit:    cfg.Relay.ReadLimit,
		PingPeriod:   cfg.Relay.PingPeriod,
		SendBuffer:   cfg.Relay.SendBuffer,
		RateLimit:    cfg.Relay.RateLimit,
		RateInterval: cfg.Relay.RateInterval,
	}, metrics)

	r := router.SetupRouter(ctx, cfg, ctrl, provider.Handler)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return errors.Join(
			srv.Shutdown(shutdownCtx),
			broker.Close(),
			provider.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}
	log.Info().Msg("Server exited gracefully")
}
