package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	brokerapi "github.com/arcadelab/identity/api/echo"
	"github.com/arcadelab/identity/cache"
	cacheredis "github.com/arcadelab/identity/cache/redis"
	"github.com/arcadelab/identity/config"
	"github.com/arcadelab/identity/internal/flow"
	"github.com/arcadelab/identity/internal/identity"
	"github.com/arcadelab/identity/internal/metrics"
	"github.com/arcadelab/identity/internal/provider"
	"github.com/arcadelab/identity/internal/session"
	applog "github.com/arcadelab/identity/log"
	"github.com/arcadelab/identity/mongodb"
	"github.com/arcadelab/identity/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	applog.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db", cfg.MongoDBName).
		Str("telemetry", cfg.TelemetryLevel).
		Msg("starting identity broker")

	gateLevel, err := tracing.ParseLevel(cfg.TelemetryLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid telemetry level")
	}
	gate := tracing.NewGate(gateLevel)

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	ctx := context.Background()
	db, closeMongo, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mongodb")
	}

	repo, err := mongodb.NewIdentityRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize identity repository")
	}

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider registry")
	}

	ids, err := identity.NewIDEncoder(cfg.IDEncoder)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid id encoder configuration")
	}
	names, err := identity.NewNameGenerator(cfg.NameGenerator, cfg.NameBase)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid name generator configuration")
	}
	resolver := identity.NewResolver(repo, ids, names)

	sessionStore, tokenStore := buildStores(cfg)
	sessions := session.NewManager(sessionStore, tokenStore, cfg.SessionDuration(), cfg.TokenDuration())

	attempts := flow.NewInMemoryAttemptStore()
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go attempts.RunCleanup(cleanupCtx, time.Minute)

	engine := flow.NewEngine(registry, attempts, resolver, sessions, cfg.FlowTTL(), gate)

	metrics.Register(prometheus.DefaultRegisterer)

	router := echo.New()
	router.HideBanner = true
	router.Use(middleware.Recover())
	router.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	brokerapi.NewBrokerAPI(engine, sessions, resolver, registry, gate).RegisterRoutes(router)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.HTTPPort)
		if err := router.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Str("port", cfg.HTTPPort).Msg("identity broker listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer provider shutdown failed")
	}
	if err := closeMongo(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mongodb disconnect failed")
	}
	log.Info().Msg("shutdown complete")
}

// buildStores selects the credential store backend: Redis when an address is
// configured, in-process memory otherwise.
func buildStores(cfg *config.Config) (cache.SessionStore, cache.TokenStore) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("using in-memory credential stores")
		return cache.NewMemorySessionStore(), cache.NewMemoryTokenStore()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis credential stores")
	return cacheredis.NewSessionStore(client, "identity"), cacheredis.NewTokenStore(client, "identity")
}
