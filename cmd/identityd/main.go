package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rankforge/go-identity-server/cache/redis"
	"github.com/rankforge/go-identity-server/gateway"
	"github.com/rankforge/go-identity-server/internal/config"
	"github.com/rankforge/go-identity-server/server"
	"github.com/rankforge/go-identity-server/session"
	"github.com/rankforge/go-identity-server/token"
	"github.com/rankforge/go-identity-server/users/postgres"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logger := newLogger(c)
	displayAppname(c.GetAppName())

	ctx := context.Background()

	cacheAdapter, err := redis.NewAdapter(ctx, redis.Config{
		Addr:        c.GetCacheAddr(),
		Password:    c.GetCachePassword(),
		DB:          c.GetCacheDB(),
		DialTimeout: c.GetCacheDialTimeout(),
		OpTimeout:   c.GetCacheOpTimeout(),
	})
	if err != nil {
		return fmt.Errorf("redis.NewAdapter: %w", err)
	}
	defer cacheAdapter.Close()

	pool, err := pgxpool.New(ctx, c.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("pgxpool.New: %w", err)
	}
	defer pool.Close()
	directory := postgres.NewDirectory(pool)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := gateway.NewMetrics(registry)

	keys, err := token.NewKeychain(c.GetAccessTokenSecret(), c.GetRefreshTokenSecret())
	if err != nil {
		return fmt.Errorf("token.NewKeychain: %w", err)
	}
	manager := token.New(keys, cacheAdapter,
		token.WithIssuer(c.GetTokenIssuer()),
		token.WithAudience(c.GetTokenAudience()),
		token.WithLifetime(token.KindAccess, c.GetAccessTokenExpiry()),
		token.WithLifetime(token.KindRefresh, c.GetRefreshTokenExpiry()),
		token.WithLifetime(token.KindEmailVerification, c.GetEmailVerificationExpiry()),
		token.WithLifetime(token.KindPasswordReset, c.GetPasswordResetExpiry()),
		token.WithLifetime(token.KindAPIKey, c.GetAPIKeyExpiry()),
		token.WithStrictFingerprint(c.GetStrictFingerprint()),
		token.WithLogger(logger),
	)

	store, err := session.NewStore(ctx, cacheAdapter,
		session.WithTTL(c.GetSessionExpiry()),
		session.WithMaxSessions(c.GetMaxSessionsPerUser()),
		session.WithStrictFingerprint(c.GetStrictFingerprint()),
		session.WithEvictionCounter(metrics.SessionEvictions()),
		session.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("session.NewStore: %w", err)
	}

	gw := gateway.New(manager, store, directory,
		gateway.WithMetrics(metrics),
		gateway.WithLogger(logger),
	)

	handler := server.New(c, gw, registry,
		server.WithLogger(logger),
		server.WithHealthCheck(func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), c.GetCacheOpTimeout())
			defer cancel()
			return cacheAdapter.Ping(pingCtx)
		}),
	)

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer, logger)
	waitForStopSignal()
	return shutdown(httpServer)
}

func newLogger(c config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if c.GetEnv() == "DEV" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel)
	}
	return logger
}

func listenAndServe(httpServer *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
