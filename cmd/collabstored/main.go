package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"collabstore/internal/config"
	"collabstore/internal/discovery"
	"collabstore/internal/logging"
	"collabstore/internal/registry"
	"collabstore/internal/relay"
	"collabstore/internal/server"
	"collabstore/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("collabstored failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	open, cleanup, err := buildOpener(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var rly registry.Relay
	if cfg.RedisURL != "" {
		r, err := relay.NewRedis(cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer r.Close()
		rly = r
		logger.Info().Msg("redis relay enabled")
	}

	reg := registry.New(open, rly, logger)
	defer reg.Close()

	if cfg.Discovery {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stop, err := discovery.Announce(ctx, portOf(cfg.Addr), logger)
		if err != nil {
			logger.Warn().Err(err).Msg("mdns discovery unavailable")
		} else {
			defer stop()
		}
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(reg, cfg.AuthToken, logger).Router(),
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("backend", cfg.Store.Backend).Msg("collabstore sync server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func buildOpener(cfg config.Config) (store.Opener, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		open := func(string) (store.TransactionLog, error) { return store.NewMemoryLog(), nil }
		return open, func() {}, nil
	case config.BackendBolt:
		db, err := bolt.Open(cfg.Store.BoltPath, 0o600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("opening bolt database: %w", err)
		}
		open := func(key string) (store.TransactionLog, error) { return store.NewBoltLog(db, key), nil }
		return open, func() { db.Close() }, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(context.Background(), cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := store.EnsureSchema(context.Background(), pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		open := func(key string) (store.TransactionLog, error) { return store.NewPostgresLog(pool, key), nil }
		return open, func() { pool.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
