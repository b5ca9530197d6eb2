// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// trackerd is the fleet tracking daemon. It keeps one live connection to the
// tracking server, reconciles stream pushes with periodic REST snapshots,
// and exposes the result to consumers in-process and over /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/iammayankpratapsingh/gps-sub001/internal/bus"
	"github.com/iammayankpratapsingh/gps-sub001/internal/cache"
	"github.com/iammayankpratapsingh/gps-sub001/internal/config"
	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
	"github.com/iammayankpratapsingh/gps-sub001/internal/metrics"
	"github.com/iammayankpratapsingh/gps-sub001/internal/rest"
	"github.com/iammayankpratapsingh/gps-sub001/internal/stream"
	"github.com/iammayankpratapsingh/gps-sub001/internal/supervisor"
	"github.com/iammayankpratapsingh/gps-sub001/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to config file (overrides search paths)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("server_url", cfg.Server.URL).
		Str("cache_path", cfg.Cache.Path).
		Bool("poll_enabled", cfg.Poll.Enabled).
		Msg("configuration loaded")

	opts := badger.DefaultOptions(cfg.Cache.Path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open snapshot store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing snapshot store")
		}
	}()

	b := bus.New()
	store := cache.NewStore(db, cfg.Cache.TTL)
	api := rest.NewBreakerClient(cfg.Server.URL, cfg.Server.Token)
	trk := tracker.New(api, store, b, cfg.Cache.TTL)
	defer trk.Close()

	client := stream.New(stream.Config{
		URL:                  cfg.Server.URL,
		Token:                cfg.Server.Token,
		HandshakeTimeout:     cfg.Stream.HandshakeTimeout,
		PingInterval:         cfg.Stream.PingInterval,
		ReconnectBase:        cfg.Stream.ReconnectBase,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, b)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStreamService(client)
	if cfg.Poll.Enabled {
		tree.AddBaselineService(tracker.NewPoller(trk, cfg.Poll.Interval))
	}
	if cfg.Metrics.Enabled {
		tree.AddBaselineService(metrics.NewServer(cfg.Metrics.Addr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree exited with error")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
