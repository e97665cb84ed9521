package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mempoolScope/internal/chain"
	"mempoolScope/internal/config"
	"mempoolScope/internal/dex"
	"mempoolScope/internal/fetch"
	"mempoolScope/internal/filter"
	"mempoolScope/internal/metrics"
	"mempoolScope/internal/publisher"
	"mempoolScope/internal/relay"
	"mempoolScope/internal/storage"
	"mempoolScope/internal/stream"
)

const (
	sinkOpenRetries = 3
	sinkOpenBackoff = 500 * time.Millisecond
)

func runRelay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	registry, err := buildRegistry(cfg.Interfaces)
	if err != nil {
		return err
	}

	monitored := cfg.Addresses
	if len(monitored) == 0 {
		monitored = registry.Addresses()
	}
	addresses, err := relay.ParseAddresses(monitored)
	if err != nil {
		return err
	}
	for _, addr := range addresses {
		if _, ok := registry.LookupAddress(addr); !ok {
			logger.Warn("monitored address has no registered interface; calls will be broadcast raw",
				zap.String("address", addr.Hex()))
		}
	}

	monitoredSet := filter.NewAddressFilter(addresses, logger)
	for _, registered := range registry.Addresses() {
		if !monitoredSet.Contains(registered) {
			logger.Info("registered interface is not monitored", zap.String("address", registered))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := storage.Open(ctx, storage.OpenConfig{
		Kind:          cfg.Sink,
		Path:          cfg.SinkPath,
		PGDSN:         cfg.PGDSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisStream:   cfg.RedisStream,
		MaxRetries:    sinkOpenRetries,
		RetryBackoff:  sinkOpenBackoff,
	}, logger)
	if err != nil {
		return err
	}
	var archive relay.Archive
	if store != nil {
		writer := storage.NewBatchWriter(store, storage.BatchConfig{
			Size:          cfg.SinkBatchSize,
			FlushInterval: cfg.SinkFlushInterval,
		}, m, logger)
		writer.Start()
		archive = writer
	}

	manager := stream.NewManager(stream.Config{
		URL:         cfg.UpstreamURL,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Backoff: stream.Backoff{
			Interval: cfg.ReconnectInterval,
			Factor:   cfg.BackoffFactor,
			Max:      cfg.MaxReconnectDelay,
		},
		ConnectTimeout: cfg.ConnectTimeout,
	}, dialUpstream, m, logger)

	var tokenMeta *dex.TokenMetaResolver
	if cfg.TokenMeta {
		tokenMeta = dex.NewTokenMetaResolver(nil, cfg.TokenMetaTimeout, logger)
	}

	runner := relay.NewRunner(relay.RunConfig{
		MaxInflight:   cfg.MaxInflight,
		ShutdownGrace: cfg.ShutdownGrace,
	}, relay.Deps{
		Manager:   manager,
		Publisher: publisher.New(publisher.Config{Host: cfg.PublisherHost, Port: cfg.PublisherPort}, m, logger),
		Fetcher:   fetch.NewFetcher(cfg.FetchTimeout, m, logger),
		Filter:    monitoredSet,
		Decoder:   dex.NewCallDecoder(registry, logger),
		TokenMeta: tokenMeta,
		Archive:   archive,
		Metrics:   m,
	}, logger)

	logger.Info("relay start",
		zap.String("upstream", cfg.UpstreamURL),
		zap.Int("addresses", len(addresses)),
		zap.String("publisher", cfg.PublisherHost),
		zap.Int("publisher_port", cfg.PublisherPort),
		zap.Int("max_reconnect_attempts", cfg.MaxReconnectAttempts),
		zap.Duration("fetch_timeout", cfg.FetchTimeout),
		zap.String("sink", cfg.Sink),
		zap.Bool("token_meta", cfg.TokenMeta),
	)

	if err := runner.Run(ctx); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		return err
	}
	return nil
}

func buildRegistry(interfacesPath string) (*dex.Registry, error) {
	registry, err := dex.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	if interfacesPath != "" {
		if err := registry.LoadFile(interfacesPath); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func dialUpstream(ctx context.Context, url string) (stream.Conn, error) {
	client, err := chain.NewClient(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}
