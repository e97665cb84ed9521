package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mempoolScope/internal/storage/postgres"
	"mempoolScope/internal/storage/redisstream"
)

// Sink kinds accepted by Open.
const (
	KindNone     = "none"
	KindJSONL    = "jsonl"
	KindPostgres = "postgres"
	KindRedis    = "redis"
)

// OpenConfig selects and configures an archive backend.
type OpenConfig struct {
	Kind          string
	Path          string
	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisStream   string

	// Network backends are dialed up to 1+MaxRetries times.
	MaxRetries   int
	RetryBackoff time.Duration
}

// Open builds the configured backend. It returns nil, nil for KindNone.
func Open(ctx context.Context, cfg OpenConfig, logger *zap.Logger) (Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindJSONL:
		if cfg.Path == "" {
			return nil, fmt.Errorf("jsonl sink path is required")
		}
		logger.Info("archive sink opened", zap.String("sink", cfg.Kind), zap.String("path", cfg.Path))
		return NewJsonlStorage(cfg.Path), nil
	case KindPostgres:
		var store *postgres.Store
		err := dialWithRetry(ctx, cfg.MaxRetries, cfg.RetryBackoff, logger, func(ctx context.Context) error {
			s, err := postgres.NewStore(ctx, cfg.PGDSN)
			if err != nil {
				return err
			}
			store = s
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("archive sink opened", zap.String("sink", cfg.Kind))
		return store, nil
	case KindRedis:
		var stream *redisstream.Stream
		err := dialWithRetry(ctx, cfg.MaxRetries, cfg.RetryBackoff, logger, func(ctx context.Context) error {
			s, err := redisstream.New(ctx, redisstream.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				Stream:   cfg.RedisStream,
			})
			if err != nil {
				return err
			}
			stream = s
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("open redis sink: %w", err)
		}
		logger.Info("archive sink opened", zap.String("sink", cfg.Kind), zap.String("stream", cfg.RedisStream))
		return stream, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Kind)
	}
}
