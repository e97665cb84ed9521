package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mempoolScope/internal/model"
)

const DefaultMaxLen = 100000

type Options struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen trims the stream approximately; zero uses DefaultMaxLen.
	MaxLen int64
}

// Stream appends envelopes to a Redis stream with XADD.
type Stream struct {
	client *redis.Client
	key    string
	maxLen int64
}

func New(ctx context.Context, opts Options) (*Stream, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if opts.Stream == "" {
		return nil, fmt.Errorf("redis stream name is required")
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 1,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Stream{client: client, key: opts.Stream, maxLen: opts.MaxLen}, nil
}

// PutEnvelopeBatch pipelines one XADD per envelope.
func (s *Stream) PutEnvelopeBatch(ctx context.Context, envelopes []model.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, env := range envelopes {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal %s envelope: %w", env.Kind, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.key,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"kind":     string(env.Kind),
				"hash":     env.TxHash(),
				"envelope": data,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: xadd: %w", err)
	}
	return nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}
