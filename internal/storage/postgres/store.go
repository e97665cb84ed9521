package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mempoolScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_envelopes (
	id          BIGSERIAL PRIMARY KEY,
	kind        TEXT        NOT NULL,
	tx_hash     TEXT,
	payload     JSONB       NOT NULL,
	emitted_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS relay_envelopes_tx_hash_idx ON relay_envelopes (tx_hash);
`

// Store archives envelopes in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the archive table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// PutEnvelopeBatch inserts envelopes in a single round trip.
func (s *Store) PutEnvelopeBatch(ctx context.Context, envelopes []model.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, env := range envelopes {
		payload, err := json.Marshal(env.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", env.Kind, err)
		}
		var txHash *string
		if hash := env.TxHash(); hash != "" {
			txHash = &hash
		}
		batch.Queue(`
			INSERT INTO relay_envelopes (kind, tx_hash, payload, emitted_at)
			VALUES ($1, $2, $3, $4)
		`,
			string(env.Kind),
			txHash,
			payload,
			time.UnixMilli(env.EmittedAtMillis).UTC(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range envelopes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert envelope: %w", err)
		}
	}
	return nil
}
