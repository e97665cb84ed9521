package storage

import (
	"context"

	"mempoolScope/internal/model"
)

// Storage archives broadcast envelopes.
type Storage interface {
	PutEnvelopeBatch(ctx context.Context, envelopes []model.Envelope) error
	Close() error
}
