package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mempoolScope/internal/metrics"
	"mempoolScope/internal/model"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	flushTimeout         = 10 * time.Second
)

type BatchConfig struct {
	Size          int
	FlushInterval time.Duration
	QueueSize     int
}

// BatchWriter buffers envelopes in front of a Storage. Enqueue never blocks;
// envelopes that do not fit the queue are dropped and counted.
type BatchWriter struct {
	store    Storage
	size     int
	interval time.Duration
	queue    chan model.Envelope

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewBatchWriter(store Storage, cfg BatchConfig, m *metrics.Metrics, logger *zap.Logger) *BatchWriter {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Size * 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		store:    store,
		size:     cfg.Size,
		interval: cfg.FlushInterval,
		queue:    make(chan model.Envelope, cfg.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		metrics:  m,
		logger:   logger,
	}
}

func (w *BatchWriter) Start() {
	go w.loop()
}

// Enqueue reports whether the envelope was accepted.
func (w *BatchWriter) Enqueue(env model.Envelope) bool {
	select {
	case <-w.stop:
		return false
	default:
	}
	select {
	case w.queue <- env:
		return true
	default:
		w.metrics.SinkDropped()
		w.logger.Debug("archive queue full, dropping envelope", zap.String("kind", string(env.Kind)))
		return false
	}
}

// Close flushes what is queued, then closes the underlying storage.
func (w *BatchWriter) Close(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("archive flush abandoned", zap.Error(ctx.Err()))
	}
	return w.store.Close()
}

func (w *BatchWriter) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]model.Envelope, 0, w.size)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		err := w.store.PutEnvelopeBatch(ctx, batch)
		cancel()
		if err != nil {
			for range batch {
				w.metrics.SinkDropped()
			}
			w.logger.Error("archive batch write failed", zap.Int("envelopes", len(batch)), zap.Error(err))
		}
		batch = make([]model.Envelope, 0, w.size)
	}

	for {
		select {
		case env := <-w.queue:
			batch = append(batch, env)
			if len(batch) >= w.size {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop:
			for {
				select {
				case env := <-w.queue:
					batch = append(batch, env)
					if len(batch) >= w.size {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
