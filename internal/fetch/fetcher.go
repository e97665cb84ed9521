package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mempoolScope/internal/metrics"
	"mempoolScope/internal/model"
)

const DefaultTimeout = 10 * time.Second

// Fetch outcomes reported to metrics.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeNoConn   = "no_conn"
)

// Resolver looks up a transaction by hash.
type Resolver interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*model.TransactionRecord, error)
}

// Fetcher resolves pending hashes against the current upstream connection.
// Lookups never return an error: every failure is logged and yields nil.
type Fetcher struct {
	mu       sync.RWMutex
	resolver Resolver

	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewFetcher(timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{timeout: timeout, metrics: m, logger: logger}
}

// UpdateConnection swaps the resolver; nil detaches. Lookups already running
// keep the resolver they started with.
func (f *Fetcher) UpdateConnection(r Resolver) {
	f.mu.Lock()
	f.resolver = r
	f.mu.Unlock()
}

func (f *Fetcher) current() Resolver {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.resolver
}

type result struct {
	record *model.TransactionRecord
	err    error
}

// Fetch returns the transaction for hash, or nil on timeout, miss, error or
// when no connection is bound.
func (f *Fetcher) Fetch(ctx context.Context, hash common.Hash) *model.TransactionRecord {
	resolver := f.current()
	if resolver == nil {
		f.metrics.FetchOutcome(OutcomeNoConn)
		f.logger.Debug("no upstream connection for lookup", zap.String("hash", hash.Hex()))
		return nil
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		record, err := resolver.TransactionByHash(reqCtx, hash)
		done <- result{record: record, err: err}
	}()

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return f.settle(hash, res)
	case <-timer.C:
		f.metrics.FetchOutcome(OutcomeTimeout)
		f.logger.Warn("transaction lookup timed out",
			zap.String("hash", hash.Hex()),
			zap.Duration("timeout", f.timeout),
		)
		return nil
	case <-ctx.Done():
		f.logger.Debug("transaction lookup cancelled", zap.String("hash", hash.Hex()))
		return nil
	}
}

func (f *Fetcher) settle(hash common.Hash, res result) *model.TransactionRecord {
	switch {
	case res.err == nil && res.record != nil:
		f.metrics.FetchOutcome(OutcomeOK)
		return res.record
	case res.err == nil || errors.Is(res.err, ethereum.NotFound):
		f.metrics.FetchOutcome(OutcomeNotFound)
		f.logger.Debug("transaction not found", zap.String("hash", hash.Hex()))
		return nil
	default:
		f.metrics.FetchOutcome(OutcomeError)
		f.logger.Error("transaction lookup failed", zap.String("hash", hash.Hex()), zap.Error(res.err))
		return nil
	}
}
