package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mempoolScope/internal/model"
)

var testHash = common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060")

type resolverFunc func(ctx context.Context, hash common.Hash) (*model.TransactionRecord, error)

func (f resolverFunc) TransactionByHash(ctx context.Context, hash common.Hash) (*model.TransactionRecord, error) {
	return f(ctx, hash)
}

func observedFetcher(timeout time.Duration) (*Fetcher, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewFetcher(timeout, nil, zap.New(core)), logs
}

func TestFetchReturnsRecord(t *testing.T) {
	f, _ := observedFetcher(time.Second)
	f.UpdateConnection(resolverFunc(func(_ context.Context, hash common.Hash) (*model.TransactionRecord, error) {
		return &model.TransactionRecord{Hash: hash}, nil
	}))

	record := f.Fetch(context.Background(), testHash)
	if record == nil || record.Hash != testHash {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestFetchTimeoutLogsWarning(t *testing.T) {
	f, logs := observedFetcher(20 * time.Millisecond)
	f.UpdateConnection(resolverFunc(func(ctx context.Context, _ common.Hash) (*model.TransactionRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	start := time.Now()
	if record := f.Fetch(context.Background(), testHash); record != nil {
		t.Fatalf("expected nil on timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fetch should give up near the timeout, took %s", elapsed)
	}

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("transaction lookup timed out")
	if warnings.Len() != 1 {
		t.Fatalf("expected one timeout warning, got %d", warnings.Len())
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 0 {
		t.Fatalf("timeout must not log at error level")
	}
}

func TestFetchNotFoundAndErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{"not found", ethereum.NotFound, zapcore.DebugLevel},
		{"transport error", errors.New("websocket: close 1006"), zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		f, logs := observedFetcher(time.Second)
		f.UpdateConnection(resolverFunc(func(context.Context, common.Hash) (*model.TransactionRecord, error) {
			return nil, tc.err
		}))

		if record := f.Fetch(context.Background(), testHash); record != nil {
			t.Fatalf("%s: expected nil record", tc.name)
		}
		if logs.FilterLevelExact(tc.level).Len() != 1 {
			t.Fatalf("%s: expected one %s log, got %v", tc.name, tc.level, logs.All())
		}
	}
}

func TestFetchWithoutConnection(t *testing.T) {
	f, logs := observedFetcher(time.Second)
	if record := f.Fetch(context.Background(), testHash); record != nil {
		t.Fatalf("expected nil without connection")
	}
	if logs.FilterLevelExact(zapcore.DebugLevel).Len() != 1 {
		t.Fatalf("expected a debug log, got %v", logs.All())
	}

	f.UpdateConnection(resolverFunc(func(_ context.Context, hash common.Hash) (*model.TransactionRecord, error) {
		return &model.TransactionRecord{Hash: hash}, nil
	}))
	if f.Fetch(context.Background(), testHash) == nil {
		t.Fatalf("expected record after binding a connection")
	}

	f.UpdateConnection(nil)
	if f.Fetch(context.Background(), testHash) != nil {
		t.Fatalf("expected nil after detaching")
	}
}

func TestInFlightFetchKeepsItsResolver(t *testing.T) {
	f, _ := observedFetcher(time.Second)
	started := make(chan struct{})
	release := make(chan struct{})
	f.UpdateConnection(resolverFunc(func(_ context.Context, hash common.Hash) (*model.TransactionRecord, error) {
		close(started)
		<-release
		return &model.TransactionRecord{Hash: hash}, nil
	}))

	got := make(chan *model.TransactionRecord, 1)
	go func() { got <- f.Fetch(context.Background(), testHash) }()

	<-started
	f.UpdateConnection(nil)
	close(release)

	select {
	case record := <-got:
		if record == nil {
			t.Fatalf("in-flight lookup should complete on its original connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch did not return")
	}
}
