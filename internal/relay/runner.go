package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mempoolScope/internal/dex"
	"mempoolScope/internal/fetch"
	"mempoolScope/internal/filter"
	"mempoolScope/internal/metrics"
	"mempoolScope/internal/model"
	"mempoolScope/internal/stream"
)

// ErrReconnectExhausted is returned by Run when the upstream could not be
// re-established within the configured attempts.
var ErrReconnectExhausted = errors.New("upstream reconnect attempts exhausted")

const (
	DefaultMaxInflight   = 256
	DefaultShutdownGrace = 5 * time.Second
)

// State is the runner lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConnectionManager is the part of stream.Manager the runner drives.
type ConnectionManager interface {
	Run(ctx context.Context) error
	Connect()
	Close()
	Events() <-chan stream.Event
}

// Broadcaster fans envelopes out to subscribers.
type Broadcaster interface {
	Start(ctx context.Context) error
	Publish(env model.Envelope)
	Stop(ctx context.Context) error
}

// Archive receives a copy of every broadcast envelope.
type Archive interface {
	Enqueue(env model.Envelope) bool
	Close(ctx context.Context) error
}

// RunConfig holds runtime settings for the relay.
type RunConfig struct {
	MaxInflight   int
	ShutdownGrace time.Duration
}

// Deps are the components the runner wires together. TokenMeta and Archive
// are optional.
type Deps struct {
	Manager   ConnectionManager
	Publisher Broadcaster
	Fetcher   *fetch.Fetcher
	Filter    *filter.AddressFilter
	Decoder   *dex.CallDecoder
	TokenMeta *dex.TokenMetaResolver
	Archive   Archive
	Metrics   *metrics.Metrics
}

// Runner consumes connection events and runs fetch, filter, decode and
// publish for every pending hash.
type Runner struct {
	cfg       RunConfig
	manager   ConnectionManager
	publisher Broadcaster
	fetcher   *fetch.Fetcher
	filter    *filter.AddressFilter
	decoder   *dex.CallDecoder
	tokenMeta *dex.TokenMetaResolver
	archive   Archive
	metrics   *metrics.Metrics
	logger    *zap.Logger

	sem      *semaphore.Weighted
	inflight sync.WaitGroup
	state    atomic.Int32

	callerMu sync.RWMutex
	caller   dex.ContractCaller

	now func() time.Time
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, deps Deps, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Runner{
		cfg:       cfg,
		manager:   deps.Manager,
		publisher: deps.Publisher,
		fetcher:   deps.Fetcher,
		filter:    deps.Filter,
		decoder:   deps.Decoder,
		tokenMeta: deps.TokenMeta,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.MaxInflight)),
		now:       time.Now,
	}
}

// State reports the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.logger.Debug("relay state", zap.Stringer("state", s))
}

// Run starts the publisher and the connection manager and processes events
// until ctx is cancelled or reconnection is exhausted. A clean shutdown
// returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if r.manager == nil {
		return fmt.Errorf("connection manager is nil")
	}
	if r.publisher == nil {
		return fmt.Errorf("publisher is nil")
	}
	if r.fetcher == nil || r.filter == nil || r.decoder == nil {
		return fmt.Errorf("pipeline components are incomplete")
	}

	r.setState(StateStarting)
	if err := r.publisher.Start(ctx); err != nil {
		r.setState(StateStopped)
		return fmt.Errorf("start publisher: %w", err)
	}

	managerCtx, cancelManager := context.WithCancel(context.Background())
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := r.manager.Run(managerCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("connection manager stopped", zap.Error(err))
		}
	}()
	r.manager.Connect()

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	r.setState(StateRunning)
	r.logger.Info("relay running",
		zap.Int("monitored", r.filter.Len()),
		zap.Int("max_inflight", r.cfg.MaxInflight),
	)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutdown requested")
			break loop
		case ev := <-r.manager.Events():
			if err := r.handleEvent(workCtx, ev); err != nil {
				runErr = err
				break loop
			}
		}
	}

	r.shutdown(cancelManager, managerDone, cancelWork)
	return runErr
}

func (r *Runner) handleEvent(ctx context.Context, ev stream.Event) error {
	switch ev.Type {
	case stream.EventConnected:
		r.fetcher.UpdateConnection(ev.Conn)
		r.setCaller(ev.Conn)
		r.logger.Info("upstream connected")
		r.emit(model.StatusPayload{Status: model.StatusConnected})
	case stream.EventDisconnected:
		r.fetcher.UpdateConnection(nil)
		r.setCaller(nil)
		status := model.StatusPayload{Status: model.StatusDisconnected}
		if ev.Err != nil {
			status.Message = ev.Err.Error()
		}
		r.logger.Warn("upstream disconnected", zap.Error(ev.Err))
		r.emit(status)
	case stream.EventClosed:
		r.fetcher.UpdateConnection(nil)
		r.setCaller(nil)
	case stream.EventTxHash:
		r.dispatch(ctx, ev.Hash)
	case stream.EventReconnectFailed:
		r.logger.Error("giving up on upstream", zap.Error(ev.Err))
		if ev.Err != nil {
			return fmt.Errorf("%w: %w", ErrReconnectExhausted, ev.Err)
		}
		return ErrReconnectExhausted
	}
	return nil
}

func (r *Runner) setCaller(conn stream.Conn) {
	var caller dex.ContractCaller
	if c, ok := conn.(dex.ContractCaller); ok {
		caller = c
	}
	r.callerMu.Lock()
	r.caller = caller
	r.callerMu.Unlock()
}

func (r *Runner) currentCaller() dex.ContractCaller {
	r.callerMu.RLock()
	defer r.callerMu.RUnlock()
	return r.caller
}

// dispatch runs one invocation per hash. Hashes beyond MaxInflight are dropped.
func (r *Runner) dispatch(ctx context.Context, hash common.Hash) {
	if !r.sem.TryAcquire(1) {
		r.metrics.HashDropped("overload")
		r.logger.Debug("in-flight limit reached, dropping hash", zap.String("hash", hash.Hex()))
		return
	}
	r.inflight.Add(1)
	r.metrics.InflightInc()
	go func() {
		defer r.inflight.Done()
		defer r.sem.Release(1)
		defer r.metrics.InflightDec()
		r.process(ctx, hash)
	}()
}

func (r *Runner) process(ctx context.Context, hash common.Hash) {
	record := r.fetcher.Fetch(ctx, hash)
	if record == nil {
		return
	}
	if !r.filter.IsMonitored(record) {
		return
	}
	r.metrics.TransactionMonitored()

	decoded, err := r.decode(record)
	if err != nil {
		r.logger.Error("decoder fault",
			zap.String("hash", hash.Hex()),
			zap.String("address", record.To.Hex()),
			zap.Error(err),
		)
		r.emit(model.ErrorPayload{Hash: hash.Hex(), Address: record.To.Hex(), Error: err.Error()})
		r.emit(model.RawTransactionPayload{Transaction: record})
		return
	}
	if decoded == nil {
		r.emit(model.RawTransactionPayload{Transaction: record})
		return
	}

	r.metrics.CallDecoded(decoded.FunctionName)
	if r.tokenMeta != nil {
		r.tokenMeta.Annotate(ctx, r.currentCaller(), decoded)
	}
	r.emit(model.DecodedTransactionPayload{Transaction: record, Decoded: decoded})
}

// decode turns a decoder panic into an error so one bad transaction cannot
// take the process down.
func (r *Runner) decode(record *model.TransactionRecord) (call *model.DecodedCall, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			call = nil
			err = fmt.Errorf("decode panic: %v", rec)
		}
	}()
	return r.decoder.Decode(record), nil
}

func (r *Runner) emit(p model.Payload) {
	env := model.NewEnvelope(p, r.now())
	r.publisher.Publish(env)
	if r.archive != nil {
		r.archive.Enqueue(env)
	}
}

// shutdown stops taking hashes, then drains in-flight work while the
// upstream connection is still bound. Only after the drain is the upstream
// closed and the publisher and archive stopped.
func (r *Runner) shutdown(cancelManager context.CancelFunc, managerDone <-chan struct{}, cancelWork context.CancelFunc) {
	r.setState(StateShuttingDown)
	r.emit(model.StatusPayload{Status: model.StatusShuttingDown})

	r.drain(cancelWork)

	closed := make(chan struct{})
	go func() {
		r.manager.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		r.logger.Warn("connection manager did not acknowledge close")
	}
	cancelManager()
	<-managerDone
	r.fetcher.UpdateConnection(nil)
	r.setCaller(nil)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout(r.cfg.ShutdownGrace))
	defer cancel()
	if err := r.publisher.Stop(stopCtx); err != nil {
		r.logger.Warn("publisher stop", zap.Error(err))
	}
	if r.archive != nil {
		if err := r.archive.Close(stopCtx); err != nil {
			r.logger.Warn("archive close", zap.Error(err))
		}
	}

	r.setState(StateStopped)
	r.logger.Info("relay stopped")
}

// drain waits for dispatched invocations up to ShutdownGrace and cancels the
// rest. The event loop has already exited, so nothing new is dispatched.
func (r *Runner) drain(cancelWork context.CancelFunc) {
	defer cancelWork()

	drained := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(drained)
	}()
	grace := time.NewTimer(r.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-drained:
	case <-grace.C:
		r.logger.Warn("abandoning in-flight invocations", zap.Duration("grace", r.cfg.ShutdownGrace))
		cancelWork()
		<-drained
	}
}

func stopTimeout(grace time.Duration) time.Duration {
	if grace < time.Second {
		return time.Second
	}
	return grace
}
