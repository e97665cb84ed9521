package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"mempoolScope/internal/metrics"
)

const (
	defaultEventBuffer  = 1024
	defaultHashBuffer   = 256
	defaultInboxBuffer  = 16
	defaultConnectLimit = 30 * time.Second
)

var (
	errConnectTimeout     = errors.New("connect attempt timed out")
	errSubscriptionClosed = errors.New("pending transaction subscription closed")
)

// Config controls dialing and reconnection.
type Config struct {
	URL            string
	MaxAttempts    int
	Backoff        Backoff
	ConnectTimeout time.Duration
	EventBuffer    int
}

type messageKind int

const (
	msgConnect messageKind = iota
	msgReconnect
	msgClose
	msgOpened
	msgFailed
	msgConnectTimeout
)

type message struct {
	kind   messageKind
	gen    uint64
	conn   Conn
	sub    ethereum.Subscription
	hashes chan string
	err    error
}

// Manager owns the upstream connection. All connection state is mutated by the
// Run goroutine; Connect and Close only post messages to it.
type Manager struct {
	cfg     Config
	dial    Dialer
	logger  *zap.Logger
	metrics *metrics.Metrics

	inbox  chan message
	events chan Event
	done   chan struct{}

	state    atomic.Int32
	attempts atomic.Int32

	// Owned by Run.
	gen              uint64
	conn             Conn
	sub              ethereum.Subscription
	pumpStop         chan struct{}
	connecting       bool
	dialCancel       context.CancelFunc
	connectTimer     *time.Timer
	reconnectTimer   *time.Timer
	explicitlyClosed bool
}

func NewManager(cfg Config, dial Dialer, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectLimit
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Manager{
		cfg:     cfg,
		dial:    dial,
		logger:  logger,
		metrics: m,
		inbox:   make(chan message, defaultInboxBuffer),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
}

// Events is never closed; select on Done to observe the end of Run.
func (m *Manager) Events() <-chan Event { return m.events }

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) Attempts() int { return int(m.attempts.Load()) }

// Connect requests a fresh connection. It resets the attempt counter and clears
// a previous Close. A request while an attempt is in flight is ignored.
func (m *Manager) Connect() {
	m.post(message{kind: msgConnect})
}

// Close tears down the active connection without reconnecting and emits
// EventClosed. Safe to call with nothing connected.
func (m *Manager) Close() {
	m.post(message{kind: msgClose})
}

func (m *Manager) post(msg message) bool {
	select {
	case m.inbox <- msg:
		return true
	case <-m.done:
		return false
	}
}

// Run processes lifecycle messages until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.inbox:
			m.handle(ctx, msg)
		}
	}
}

func (m *Manager) handle(ctx context.Context, msg message) {
	switch msg.kind {
	case msgConnect:
		m.startAttempt(ctx, true)
	case msgReconnect:
		if msg.gen != m.gen || m.explicitlyClosed || m.State() != StateDisconnected {
			return
		}
		m.reconnectTimer = nil
		m.startAttempt(ctx, false)
	case msgClose:
		m.handleClose(ctx)
	case msgOpened:
		m.handleOpened(ctx, msg)
	case msgFailed:
		if msg.gen != m.gen {
			m.logger.Debug("ignoring stale connection failure", zap.Error(msg.err))
			return
		}
		m.handleFailure(ctx, msg.err)
	case msgConnectTimeout:
		if msg.gen != m.gen || !m.connecting {
			return
		}
		m.handleFailure(ctx, errConnectTimeout)
	}
}

func (m *Manager) startAttempt(ctx context.Context, explicit bool) {
	if m.connecting {
		m.logger.Debug("connect already in progress")
		return
	}
	if explicit {
		m.explicitlyClosed = false
		m.attempts.Store(0)
		stopTimer(&m.reconnectTimer)
	}
	if m.conn != nil {
		m.teardown()
		m.setState(StateDisconnected)
		m.emit(ctx, Event{Type: EventDisconnected, Err: errors.New("connection replaced")})
	}

	m.gen++
	gen := m.gen
	m.connecting = true
	m.setState(StateConnecting)

	dialCtx, cancel := context.WithCancel(ctx)
	m.dialCancel = cancel
	m.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.post(message{kind: msgConnectTimeout, gen: gen})
	})

	m.logger.Info("connecting to upstream",
		zap.String("url", m.cfg.URL),
		zap.Int("attempt", m.Attempts()),
	)
	go m.dialAndSubscribe(dialCtx, gen)
}

func (m *Manager) dialAndSubscribe(ctx context.Context, gen uint64) {
	conn, err := m.dial(ctx, m.cfg.URL)
	if err != nil {
		m.post(message{kind: msgFailed, gen: gen, err: fmt.Errorf("dial upstream: %w", err)})
		return
	}

	hashes := make(chan string, defaultHashBuffer)
	sub, err := conn.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		m.discard(conn, nil)
		m.post(message{kind: msgFailed, gen: gen, err: fmt.Errorf("subscribe pending transactions: %w", err)})
		return
	}

	if !m.post(message{kind: msgOpened, gen: gen, conn: conn, sub: sub, hashes: hashes}) {
		m.discard(conn, sub)
	}
}

func (m *Manager) handleOpened(ctx context.Context, msg message) {
	if msg.gen != m.gen || !m.connecting {
		m.logger.Debug("discarding stale upstream connection")
		m.discard(msg.conn, msg.sub)
		return
	}

	// The dial context only scopes the handshake and subscribe request.
	m.abortAttempt()
	m.conn = msg.conn
	m.sub = msg.sub
	m.attempts.Store(0)
	m.setState(StateConnected)
	m.metrics.SetUpstreamConnected(true)
	m.logger.Info("upstream connected", zap.String("url", m.cfg.URL))

	m.emit(ctx, Event{Type: EventConnected, Conn: msg.conn})

	stop := make(chan struct{})
	m.pumpStop = stop
	go m.pump(msg.gen, msg.sub, msg.hashes, stop)
}

// pump forwards validated hashes straight to the events channel. Subscription
// errors go back through the inbox so Run applies the reconnection policy.
func (m *Manager) pump(gen uint64, sub ethereum.Subscription, hashes <-chan string, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			m.post(message{kind: msgFailed, gen: gen, err: err})
			return
		case raw := <-hashes:
			hash, ok := parseHash(raw)
			if !ok {
				m.metrics.HashDropped("invalid")
				m.logger.Debug("dropping malformed pending hash", zap.String("raw", raw))
				continue
			}
			m.metrics.HashReceived()
			select {
			case m.events <- Event{Type: EventTxHash, Hash: hash}:
			case <-stop:
				return
			}
		}
	}
}

func (m *Manager) handleFailure(ctx context.Context, cause error) {
	wasOpen := m.conn != nil
	m.abortAttempt()
	m.teardown()
	m.gen++
	m.setState(StateDisconnected)
	m.metrics.SetUpstreamConnected(false)

	if wasOpen {
		m.logger.Warn("upstream disconnected", zap.Error(cause))
		m.emit(ctx, Event{Type: EventDisconnected, Err: cause})
	} else {
		m.logger.Warn("upstream connect attempt failed", zap.Error(cause))
	}

	if m.explicitlyClosed {
		return
	}
	m.scheduleReconnect(ctx, cause)
}

func (m *Manager) scheduleReconnect(ctx context.Context, cause error) {
	attempts := int(m.attempts.Load())
	if attempts >= m.cfg.MaxAttempts {
		m.setState(StateGivingUp)
		err := fmt.Errorf("giving up after %d reconnect attempts: %w", attempts, cause)
		m.logger.Error("upstream reconnection exhausted", zap.Error(err))
		m.emit(ctx, Event{Type: EventReconnectFailed, Err: err})
		return
	}

	attempts++
	m.attempts.Store(int32(attempts))
	m.metrics.ReconnectAttempt()
	delay := m.cfg.Backoff.Delay(attempts)
	m.logger.Info("reconnect scheduled",
		zap.Int("attempt", attempts),
		zap.Int("maxAttempts", m.cfg.MaxAttempts),
		zap.Duration("delay", delay),
	)

	gen := m.gen
	stopTimer(&m.reconnectTimer)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.post(message{kind: msgReconnect, gen: gen})
	})
}

func (m *Manager) handleClose(ctx context.Context) {
	m.explicitlyClosed = true
	if m.conn == nil && !m.connecting && m.reconnectTimer == nil {
		m.logger.Info("close requested with no active connection")
		return
	}

	stopTimer(&m.reconnectTimer)
	m.abortAttempt()
	m.teardown()
	m.gen++
	m.setState(StateDisconnected)
	m.metrics.SetUpstreamConnected(false)
	m.logger.Info("upstream connection closed")
	m.emit(ctx, Event{Type: EventClosed})
}

func (m *Manager) abortAttempt() {
	stopTimer(&m.connectTimer)
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.connecting = false
}

// teardown is best-effort: failures are logged and never block the next attempt.
func (m *Manager) teardown() {
	if m.pumpStop != nil {
		close(m.pumpStop)
		m.pumpStop = nil
	}
	conn, sub := m.conn, m.sub
	m.conn, m.sub = nil, nil
	m.discard(conn, sub)
}

func (m *Manager) discard(conn Conn, sub ethereum.Subscription) {
	if sub != nil {
		m.bestEffort("unsubscribe", func() error {
			sub.Unsubscribe()
			return nil
		})
	}
	if conn != nil {
		m.bestEffort("close connection", conn.Close)
	}
}

func (m *Manager) bestEffort(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("teardown panicked", zap.String("op", op), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warn("teardown failed", zap.String("op", op), zap.Error(err))
	}
}

func (m *Manager) release() {
	stopTimer(&m.reconnectTimer)
	m.abortAttempt()
	m.teardown()
	m.setState(StateDisconnected)
	m.metrics.SetUpstreamConnected(false)
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// parseHash accepts a 0x-prefixed 32-byte hex hash.
func parseHash(raw string) (common.Hash, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Hash{}, false
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}
