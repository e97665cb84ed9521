package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"mempoolScope/internal/model"
)

const testHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{errc: make(chan error, 1)}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.errc) })
}

func (s *fakeSub) Err() <-chan error { return s.errc }

type fakeConn struct {
	mu           sync.Mutex
	hashes       chan<- string
	sub          *fakeSub
	closed       atomic.Bool
	panicOnClose bool
}

func (c *fakeConn) SubscribePendingTransactions(_ context.Context, ch chan<- string) (ethereum.Subscription, error) {
	c.mu.Lock()
	c.hashes = ch
	c.mu.Unlock()
	return c.sub, nil
}

func (c *fakeConn) TransactionByHash(context.Context, common.Hash) (*model.TransactionRecord, error) {
	return nil, ethereum.NotFound
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	if c.panicOnClose {
		panic("close exploded")
	}
	return nil
}

func (c *fakeConn) send(raw string) {
	c.mu.Lock()
	ch := c.hashes
	c.mu.Unlock()
	ch <- raw
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
	fail  func(n int) error
	hang  bool
	// panicOnClose applies to every connection handed out.
	panicOnClose bool
}

func (d *fakeDialer) dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()

	if d.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.fail != nil {
		if err := d.fail(n); err != nil {
			return nil, err
		}
	}
	conn := &fakeConn{sub: newFakeSub(), panicOnClose: d.panicOnClose}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastConfig(maxAttempts int) Config {
	return Config{
		URL:            "ws://upstream.test",
		MaxAttempts:    maxAttempts,
		Backoff:        Backoff{Interval: time.Millisecond, Factor: 2, Max: 10 * time.Millisecond},
		ConnectTimeout: time.Second,
	}
}

func startManager(t *testing.T, cfg Config, d *fakeDialer) *Manager {
	t.Helper()
	m := NewManager(cfg, d.dial, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return m
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func expectEvent(t *testing.T, m *Manager, want EventType) Event {
	t.Helper()
	ev := nextEvent(t, m)
	if ev.Type != want {
		t.Fatalf("event mismatch: got %s want %s (err=%v)", ev.Type, want, ev.Err)
	}
	return ev
}

func expectNoEvent(t *testing.T, m *Manager, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %s (err=%v)", ev.Type, ev.Err)
	case <-time.After(wait):
	}
}

func TestManagerForwardsValidHashesOnly(t *testing.T) {
	d := &fakeDialer{}
	m := startManager(t, fastConfig(3), d)
	m.Connect()

	ev := expectEvent(t, m, EventConnected)
	conn := ev.Conn.(*fakeConn)
	if m.State() != StateConnected {
		t.Fatalf("state mismatch: %s", m.State())
	}

	conn.send("")
	conn.send("not-a-hash")
	conn.send("0x1234")
	conn.send(testHash)

	ev = expectEvent(t, m, EventTxHash)
	if ev.Hash != common.HexToHash(testHash) {
		t.Fatalf("hash mismatch: %s", ev.Hash.Hex())
	}
	expectNoEvent(t, m, 30*time.Millisecond)
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	m := startManager(t, fastConfig(3), d)
	m.Connect()

	first := expectEvent(t, m, EventConnected).Conn.(*fakeConn)
	first.sub.errc <- errors.New("read: connection reset by peer")

	ev := expectEvent(t, m, EventDisconnected)
	if ev.Err == nil {
		t.Fatalf("disconnect should carry the cause")
	}
	second := expectEvent(t, m, EventConnected).Conn.(*fakeConn)
	if second == first {
		t.Fatalf("expected a fresh connection")
	}
	if !first.closed.Load() {
		t.Fatalf("dropped connection should be closed")
	}
	if m.Attempts() != 0 {
		t.Fatalf("attempts should reset after reconnect, got %d", m.Attempts())
	}
	if d.dialCount() != 2 {
		t.Fatalf("expected 2 dials, got %d", d.dialCount())
	}

	second.send(testHash)
	expectEvent(t, m, EventTxHash)
}

func TestManagerRecoversOnSecondAttempt(t *testing.T) {
	d := &fakeDialer{fail: func(n int) error {
		if n == 2 {
			return errors.New("connection refused")
		}
		return nil
	}}
	m := startManager(t, fastConfig(3), d)
	m.Connect()

	first := expectEvent(t, m, EventConnected).Conn.(*fakeConn)
	first.sub.errc <- errors.New("eof")
	expectEvent(t, m, EventDisconnected)
	expectEvent(t, m, EventConnected)

	if d.dialCount() != 3 {
		t.Fatalf("expected 3 dials, got %d", d.dialCount())
	}
	if m.Attempts() != 0 {
		t.Fatalf("attempts should reset, got %d", m.Attempts())
	}
}

func TestManagerGivesUpExactlyOnce(t *testing.T) {
	d := &fakeDialer{fail: func(int) error { return errors.New("connection refused") }}
	m := startManager(t, fastConfig(3), d)
	m.Connect()

	ev := expectEvent(t, m, EventReconnectFailed)
	if ev.Err == nil {
		t.Fatalf("reconnect failure should carry the cause")
	}
	expectNoEvent(t, m, 50*time.Millisecond)

	if d.dialCount() != 4 {
		t.Fatalf("expected initial dial plus 3 retries, got %d", d.dialCount())
	}
	if m.State() != StateGivingUp {
		t.Fatalf("state mismatch: %s", m.State())
	}
}

func TestManagerConnectTimeoutCountsAsFailure(t *testing.T) {
	d := &fakeDialer{hang: true}
	cfg := fastConfig(0)
	cfg.ConnectTimeout = 20 * time.Millisecond
	m := startManager(t, cfg, d)
	m.Connect()

	ev := expectEvent(t, m, EventReconnectFailed)
	if !errors.Is(ev.Err, errConnectTimeout) {
		t.Fatalf("expected connect timeout, got %v", ev.Err)
	}
	if d.dialCount() != 1 {
		t.Fatalf("expected a single dial, got %d", d.dialCount())
	}
}

func TestManagerConnectIsIdempotentWhileDialing(t *testing.T) {
	d := &fakeDialer{hang: true}
	m := startManager(t, fastConfig(0), d)
	m.Connect()
	m.Connect()
	m.Connect()

	time.Sleep(30 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Fatalf("expected one in-flight dial, got %d", d.dialCount())
	}
	if m.State() != StateConnecting {
		t.Fatalf("state mismatch: %s", m.State())
	}
}

func TestManagerCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := startManager(t, fastConfig(3), d)
	m.Connect()

	conn := expectEvent(t, m, EventConnected).Conn.(*fakeConn)
	m.Close()
	expectEvent(t, m, EventClosed)

	if !conn.closed.Load() {
		t.Fatalf("connection should be closed")
	}
	expectNoEvent(t, m, 50*time.Millisecond)
	if d.dialCount() != 1 {
		t.Fatalf("close must not trigger a reconnect, dials=%d", d.dialCount())
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state mismatch: %s", m.State())
	}
}

func TestManagerCloseWithoutConnectionIsNoop(t *testing.T) {
	d := &fakeDialer{}
	m := startManager(t, fastConfig(3), d)
	m.Close()
	m.Close()

	expectNoEvent(t, m, 30*time.Millisecond)
	if d.dialCount() != 0 {
		t.Fatalf("close should not dial")
	}

	m.Connect()
	expectEvent(t, m, EventConnected)
}

func TestManagerTeardownPanicDoesNotBlockReconnect(t *testing.T) {
	d := &fakeDialer{panicOnClose: true}
	m := startManager(t, fastConfig(3), d)
	m.Connect()

	first := expectEvent(t, m, EventConnected).Conn.(*fakeConn)
	first.sub.errc <- errors.New("eof")

	expectEvent(t, m, EventDisconnected)
	expectEvent(t, m, EventConnected)
	if !first.closed.Load() {
		t.Fatalf("close should have been attempted")
	}
}

func TestManagerExplicitConnectReplacesConnection(t *testing.T) {
	d := &fakeDialer{}
	m := startManager(t, fastConfig(3), d)
	m.Connect()
	first := expectEvent(t, m, EventConnected).Conn.(*fakeConn)

	m.Connect()
	expectEvent(t, m, EventDisconnected)
	second := expectEvent(t, m, EventConnected).Conn.(*fakeConn)

	if !first.closed.Load() || second.closed.Load() {
		t.Fatalf("only the replaced connection should be closed")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	low := Backoff{Interval: time.Second, Factor: 2, Max: 60 * time.Second, rand: func() float64 { return 0 }}
	high := low
	high.rand = func() float64 { return 0.999 }

	if got := low.Delay(1); got != time.Second {
		t.Fatalf("first delay mismatch: %s", got)
	}
	if got := low.Delay(3); got != 4*time.Second {
		t.Fatalf("third delay mismatch: %s", got)
	}
	for attempt := 1; attempt < 10; attempt++ {
		if high.Delay(attempt) > low.Delay(attempt+1) {
			t.Fatalf("delays not monotone at attempt %d: %s > %s", attempt, high.Delay(attempt), low.Delay(attempt+1))
		}
	}
	if got := high.Delay(30); got != 60*time.Second {
		t.Fatalf("delay should cap at 60s, got %s", got)
	}
	if got := low.Delay(5000); got != 60*time.Second {
		t.Fatalf("overflowing delay should cap, got %s", got)
	}
}

func TestParseHash(t *testing.T) {
	if _, ok := parseHash(testHash); !ok {
		t.Fatalf("valid hash rejected")
	}
	for _, raw := range []string{"", "  ", "0x", "5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060", "0xzz"} {
		if _, ok := parseHash(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
