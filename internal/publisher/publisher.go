package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mempoolScope/internal/metrics"
	"mempoolScope/internal/model"
)

const (
	defaultSendBuffer = 64
	closeWriteWait    = time.Second
)

// ErrNotStarted is logged when a broadcast arrives before Start.
var ErrNotStarted = errors.New("publisher not started")

type Config struct {
	Host       string
	Port       int
	SendBuffer int
}

// Publisher fans envelopes out to websocket subscribers. Delivery is best-effort:
// nothing is queued for absent subscribers and a full buffer drops the message
// for that subscriber only.
type Publisher struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	now      func() time.Time

	lifecycle sync.Mutex
	started   atomic.Bool
	listener  net.Listener
	server    *http.Server
	serveDone chan struct{}

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	return &Publisher{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		now:         time.Now,
		subscribers: make(map[string]*subscriber),
	}
}

// Start binds the listener before returning, so a busy port is reported to the
// caller. Calling Start on a running publisher is a no-op.
func (p *Publisher) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.started.Load() {
		return nil
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.serveWS)
	mux.HandleFunc("/ws", p.serveWS)
	mux.Handle("/metrics", p.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	p.listener = ln
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	p.serveDone = make(chan struct{})
	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("publisher server stopped", zap.Error(err))
		}
	}(p.server, p.serveDone)

	p.started.Store(true)
	p.logger.Info("publisher listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, or "" before Start.
func (p *Publisher) Addr() string {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// Publish sends one serialized envelope to every subscriber. It never blocks.
func (p *Publisher) Publish(env model.Envelope) {
	if !p.started.Load() {
		p.logger.Warn("dropping broadcast", zap.String("kind", string(env.Kind)), zap.Error(ErrNotStarted))
		return
	}
	if p.SubscriberCount() == 0 {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("marshal envelope failed", zap.String("kind", string(env.Kind)), zap.Error(err))
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sub := range p.subscribers {
		if sub.enqueue(data) {
			continue
		}
		p.metrics.BroadcastDropped()
		p.logger.Warn("subscriber buffer full, dropping envelope",
			zap.String("subscriber", sub.id),
			zap.String("kind", string(env.Kind)),
		)
	}
	p.metrics.Broadcast(string(env.Kind))
}

// Stop sends a normal-closure frame to every subscriber, clears the set and
// shuts the server down.
func (p *Publisher) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if !p.started.Load() {
		return nil
	}
	p.started.Store(false)

	p.mu.Lock()
	closing := make([]*subscriber, 0, len(p.subscribers))
	for id, sub := range p.subscribers {
		closing = append(closing, sub)
		delete(p.subscribers, id)
	}
	p.mu.Unlock()
	p.metrics.SetSubscribers(0)

	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	for _, sub := range closing {
		if err := sub.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeWriteWait)); err != nil {
			p.logger.Debug("close frame not delivered", zap.String("subscriber", sub.id), zap.Error(err))
		}
		sub.close()
	}

	err := p.server.Shutdown(ctx)
	select {
	case <-p.serveDone:
	case <-ctx.Done():
	}
	p.listener = nil
	p.logger.Info("publisher stopped", zap.Int("subscribers", len(closing)))
	if err != nil {
		return fmt.Errorf("shutdown publisher server: %w", err)
	}
	return nil
}

func (p *Publisher) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	sub := newSubscriber(uuid.NewString(), conn, p.cfg.SendBuffer)
	if !p.register(sub) {
		_ = conn.Close()
		return
	}

	hello := model.NewEnvelope(model.StatusPayload{
		Status:       model.StatusSubscribed,
		SubscriberID: sub.id,
	}, p.now())
	if data, err := json.Marshal(hello); err == nil {
		sub.enqueue(data)
	}

	go sub.writePump(p.logger)
	go sub.readPump(p, func() { p.unregister(sub) })
}

// register adds sub unless the publisher is stopped. Stop clears started
// before it takes mu, so a subscriber added here is either seen by Stop or
// rejected.
func (p *Publisher) register(sub *subscriber) bool {
	p.mu.Lock()
	if !p.started.Load() {
		p.mu.Unlock()
		return false
	}
	p.subscribers[sub.id] = sub
	count := len(p.subscribers)
	p.mu.Unlock()
	p.metrics.SetSubscribers(count)
	p.logger.Info("subscriber connected", zap.String("subscriber", sub.id), zap.String("remote", sub.conn.RemoteAddr().String()))
	return true
}

func (p *Publisher) unregister(sub *subscriber) {
	p.mu.Lock()
	_, ok := p.subscribers[sub.id]
	delete(p.subscribers, sub.id)
	count := len(p.subscribers)
	p.mu.Unlock()
	sub.close()
	if ok {
		p.metrics.SetSubscribers(count)
		p.logger.Info("subscriber disconnected", zap.String("subscriber", sub.id))
	}
}

type inboundMessage struct {
	Type string `json:"type"`
}

type pongMessage struct {
	Type            string `json:"type"`
	EmittedAtMillis int64  `json:"emittedAtMillis"`
}

func (p *Publisher) handleInbound(sub *subscriber, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Warn("ignoring malformed subscriber message", zap.String("subscriber", sub.id), zap.Error(err))
		return
	}
	switch msg.Type {
	case "ping":
		pong, err := json.Marshal(pongMessage{Type: "pong", EmittedAtMillis: p.now().UnixMilli()})
		if err != nil {
			return
		}
		if !sub.enqueue(pong) {
			p.logger.Debug("pong dropped", zap.String("subscriber", sub.id))
		}
	default:
		p.logger.Debug("ignoring subscriber message", zap.String("subscriber", sub.id), zap.String("type", msg.Type))
	}
}
