package publisher

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	// Inbound messages larger than this are discarded unread.
	maxReadBytes = 4096
)

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSubscriber(id string, conn *websocket.Conn, buffer int) *subscriber {
	return &subscriber{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue reports false when the subscriber is gone or its buffer is full.
// send is never closed, so a racing close cannot panic here.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *subscriber) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("subscriber write failed", zap.String("subscriber", s.id), zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *subscriber) readPump(p *Publisher, onClose func()) {
	defer onClose()
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, r, err := s.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Debug("subscriber read failed", zap.String("subscriber", s.id), zap.Error(err))
			}
			return
		}
		data, err := io.ReadAll(io.LimitReader(r, maxReadBytes+1))
		if err != nil {
			p.logger.Debug("subscriber read failed", zap.String("subscriber", s.id), zap.Error(err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if len(data) > maxReadBytes {
			discarded, err := io.Copy(io.Discard, r)
			if err != nil {
				p.logger.Debug("subscriber read failed", zap.String("subscriber", s.id), zap.Error(err))
				return
			}
			p.logger.Warn("ignoring oversized subscriber message",
				zap.String("subscriber", s.id),
				zap.Int64("bytes", int64(len(data))+discarded),
			)
			continue
		}
		p.handleInbound(s, data)
	}
}
