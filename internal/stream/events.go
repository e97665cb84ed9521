package stream

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"mempoolScope/internal/model"
)

// Conn is one live upstream connection.
type Conn interface {
	SubscribePendingTransactions(ctx context.Context, ch chan<- string) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*model.TransactionRecord, error)
	Close() error
}

// Dialer opens a connection to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// EventType enumerates manager notifications.
type EventType int

const (
	EventConnected EventType = iota + 1
	EventDisconnected
	EventTxHash
	EventReconnectFailed
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventTxHash:
		return "tx_hash"
	case EventReconnectFailed:
		return "reconnect_failed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered on Manager.Events. Conn is set for EventConnected, Hash
// for EventTxHash and Err for EventDisconnected and EventReconnectFailed.
type Event struct {
	Type EventType
	Conn Conn
	Hash common.Hash
	Err  error
}

// State is the manager's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateGivingUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateGivingUp:
		return "giving_up"
	default:
		return "unknown"
	}
}
