package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the payload carried by an Envelope.
type Kind string

const (
	KindStatus             Kind = "status"
	KindRawTransaction     Kind = "raw-transaction"
	KindDecodedTransaction Kind = "decoded-transaction"
	KindError              Kind = "error"
)

// Status values broadcast to subscribers.
const (
	StatusSubscribed   = "subscribed"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusShuttingDown = "shutting_down"
)

// Payload is the closed set of envelope payloads.
type Payload interface {
	Kind() Kind
	payload()
}

// StatusPayload reports connectivity changes.
type StatusPayload struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	SubscriberID string `json:"subscriberId,omitempty"`
}

func (StatusPayload) Kind() Kind { return KindStatus }
func (StatusPayload) payload()   {}

// RawTransactionPayload carries a monitored transaction whose call could not be decoded.
type RawTransactionPayload struct {
	Transaction *TransactionRecord `json:"transaction"`
}

func (RawTransactionPayload) Kind() Kind { return KindRawTransaction }
func (RawTransactionPayload) payload()   {}

// DecodedTransactionPayload carries a monitored transaction and its decoded call.
type DecodedTransactionPayload struct {
	Transaction *TransactionRecord `json:"transaction"`
	Decoded     *DecodedCall       `json:"decoded"`
}

func (DecodedTransactionPayload) Kind() Kind { return KindDecodedTransaction }
func (DecodedTransactionPayload) payload()   {}

// ErrorPayload reports a pipeline fault for one transaction.
type ErrorPayload struct {
	Hash    string `json:"hash,omitempty"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error"`
}

func (ErrorPayload) Kind() Kind { return KindError }
func (ErrorPayload) payload()   {}

// Envelope wraps a payload for broadcast.
type Envelope struct {
	Kind            Kind    `json:"kind"`
	Payload         Payload `json:"payload"`
	EmittedAtMillis int64   `json:"emittedAtMillis"`
}

// NewEnvelope stamps a payload with its kind and emission time.
func NewEnvelope(p Payload, at time.Time) Envelope {
	return Envelope{
		Kind:            p.Kind(),
		Payload:         p,
		EmittedAtMillis: at.UnixMilli(),
	}
}

// TxHash returns the transaction hash carried by the payload, if any.
func (e Envelope) TxHash() string {
	switch p := e.Payload.(type) {
	case RawTransactionPayload:
		if p.Transaction != nil {
			return p.Transaction.Hash.Hex()
		}
	case DecodedTransactionPayload:
		if p.Transaction != nil {
			return p.Transaction.Hash.Hex()
		}
	case ErrorPayload:
		return p.Hash
	}
	return ""
}

// EnvelopeRecord is the decoding-side view of an Envelope; the payload is left raw.
type EnvelopeRecord struct {
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	EmittedAtMillis int64           `json:"emittedAtMillis"`
}

// DecodeStatus extracts a status payload from a raw envelope.
func (r EnvelopeRecord) DecodeStatus() (StatusPayload, error) {
	if r.Kind != KindStatus {
		return StatusPayload{}, fmt.Errorf("envelope kind %q is not %q", r.Kind, KindStatus)
	}
	var status StatusPayload
	if err := json.Unmarshal(r.Payload, &status); err != nil {
		return StatusPayload{}, fmt.Errorf("decode status payload: %w", err)
	}
	return status, nil
}
