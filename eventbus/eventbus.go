// Package eventbus is a fire-and-forget NATS publisher the engine uses to
// mirror its Status Table and Log Aggregator entries to external
// observers (a dashboard, a recording pipeline). It is publish-only: the
// engine never subscribes, so there is no consumer group, JetStream
// stream, or KV bucket to manage -- just a connection with reconnect
// status tracking and a circuit breaker that stops publish attempts after
// repeated failures rather than blocking dispatch on a dead broker.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/etcaddy/oscrouter/errors"
)

// ConnectionStatus mirrors the lifecycle of the underlying NATS connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// defaultCircuitThreshold is how many consecutive publish failures open
// the circuit breaker.
const defaultCircuitThreshold = 5

// Publisher wraps a NATS connection for one-way event publication.
type Publisher struct {
	subjectPrefix string

	mu   sync.RWMutex
	conn *nats.Conn

	status           atomic.Value // ConnectionStatus
	consecutiveFails atomic.Int32
	circuitThreshold int32
}

// NewPublisher dials url and returns a ready Publisher. Every published
// subject is prefixed with subjectPrefix + ".".
func NewPublisher(url, subjectPrefix string, opts ...nats.Option) (*Publisher, error) {
	p := &Publisher{subjectPrefix: subjectPrefix, circuitThreshold: defaultCircuitThreshold}
	p.status.Store(StatusDisconnected)

	allOpts := append([]nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.status.Store(StatusReconnecting)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.status.Store(StatusConnected)
			p.consecutiveFails.Store(0)
		}),
	}, opts...)

	conn, err := nats.Connect(url, allOpts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "eventbus", "NewPublisher", "connect")
	}

	p.conn = conn
	p.status.Store(StatusConnected)
	return p, nil
}

// Status reports the publisher's current connection state.
func (p *Publisher) Status() ConnectionStatus {
	return p.status.Load().(ConnectionStatus)
}

// Publish marshals v as JSON and publishes it to subjectPrefix.subject. It
// is a no-op (returning nil) while the circuit is open, so a dead broker
// never adds latency to the dispatcher's hot path.
func (p *Publisher) Publish(subject string, v interface{}) error {
	if p.Status() == StatusCircuitOpen {
		return nil
	}

	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return errors.ErrNoConnection
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "eventbus", "Publish", "marshal")
	}

	full := fmt.Sprintf("%s.%s", p.subjectPrefix, subject)
	if err := conn.Publish(full, data); err != nil {
		p.recordFailure()
		return errors.WrapTransient(err, "eventbus", "Publish", "publish")
	}
	p.consecutiveFails.Store(0)
	return nil
}

func (p *Publisher) recordFailure() {
	fails := p.consecutiveFails.Add(1)
	if fails >= p.circuitThreshold {
		p.status.Store(StatusCircuitOpen)
	}
}

// Close drains and closes the underlying connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn = nil
	p.status.Store(StatusDisconnected)
	return err
}
