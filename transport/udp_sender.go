package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/etcaddy/oscrouter/errors"
	"github.com/etcaddy/oscrouter/metric"
	"github.com/etcaddy/oscrouter/pkg/buffer"
)

const senderQueueCapacity = 2000

// UDPSender is the C2 UDP Sender worker: it writes datagrams to a fixed
// destination. It always queues outbound packets through an internal
// buffer and drains them from its own goroutine -- the queue is enabled
// unconditionally at construction, not behind an option, matching the
// original router's always-buffered UDP output path; a caller that wants
// synchronous sends should call WriteDirect instead of Enqueue.
type UDPSender struct {
	addr   *net.UDPAddr
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *net.UDPConn
	queue   buffer.Buffer[[]byte]
	running atomic.Bool

	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	packetsSent atomic.Int64
	bytesSent   atomic.Int64
	errorCount  atomic.Int64
}

// NewUDPSender constructs a sender bound to no particular local port,
// targeting host:port. When metricsReg is non-nil, the send queue's
// write/drop/utilization counters are exported as Prometheus metrics
// labeled by the destination address.
func NewUDPSender(host string, port uint16, logger *slog.Logger, metricsReg *metric.MetricsRegistry) (*UDPSender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}

	queue, err := buffer.NewCircularBuffer[[]byte](senderQueueCapacity,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithMetrics[[]byte](metricsReg, "udp-sender:"+addr.String()),
	)
	if err != nil {
		return nil, fmt.Errorf("create sender queue: %w", err)
	}

	return &UDPSender{
		addr:   addr,
		logger: logger.With("component", "udp-sender", "target", addr.String()),
		queue:  queue,
	}, nil
}

// Start opens the outbound socket and launches the drain loop.
func (s *UDPSender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	conn, err := net.DialUDP("udp", nil, s.addr)
	if err != nil {
		return errors.WrapTransient(err, "udp-sender", "Start", "dial")
	}
	s.conn = conn

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.drainLoop(ctx)
	}()
	return nil
}

// Enqueue queues data for asynchronous delivery. If the queue is full, the
// oldest queued packet is dropped to make room (spec §4.2's default
// overflow behavior for the sender's always-on queue).
func (s *UDPSender) Enqueue(data []byte) error {
	if !s.running.Load() {
		return errors.ErrNotStarted
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return s.queue.Write(cp)
}

// WriteDirect bypasses the queue and writes synchronously, for callers
// that need to observe the write's outcome immediately.
func (s *UDPSender) WriteDirect(data []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return errors.ErrNoConnection
	}
	n, err := conn.Write(data)
	if err != nil {
		s.errorCount.Add(1)
		return errors.WrapTransient(err, "udp-sender", "WriteDirect", "write")
	}
	s.packetsSent.Add(1)
	s.bytesSent.Add(int64(n))
	return nil
}

func (s *UDPSender) drainLoop(ctx context.Context) {
	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		batch := s.queue.ReadBatch(32)
		if len(batch) == 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		for _, data := range batch {
			if err := s.WriteDirect(data); err != nil {
				s.logger.Debug("udp send failed", "error", err)
			}
		}
	}
}

// Stop stops the sender, closing the socket after waiting up to timeout for
// the drain loop to exit. Packets still in the queue are discarded.
func (s *UDPSender) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		close(s.shutdown)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "udp-sender", "Stop", "graceful shutdown")
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	s.mu.Unlock()
	return nil
}

// Stats returns (packets, bytes, dropped, errors) observed so far. dropped
// is read from the send queue's own statistics rather than a separate
// counter, since DropOldest overwrites silently -- Write never returns an
// error for it, so a counter incremented only on error would never move.
func (s *UDPSender) Stats() (packets, bytes, dropped, errs int64) {
	return s.packetsSent.Load(), s.bytesSent.Load(), s.queue.Stats().Drops(), s.errorCount.Load()
}
