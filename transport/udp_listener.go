// Package transport implements the engine's I/O workers: UDP Listener and
// Sender, TCP Client and Server, and the two wire framings (OSC 1.0
// length-prefix, OSC 1.1 SLIP) TCP endpoints choose between. Each worker
// owns one OS thread's worth of blocking I/O and hands decoded packets to a
// Handler rather than parsing them itself, so the same workers serve OSC,
// PSN, and any other raw UDP traffic.
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
	"github.com/etcaddy/oscrouter/pkg/retry"
)

// Handler receives one packet's raw bytes plus the address it arrived from.
// Implementations must not block for long; the listener calls Handler
// inline on its read loop.
type Handler func(data []byte, srcIP string)

const udpReadBufferSize = 65536
const socketBufferBytes = 2 * 1024 * 1024

// UDPListener is the C1 UDP Listener worker: it binds one local UDP port
// and delivers every datagram it receives to Handler.
type UDPListener struct {
	bind        string
	port        uint16
	multicastIP string
	handler     Handler
	logger      *slog.Logger

	mu       sync.RWMutex
	conn     *net.UDPConn
	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	errorCount      atomic.Int64
}

// NewUDPListener constructs a listener for bind:port. An empty bind binds
// all local IPv4 interfaces.
func NewUDPListener(bind string, port uint16, handler Handler, logger *slog.Logger) *UDPListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPListener{bind: bind, port: port, handler: handler, logger: logger.With("component", "udp-listener", "port", port)}
}

// NewMulticastUDPListener constructs a listener that joins multicastIP on
// port rather than binding a plain unicast socket, for routes that track a
// PSN multicast feed.
func NewMulticastUDPListener(multicastIP string, port uint16, handler Handler, logger *slog.Logger) *UDPListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPListener{
		multicastIP: multicastIP,
		port:        port,
		handler:     handler,
		logger:      logger.With("component", "udp-listener", "port", port, "multicast", multicastIP),
	}
}

// Start binds the socket, retrying transient bind failures, and launches
// the read loop in its own goroutine.
func (l *UDPListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return nil
	}

	l.shutdown = make(chan struct{})
	l.done = make(chan struct{})

	bind := func() error { return l.bindSocket() }
	if err := retry.Do(ctx, errors.DefaultReconnectConfig(2*time.Second).ToRetryConfig(), bind); err != nil {
		l.cleanupLocked()
		return errors.WrapTransient(err, "udp-listener", "Start", "socket bind")
	}

	l.running.Store(true)
	println("DEBUG listener started on port", int(l.port), "bind=", l.bind)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)
		l.readLoop(ctx)
	}()
	return nil
}

func (l *UDPListener) bindSocket() error {
	var conn *net.UDPConn
	if l.multicastIP != "" {
		group, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.multicastIP, l.port))
		if err != nil {
			return fmt.Errorf("resolve multicast group %s:%d: %w", l.multicastIP, l.port, err)
		}
		conn, err = net.ListenMulticastUDP("udp", nil, group)
		if err != nil {
			return fmt.Errorf("join multicast group %s:%d: %w", l.multicastIP, l.port, err)
		}
	} else {
		addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.bind, l.port))
		if err != nil {
			return fmt.Errorf("resolve %s:%d: %w", l.bind, l.port, err)
		}
		conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("listen on %d: %w", l.port, err)
		}
	}
	if err := conn.SetReadBuffer(socketBufferBytes); err != nil {
		l.logger.Warn("could not grow socket read buffer", "error", err)
	}
	l.conn = conn
	println("DEBUG bound actual addr:", conn.LocalAddr().String())
	return nil
}

func (l *UDPListener) readLoop(ctx context.Context) {
	println("DEBUG readLoop entered")
	buf := make([]byte, udpReadBufferSize)
	iter := 0
	for l.running.Load() {
		iter++
		if iter < 5 || iter % 20 == 0 {
			println("DEBUG readLoop iter", iter)
		}
		select {
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		default:
		}

		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, src, err := conn.ReadFromUDP(buf)
		if err == nil {
			println("DEBUG read", n, "bytes from", src.String())
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-l.shutdown:
				return
			default:
				l.errorCount.Add(1)
				if !errors.IsTransient(err) {
					return
				}
				continue
			}
		}

		l.packetsReceived.Add(1)
		l.bytesReceived.Add(int64(n))

		data := make([]byte, n)
		copy(data, buf[:n])
		if l.handler != nil {
			l.handler(data, src.IP.String())
		}
	}
}

// Stop signals the read loop to exit and waits up to timeout for it to do
// so, then releases the socket.
func (l *UDPListener) Stop(timeout time.Duration) error {
	if !l.running.Load() {
		return nil
	}
	l.running.Store(false)

	l.mu.Lock()
	if l.shutdown != nil {
		close(l.shutdown)
	}
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "udp-listener", "Stop", "graceful shutdown")
	}

	l.mu.Lock()
	l.cleanupLocked()
	l.mu.Unlock()
	return nil
}

func (l *UDPListener) cleanupLocked() {
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

// Stats returns (packets, bytes, errors) received so far.
func (l *UDPListener) Stats() (packets, bytes, errs int64) {
	return l.packetsReceived.Load(), l.bytesReceived.Load(), l.errorCount.Load()
}
