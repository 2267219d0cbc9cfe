package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/etcaddy/oscrouter/errors"
	"github.com/etcaddy/oscrouter/pkg/timestamp"
)

// TCPClient is the C3 TCP Client worker: it dials a remote OSC server and
// reconnects indefinitely on disconnect, waiting the configured reconnect
// delay between attempts. Its monotonic Clock only timestamps the last
// disconnect (TimeSinceDrop).
type TCPClient struct {
	host      string
	port      uint16
	frameMode FrameMode
	handler   Handler
	reconnect time.Duration
	logger    *slog.Logger
	clock     *timestamp.Clock

	mu       sync.RWMutex
	conn     net.Conn
	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	connected  atomic.Bool
	packetsIn  atomic.Int64
	packetsOut atomic.Int64
	reconnects atomic.Int64
	sessionID  atomic.Value  // string, set on each successful dial
	lastDropMs atomic.Uint64 // clock.NowMs() at last disconnect, for reconnect-pacing diagnostics
}

// NewTCPClient constructs a client targeting host:port.
func NewTCPClient(host string, port uint16, frameMode FrameMode, reconnect time.Duration, handler Handler, logger *slog.Logger) *TCPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if reconnect <= 0 {
		reconnect = 2 * time.Second
	}
	return &TCPClient{
		host: host, port: port, frameMode: frameMode, handler: handler, reconnect: reconnect,
		logger: logger.With("component", "tcp-client", "target", fmt.Sprintf("%s:%d", host, port)),
		clock:  timestamp.Default(),
	}
}

// Start launches the dial-and-read loop.
func (c *TCPClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running.Load() {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})
	c.running.Store(true)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		c.connectLoop(ctx)
	}()
	return nil
}

func (c *TCPClient) connectLoop(ctx context.Context) {
	for c.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.host, c.port), 5*time.Second)
		if err != nil {
			c.logger.Debug("dial failed, retrying", "error", err, "delay", c.reconnect)
			if !c.sleepOrStop(ctx, c.reconnect) {
				return
			}
			c.reconnects.Add(1)
			continue
		}

		session := uuid.New().String()
		c.sessionID.Store(session)

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.connected.Store(true)
		c.logger.Info("connected", "session", session)

		c.readUntilClosed(ctx, conn)

		c.connected.Store(false)
		c.lastDropMs.Store(c.clock.NowMs())
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.logger.Info("disconnected", "session", session)

		if !c.sleepOrStop(ctx, c.reconnect) {
			return
		}
		c.reconnects.Add(1)
	}
}

func (c *TCPClient) readUntilClosed(ctx context.Context, conn net.Conn) {
	reader := NewFrameReader(c.frameMode, conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}
		frame, err := reader.ReadFrame()
		if err != nil {
			return
		}
		c.packetsIn.Add(1)
		if c.handler != nil {
			c.handler(frame, c.host)
		}
	}
}

func (c *TCPClient) sleepOrStop(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.shutdown:
		return false
	case <-time.After(d):
		return true
	}
}

// Write sends frame to the remote end, framed per the client's FrameMode.
// Returns ErrNoConnection while disconnected; the caller (the dispatcher)
// drops the packet in that case rather than queuing it.
func (c *TCPClient) Write(frame []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.ErrNoConnection
	}
	_, err := conn.Write(EncodeFrame(c.frameMode, frame))
	if err != nil {
		return errors.WrapTransient(err, "tcp-client", "Write", "write")
	}
	c.packetsOut.Add(1)
	return nil
}

// Connected reports whether the client currently holds an open connection.
func (c *TCPClient) Connected() bool { return c.connected.Load() }

// SessionID returns the correlation id assigned to the current (or most
// recent) connection, for tying status rows and log lines to one socket
// across a reconnect.
func (c *TCPClient) SessionID() string {
	if v, ok := c.sessionID.Load().(string); ok {
		return v
	}
	return ""
}

// TimeSinceDrop returns how long it has been, per the shared monotonic
// Clock, since the connection last dropped. Zero if it has never connected.
func (c *TCPClient) TimeSinceDrop() time.Duration {
	last := c.lastDropMs.Load()
	if last == 0 {
		return 0
	}
	return time.Duration(c.clock.NowMs()-last) * time.Millisecond
}

// Stop signals the connect loop to exit and waits up to timeout.
func (c *TCPClient) Stop(timeout time.Duration) error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)

	c.mu.Lock()
	if c.shutdown != nil {
		close(c.shutdown)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "tcp-client", "Stop", "graceful shutdown")
	}
	return nil
}

// Stats returns (packetsIn, packetsOut, reconnects) observed so far.
func (c *TCPClient) Stats() (in, out, reconnects int64) {
	return c.packetsIn.Load(), c.packetsOut.Load(), c.reconnects.Load()
}
