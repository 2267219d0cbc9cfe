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
)

// TCPServer is the C4 TCP Server worker: it accepts any number of inbound
// OSC client connections on one port and broadcasts outbound frames to all
// of them.
type TCPServer struct {
	bind      string
	port      uint16
	frameMode FrameMode
	handler   Handler
	logger    *slog.Logger

	mu        sync.RWMutex
	listener  net.Listener
	clients   map[net.Conn]string // conn -> session id, for status/log correlation
	running   atomic.Bool
	shutdown  chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	connectionsTotal atomic.Int64
	packetsIn        atomic.Int64
	packetsOut       atomic.Int64
}

// NewTCPServer constructs a server bound to bind:port.
func NewTCPServer(bind string, port uint16, frameMode FrameMode, handler Handler, logger *slog.Logger) *TCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		bind: bind, port: port, frameMode: frameMode, handler: handler,
		clients: make(map[net.Conn]string),
		logger:  logger.With("component", "tcp-server", "port", port),
	}
}

// Start binds the listening socket and launches the accept loop.
func (s *TCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.bind, s.port))
	if err != nil {
		return errors.WrapTransient(err, "tcp-server", "Start", "listen")
	}
	s.listener = ln

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.acceptLoop(ctx)
	}()
	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context) {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			default:
				if !s.running.Load() {
					return
				}
				continue
			}
		}

		session := uuid.New().String()
		s.connectionsTotal.Add(1)
		s.mu.Lock()
		s.clients[conn] = session
		s.mu.Unlock()
		s.logger.Info("client connected", "session", session, "remote", conn.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveClient(ctx, conn)
		}()
	}
}

func (s *TCPServer) serveClient(ctx context.Context, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	reader := NewFrameReader(s.frameMode, conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}
		frame, err := reader.ReadFrame()
		if err != nil {
			return
		}
		s.packetsIn.Add(1)
		if s.handler != nil {
			host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			s.handler(frame, host)
		}
	}
}

// Broadcast writes frame, framed per the server's FrameMode, to every
// currently connected client. Failed writes drop that one client silently
// (its read loop will notice the closed connection and clean it up).
func (s *TCPServer) Broadcast(frame []byte) int {
	encoded := EncodeFrame(s.frameMode, frame)

	s.mu.RLock()
	conns := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if _, err := c.Write(encoded); err == nil {
			sent++
			s.packetsOut.Add(1)
		}
	}
	return sent
}

// ClientCount reports how many clients are currently connected.
func (s *TCPServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stop closes the listener and every client connection, then waits up to
// timeout for outstanding goroutines to exit.
func (s *TCPServer) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		close(s.shutdown)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for c := range s.clients {
		_ = c.Close()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), "tcp-server", "Stop", "graceful shutdown")
	}
	return nil
}

// Stats returns (connectionsTotal, packetsIn, packetsOut) observed so far.
func (s *TCPServer) Stats() (connections, in, out int64) {
	return s.connectionsTotal.Load(), s.packetsIn.Load(), s.packetsOut.Load()
}
