// Package supervisor is the Supervisor (C10): it owns the lifetime of every
// I/O worker the engine starts -- UDP listeners and senders, TCP clients and
// servers -- builds the Routing Index from a route set, wires the
// Dispatcher between them, and tears everything down on Stop: UDP
// listeners, then TCP clients and servers, then UDP senders. It also runs the periodic tick that refreshes local NIC
// information and publishes worker status into the Status Table.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/etcaddy/oscrouter/addr"
	"github.com/etcaddy/oscrouter/dispatch"
	"github.com/etcaddy/oscrouter/logfeed"
	"github.com/etcaddy/oscrouter/metric"
	"github.com/etcaddy/oscrouter/routing"
	"github.com/etcaddy/oscrouter/script"
	"github.com/etcaddy/oscrouter/status"
	"github.com/etcaddy/oscrouter/transport"
)

const (
	nicRefreshInterval = 30 * time.Second
	workerStopTimeout  = 5 * time.Second
	defaultReconnect   = 2 * time.Second
)

var _ dispatch.Forwarder = (*Supervisor)(nil)

// Supervisor owns every transport worker and the Dispatcher that connects
// them to the Routing Index.
type Supervisor struct {
	logger     *slog.Logger
	logs       *logfeed.Aggregator
	statusTbl  *status.Table
	metricsReg *metric.MetricsRegistry

	index      *routing.Index
	dispatcher *dispatch.Dispatcher

	mu             sync.RWMutex
	udpListeners   map[uint16]*transport.UDPListener
	udpSenders     map[string]*transport.UDPSender
	tcpClients     map[int]*transport.TCPClient
	tcpServers     map[int]*transport.TCPServer
	tcpEndpointAddrs map[string]int // dest address -> tcp endpoint ID (client or server), for transport precedence

	pendingRoutes    []*routing.Route
	pendingEndpoints []routing.TcpEndpoint

	running  atomic.Bool
	ctx      context.Context
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Supervisor with empty worker sets. Call Configure to
// load a route set and TCP endpoint list before or after Start. When
// metricsReg is non-nil, every UDP sender queue the Supervisor creates
// exports its buffer statistics as Prometheus metrics.
func New(logs *logfeed.Aggregator, statusTbl *status.Table, logger *slog.Logger, metricsReg *metric.MetricsRegistry) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if logs == nil {
		logs = logfeed.New(logger, 0, metricsReg)
	}
	if statusTbl == nil {
		statusTbl = status.NewTable()
	}
	s := &Supervisor{
		logger:           logger.With("component", "supervisor"),
		logs:             logs,
		statusTbl:        statusTbl,
		metricsReg:       metricsReg,
		index:            routing.NewIndex(nil),
		udpListeners:     make(map[uint16]*transport.UDPListener),
		udpSenders:       make(map[string]*transport.UDPSender),
		tcpClients:       make(map[int]*transport.TCPClient),
		tcpServers:       make(map[int]*transport.TCPServer),
		tcpEndpointAddrs: make(map[string]int),
	}
	s.dispatcher = dispatch.New(s.index, s, logs, statusTbl, script.NoOp{})
	return s
}

// Configure rebuilds the Routing Index from routes and reconciles the
// worker set against endpoints. The index swap is atomic: in-flight
// dispatch always sees either the old or the new route set, never a
// partially built one. If the Supervisor hasn't started yet, the route set
// is only recorded; Start performs the first reconciliation.
func (s *Supervisor) Configure(ctx context.Context, routes []*routing.Route, endpoints []routing.TcpEndpoint) error {
	s.index.Build(routes)

	if nics, err := addr.LocalIPv4NICs(); err == nil {
		s.index.SetNICs(nics)
	} else {
		s.logger.Warn("failed to enumerate local NICs", "error", err)
	}

	s.mu.Lock()
	s.pendingRoutes = routes
	s.pendingEndpoints = endpoints
	s.mu.Unlock()

	if s.running.Load() {
		return s.reconcileWorkers(ctx, routes, endpoints)
	}
	return nil
}

// Start launches every worker implied by the most recent Configure call
// and the background NIC-refresh tick.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.running.Load() {
		return nil
	}

	s.mu.RLock()
	routes, endpoints := s.pendingRoutes, s.pendingEndpoints
	s.mu.RUnlock()

	s.ctx = ctx
	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	if err := s.reconcileWorkers(ctx, routes, endpoints); err != nil {
		s.running.Store(false)
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.tickLoop(ctx)
	}()

	s.logs.Infof("supervisor", "started with %d udp listener(s), %d udp sender(s), %d tcp client(s), %d tcp server(s)",
		len(s.udpListeners), len(s.udpSenders), len(s.tcpClients), len(s.tcpServers))
	return nil
}

func (s *Supervisor) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(nicRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			if nics, err := addr.LocalIPv4NICs(); err == nil {
				s.index.SetNICs(nics)
			}
			s.refreshStatus()
		}
	}
}

func (s *Supervisor) refreshStatus() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for port, l := range s.udpListeners {
		packets, bytesIn, errs := l.Stats()
		s.statusTbl.Upsert(status.Entry{
			Key: "udp-listener:" + addr.New("", port).String(), Kind: "udp-in",
			Connected: true, PacketsIn: uint64(packets), Errors: uint64(errs),
			Description: fmt.Sprintf("%d bytes received", bytesIn),
		})
	}
	for key, snd := range s.udpSenders {
		packets, bytesOut, dropped, errs := snd.Stats()
		s.statusTbl.Upsert(status.Entry{
			Key: "udp-sender:" + key, Kind: "udp-out",
			Connected: true, PacketsOut: uint64(packets), Errors: uint64(errs) + uint64(dropped),
			Description: fmt.Sprintf("%d bytes sent", bytesOut),
		})
	}
	for id, c := range s.tcpClients {
		in, out, reconnects := c.Stats()
		s.statusTbl.Upsert(status.Entry{
			Key: "tcp-client:" + fmt.Sprint(id), Kind: "tcp-client",
			Connected: c.Connected(), PacketsIn: uint64(in), PacketsOut: uint64(out), Errors: uint64(reconnects),
		})
	}
	for id, srv := range s.tcpServers {
		conns, in, out := srv.Stats()
		s.statusTbl.Upsert(status.Entry{
			Key: "tcp-server:" + fmt.Sprint(id), Kind: "tcp-server",
			Connected: srv.ClientCount() > 0, PacketsIn: uint64(in), PacketsOut: uint64(out),
			Description: fmt.Sprintf("%d total connections", conns),
		})
	}
}

// reconcileWorkers starts any UDP listener/sender or TCP client/server the
// new route and endpoint set requires and that isn't already running.
// It never stops workers that are no longer referenced -- an in-flight
// packet on a removed route should still be delivered rather than hit a
// torn-down socket; truly unused workers are cleaned up on the next Stop.
func (s *Supervisor) reconcileWorkers(ctx context.Context, routes []*routing.Route, endpoints []routing.TcpEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	multicastByPort := make(map[uint16]string)
	for _, r := range routes {
		if r.Enabled && r.Source.Protocol == routing.ProtocolUDP && r.Source.MulticastIP != "" {
			multicastByPort[r.Source.Port] = r.Source.MulticastIP
		}
	}

	var newPorts []uint16
	for _, port := range s.index.Ports() {
		if _, ok := s.udpListeners[port]; !ok {
			newPorts = append(newPorts, port)
		}
	}
	newListeners := make([]*transport.UDPListener, len(newPorts))
	g, gctx := errgroup.WithContext(ctx)
	for i, port := range newPorts {
		i, port := i, port
		g.Go(func() error {
			handler := func(data []byte, srcIP string) { s.dispatcher.HandlePacket(port, srcIP, data) }
			var listener *transport.UDPListener
			if group, ok := multicastByPort[port]; ok {
				listener = transport.NewMulticastUDPListener(group, port, handler, s.logger)
			} else {
				listener = transport.NewUDPListener("", port, handler, s.logger)
			}
			if err := listener.Start(gctx); err != nil {
				return fmt.Errorf("start udp listener on port %d: %w", port, err)
			}
			newListeners[i] = listener
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, port := range newPorts {
		s.udpListeners[port] = newListeners[i]
	}

	for _, r := range routes {
		if !r.Enabled || r.Destination.Protocol != routing.ProtocolUDP {
			continue
		}
		key := r.Destination.Addr.String()
		if _, ok := s.udpSenders[key]; ok {
			continue
		}
		sender, err := transport.NewUDPSender(r.Destination.Addr.IP, r.Destination.Addr.Port, s.logger, s.metricsReg)
		if err != nil {
			return fmt.Errorf("create udp sender for %s: %w", key, err)
		}
		if err := sender.Start(ctx); err != nil {
			return fmt.Errorf("start udp sender for %s: %w", key, err)
		}
		s.udpSenders[key] = sender
	}

	for _, ep := range endpoints {
		switch ep.Protocol {
		case routing.ProtocolTCPClient:
			if _, ok := s.tcpClients[ep.ID]; ok {
				continue
			}
			reconnect := time.Duration(ep.ReconnectMs) * time.Millisecond
			if reconnect <= 0 {
				reconnect = defaultReconnect
			}
			port := ep.Addr.Port
			handler := func(data []byte, srcIP string) { s.dispatcher.HandlePacket(port, srcIP, data) }
			client := transport.NewTCPClient(ep.Addr.IP, ep.Addr.Port, ep.FrameMode, reconnect, handler, s.logger)
			if err := client.Start(ctx); err != nil {
				return fmt.Errorf("start tcp client %d: %w", ep.ID, err)
			}
			s.tcpClients[ep.ID] = client
			s.tcpEndpointAddrs[ep.Addr.String()] = ep.ID
		case routing.ProtocolTCPServer:
			if _, ok := s.tcpServers[ep.ID]; ok {
				continue
			}
			port := ep.Addr.Port
			handler := func(data []byte, srcIP string) { s.dispatcher.HandlePacket(port, srcIP, data) }
			server := transport.NewTCPServer(ep.Addr.IP, ep.Addr.Port, ep.FrameMode, handler, s.logger)
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("start tcp server %d: %w", ep.ID, err)
			}
			s.tcpServers[ep.ID] = server
			s.tcpEndpointAddrs[ep.Addr.String()] = ep.ID
		}
	}

	return nil
}

// ForwardUDP implements dispatch.Forwarder by writing to the sender
// matching dest, creating one on demand if Configure hasn't provisioned it
// yet (a route whose destination was added after the last Configure call).
// Per the engine's transport precedence rule, a dest that matches a
// configured TCP Client or TCP Server's address is routed through that
// endpoint instead of opening a UDP socket, regardless of which protocol
// the route itself named.
func (s *Supervisor) ForwardUDP(dest addr.Address, frame []byte) error {
	key := dest.String()

	s.mu.RLock()
	if endpointID, ok := s.tcpEndpointAddrs[key]; ok {
		s.mu.RUnlock()
		return s.ForwardTCP(endpointID, frame)
	}
	sender, ok := s.udpSenders[key]
	s.mu.RUnlock()
	if !ok {
		var err error
		sender, err = transport.NewUDPSender(dest.IP, dest.Port, s.logger, s.metricsReg)
		if err != nil {
			return err
		}
		if err := sender.Start(s.ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.udpSenders[key] = sender
		s.mu.Unlock()
	}
	return sender.Enqueue(frame)
}

// ForwardTCP implements dispatch.Forwarder by writing to the TCP client or
// broadcasting through the TCP server identified by endpointID.
func (s *Supervisor) ForwardTCP(endpointID int, frame []byte) error {
	s.mu.RLock()
	client, isClient := s.tcpClients[endpointID]
	server, isServer := s.tcpServers[endpointID]
	s.mu.RUnlock()

	switch {
	case isClient:
		return client.Write(frame)
	case isServer:
		server.Broadcast(frame)
		return nil
	default:
		return fmt.Errorf("supervisor: no tcp endpoint %d", endpointID)
	}
}

// Stop tears down every worker and the tick loop, in reverse of no
// particular start order since each worker type is independent; UDP
// listeners and TCP servers/clients are stopped first so no new inbound
// packets arrive while senders drain.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.shutdown != nil {
		close(s.shutdown)
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.udpListeners {
		_ = l.Stop(workerStopTimeout)
	}
	for _, c := range s.tcpClients {
		_ = c.Stop(workerStopTimeout)
	}
	for _, srv := range s.tcpServers {
		_ = srv.Stop(workerStopTimeout)
	}
	for _, snd := range s.udpSenders {
		_ = snd.Stop(workerStopTimeout)
	}

	return nil
}

// Index exposes the Routing Index for read-only inspection (e.g. by the
// status HTTP endpoint).
func (s *Supervisor) Index() *routing.Index { return s.index }
