// Package routing holds the route data model -- Route, RouteSource,
// RouteDestination, Transform, TcpEndpoint -- and the RoutingIndex that maps
// inbound packets to the routes that should fire for them, plus the path
// rewrite and numeric transform algorithms a matched route applies before
// forwarding.
package routing

import (
	"github.com/etcaddy/oscrouter/addr"
	"github.com/etcaddy/oscrouter/transport"
)

// Protocol identifies the transport a route's destination writes to.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCPClient
	ProtocolTCPServer
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolTCPClient:
		return "tcp-client"
	case ProtocolTCPServer:
		return "tcp-server"
	default:
		return "unknown"
	}
}

// Payload identifies the wire encoding a route's destination speaks, as
// opposed to Protocol (which picks the transport). A route normally carries
// OSC; PayloadPSN re-encodes the matched message as a PSN tracker frame.
type Payload int

const (
	PayloadOSC Payload = iota
	PayloadPSN
)

func (p Payload) String() string {
	if p == PayloadPSN {
		return "psn"
	}
	return "osc"
}

// Transform describes an optional linear remap applied to a matched
// message's first numeric argument before it is forwarded. Each bound is
// independently enable-able; see Apply for the exact semantics.
type Transform struct {
	Enabled bool

	InMinEnabled, InMaxEnabled   bool
	OutMinEnabled, OutMaxEnabled bool
	InMin, InMax, OutMin, OutMax float32
}

// RouteSource is the (protocol, port, source-ip) a route listens on.
// An empty SourceIP matches any sender; a non-empty one is checked against
// addr.MatchesSource against the machine's local NICs.
type RouteSource struct {
	Protocol    Protocol
	Port        uint16
	SourceIP    string
	MulticastIP string // non-empty joins this multicast group on Port instead of a plain UDP bind
	PathFrom    string // incoming address to match; "" matches any path
}

// RouteDestination is where a matched packet is forwarded, with an
// optional path rewrite template. A destination port of 0 means "use the
// inbound packet's source port"; an empty Addr.IP means "use the inbound
// packet's source IP" -- both resolved by the dispatcher at send time, not
// baked into the index.
type RouteDestination struct {
	Protocol Protocol
	Payload  Payload // OSC (default) or PSN wire encoding
	Addr     addr.Address

	// EndpointID names the TcpEndpoint this destination targets, when
	// Protocol is ProtocolTCPClient or ProtocolTCPServer. It is a separate
	// ID namespace from Route.ID -- multiple routes can share one
	// endpoint's socket by naming the same EndpointID. Unused for UDP
	// destinations, which are addressed by Addr instead.
	EndpointID int

	PathTo    string // rewrite template; "" forwards the path unchanged
	Transform Transform

	// Script, when true, sends the matched message to the Script
	// Evaluator (naming the script by ScriptText) instead of a network
	// destination; PathTo/Transform are ignored, and each message the
	// script returns is sent to this destination's Addr (or EndpointID)
	// like any other forward.
	Script     bool
	ScriptText string
}

// TcpEndpoint names a persistent TCP client or server connection a route's
// destination can target by index, so multiple routes can share one socket.
type TcpEndpoint struct {
	ID          int
	Protocol    Protocol // ProtocolTCPClient or ProtocolTCPServer
	Addr        addr.Address
	FrameMode   transport.FrameMode
	ReconnectMs int
}

// Route binds one source to one destination.
type Route struct {
	ID          int
	Enabled     bool
	Source      RouteSource
	Destination RouteDestination
}
