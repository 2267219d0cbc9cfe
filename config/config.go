// Package config loads the route set, TCP endpoint list, and process
// bootstrap settings from a YAML file, validates them, and exposes a
// thread-safe handle a running Supervisor can be reconfigured from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/etcaddy/oscrouter/addr"
	"github.com/etcaddy/oscrouter/routing"
	"github.com/etcaddy/oscrouter/transport"
)

// configSchema is the structural contract a configuration file must satisfy
// before it is converted into routes and endpoints: it catches a malformed
// file (wrong field types, a route missing its source port) before any of
// the per-field conversion in route()/endpoint() runs.
const configSchema = `{
	"type": "object",
	"properties": {
		"bootstrap": {"type": "object"},
		"routes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "src_port", "dst_protocol"],
				"properties": {
					"id": {"type": "integer"},
					"src_port": {"type": "integer", "minimum": 0, "maximum": 65535},
					"dst_port": {"type": "integer", "minimum": 0, "maximum": 65535}
				}
			}
		},
		"endpoints": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "protocol", "port"],
				"properties": {
					"id": {"type": "integer"},
					"port": {"type": "integer", "minimum": 0, "maximum": 65535}
				}
			}
		}
	}
}`

// validate converts data (a parsed YAML document) to JSON and checks it
// against configSchema, returning every violation joined into one error.
func validate(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: parse for validation: %w", err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: re-marshal for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(asJSON),
	)
	if err != nil {
		return fmt.Errorf("config: schema validation: %w", err)
	}
	if !result.Valid() {
		var msg strings.Builder
		msg.WriteString("config: schema violations:")
		for _, e := range result.Errors() {
			fmt.Fprintf(&msg, "\n  - %s: %s", e.Field(), e.Description())
		}
		return fmt.Errorf("%s", msg.String())
	}
	return nil
}

// Config is the on-disk shape of an OSCRouter configuration file.
type Config struct {
	Bootstrap    Bootstrap      `yaml:"bootstrap"`
	RouteDefs    []RouteYAML    `yaml:"routes"`
	EndpointDefs []EndpointYAML `yaml:"endpoints"`
}

// Bootstrap holds process-level settings that don't belong to any single
// route: where to serve status/health/metrics, how verbose to log, and
// where to publish mirrored events.
type Bootstrap struct {
	LogLevel     string `yaml:"log_level"`    // debug, info, warn, error
	StatusAddr   string `yaml:"status_addr"`  // e.g. ":8080"
	NATSUrl      string `yaml:"nats_url"`     // empty disables eventbus publishing
	EventSubject string `yaml:"event_subject"` // subject prefix for mirrored events
	LogHistory   int    `yaml:"log_history"`  // ring buffer capacity for the log aggregator
}

// RouteYAML is the YAML-friendly representation of a routing.Route. Protocol
// and IP fields are strings on the wire and converted by Route().
type RouteYAML struct {
	ID          int         `yaml:"id"`
	Enabled     *bool       `yaml:"enabled"` // nil defaults to true
	SrcProtocol string      `yaml:"src_protocol"`
	SrcPort     uint16      `yaml:"src_port"`
	SrcIP       string      `yaml:"src_ip"`
	MulticastIP string      `yaml:"multicast_ip"`
	PathFrom    string      `yaml:"path_from"`
	DstProtocol string      `yaml:"dst_protocol"`
	DstIP       string      `yaml:"dst_ip"`
	DstPort     uint16      `yaml:"dst_port"`
	DstEndpoint int         `yaml:"dst_endpoint_id"` // required when dst_protocol is tcp-client or tcp-server
	PathTo      string      `yaml:"path_to"`
	Script      string      `yaml:"script,omitempty"`
	Transform   *Transform  `yaml:"transform,omitempty"`
}

// Transform is the YAML-friendly representation of routing.Transform: a
// bound is active only when its pointer is non-nil.
type Transform struct {
	InMin  *float32 `yaml:"in_min,omitempty"`
	InMax  *float32 `yaml:"in_max,omitempty"`
	OutMin *float32 `yaml:"out_min,omitempty"`
	OutMax *float32 `yaml:"out_max,omitempty"`
}

// EndpointYAML is the YAML-friendly representation of a routing.TcpEndpoint.
type EndpointYAML struct {
	ID          int    `yaml:"id"`
	Protocol    string `yaml:"protocol"` // tcp-client or tcp-server
	IP          string `yaml:"ip"`
	Port        uint16 `yaml:"port"`
	Frame       string `yaml:"frame"` // osc1.0 (length-prefix) or slip (osc1.1)
	ReconnectMs int    `yaml:"reconnect_ms"`
}

// Load reads and parses path, returning an error wrapping the underlying
// I/O or YAML failure.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := validate(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Routes converts every RouteYAML entry to a routing.Route. Routes whose
// source port is 0 are kept here; the Routing Index's Build drops them (the
// data model's port-zero rule) and enforces the duplicate-(src,dst) rule. A route
// whose dst_protocol is tcp-client or tcp-server must name, via
// dst_endpoint_id, an endpoint of that same protocol declared in
// c.EndpointDefs -- RouteDestination.EndpointID and TcpEndpoint.ID are
// otherwise two unrelated numbering spaces, and nothing else ties a route
// to the socket it should forward through.
func (c *Config) Routes() ([]*routing.Route, error) {
	endpointProtocols := make(map[int]routing.Protocol, len(c.EndpointDefs))
	for _, e := range c.EndpointDefs {
		proto, err := parseProtocol(e.Protocol)
		if err == nil {
			endpointProtocols[e.ID] = proto
		}
	}

	out := make([]*routing.Route, 0, len(c.RouteDefs))
	for _, r := range c.RouteDefs {
		route, err := r.route()
		if err != nil {
			return nil, fmt.Errorf("config: route %d: %w", r.ID, err)
		}
		if dp := route.Destination.Protocol; dp == routing.ProtocolTCPClient || dp == routing.ProtocolTCPServer {
			proto, ok := endpointProtocols[r.DstEndpoint]
			if !ok {
				return nil, fmt.Errorf("config: route %d: dst_endpoint_id %d names no declared endpoint", r.ID, r.DstEndpoint)
			}
			if proto != dp {
				return nil, fmt.Errorf("config: route %d: dst_endpoint_id %d is a %s endpoint, not %s", r.ID, r.DstEndpoint, proto, dp)
			}
		}
		out = append(out, route)
	}
	return out, nil
}

// Endpoints converts every EndpointYAML entry to a routing.TcpEndpoint.
func (c *Config) Endpoints() ([]routing.TcpEndpoint, error) {
	out := make([]routing.TcpEndpoint, 0, len(c.EndpointDefs))
	for _, e := range c.EndpointDefs {
		ep, err := e.endpoint()
		if err != nil {
			return nil, fmt.Errorf("config: endpoint %d: %w", e.ID, err)
		}
		out = append(out, ep)
	}
	return out, nil
}

func (r RouteYAML) route() (*routing.Route, error) {
	srcProto, err := parseProtocol(r.SrcProtocol)
	if err != nil {
		return nil, fmt.Errorf("src_protocol: %w", err)
	}
	dstProto, err := parseProtocol(r.DstProtocol)
	if err != nil {
		return nil, fmt.Errorf("dst_protocol: %w", err)
	}

	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	route := &routing.Route{
		ID:      r.ID,
		Enabled: enabled,
		Source: routing.RouteSource{
			Protocol:    srcProto,
			Port:        r.SrcPort,
			SourceIP:    r.SrcIP,
			MulticastIP: r.MulticastIP,
			PathFrom:    r.PathFrom,
		},
		Destination: routing.RouteDestination{
			Protocol:   dstProto,
			Addr:       addr.New(r.DstIP, r.DstPort),
			EndpointID: r.DstEndpoint,
			PathTo:     r.PathTo,
			Script:     r.Script != "",
			ScriptText: r.Script,
		},
	}
	if r.Transform != nil {
		route.Destination.Transform = r.Transform.transform()
	}
	return route, nil
}

func (t Transform) transform() routing.Transform {
	out := routing.Transform{Enabled: true}
	if t.InMin != nil {
		out.InMinEnabled, out.InMin = true, *t.InMin
	}
	if t.InMax != nil {
		out.InMaxEnabled, out.InMax = true, *t.InMax
	}
	if t.OutMin != nil {
		out.OutMinEnabled, out.OutMin = true, *t.OutMin
	}
	if t.OutMax != nil {
		out.OutMaxEnabled, out.OutMax = true, *t.OutMax
	}
	return out
}

func (e EndpointYAML) endpoint() (routing.TcpEndpoint, error) {
	proto, err := parseProtocol(e.Protocol)
	if err != nil {
		return routing.TcpEndpoint{}, err
	}
	if proto != routing.ProtocolTCPClient && proto != routing.ProtocolTCPServer {
		return routing.TcpEndpoint{}, fmt.Errorf("protocol %q is not a tcp endpoint type", e.Protocol)
	}
	frame, err := parseFrameMode(e.Frame)
	if err != nil {
		return routing.TcpEndpoint{}, err
	}
	return routing.TcpEndpoint{
		ID:          e.ID,
		Protocol:    proto,
		Addr:        addr.New(e.IP, e.Port),
		FrameMode:   frame,
		ReconnectMs: e.ReconnectMs,
	}, nil
}

func parseProtocol(s string) (routing.Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp", "":
		return routing.ProtocolUDP, nil
	case "tcp-client", "tcp_client":
		return routing.ProtocolTCPClient, nil
	case "tcp-server", "tcp_server":
		return routing.ProtocolTCPServer, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func parseFrameMode(s string) (transport.FrameMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "osc1.0", "osc10", "length-prefix":
		return transport.FrameModeOSC10, nil
	case "osc1.1", "osc11", "slip":
		return transport.FrameModeSLIP, nil
	default:
		return 0, fmt.Errorf("unknown frame mode %q", s)
	}
}

// SafeConfig is a thread-safe holder for the currently active Config, so a
// file-watch reload can swap configuration while the Supervisor is reading
// the previous one.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps cfg (which may be nil) for concurrent access.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{cfg: cfg}
}

// Get returns the currently active Config.
func (s *SafeConfig) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the active Config, for use after a successful reload.
func (s *SafeConfig) Set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
