// Package dispatch implements the Dispatcher (C6): for every inbound
// packet it demultiplexes OSC bundles, matches the result against the
// Routing Index, applies each matched route's path rewrite and numeric
// transform, and hands the outbound message to a Forwarder. A decoded PSN
// datagram is unfolded into OSC messages that go through the same route
// matching, rewrite and transform; bytes that are neither OSC nor PSN are
// forwarded unchanged, only on routes with an empty source path.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/etcaddy/oscrouter/addr"
	"github.com/etcaddy/oscrouter/logfeed"
	"github.com/etcaddy/oscrouter/osc"
	"github.com/etcaddy/oscrouter/pkg/timestamp"
	"github.com/etcaddy/oscrouter/psn"
	"github.com/etcaddy/oscrouter/routing"
	"github.com/etcaddy/oscrouter/script"
	"github.com/etcaddy/oscrouter/status"
)

// Forwarder delivers an outbound frame to one destination, resolved by the
// transport the Supervisor wired up for that route's destination.
type Forwarder interface {
	ForwardUDP(dest addr.Address, frame []byte) error
	ForwardTCP(endpointID int, frame []byte) error
}

// Dispatcher is the engine's central routing stage.
type Dispatcher struct {
	index     *routing.Index
	forwarder Forwarder
	logs      *logfeed.Aggregator
	statusTbl *status.Table
	evaluator script.Evaluator
	clock     *timestamp.Clock

	mu           sync.Mutex
	lastPSNFrame map[string]uint8 // "port:srcIP" -> last seen PSN frame id, for duplicate-retransmission drop
}

// New constructs a Dispatcher over index, delivering matched output through
// forwarder. A nil evaluator disables routes with a script destination; the
// Supervisor passes script.NoOp{} when no real scripting backend is wired.
// The Dispatcher reads PSN fallback timestamps from the process-wide
// monotonic Clock (timestamp.Default), so a wall-clock jump never perturbs
// them.
func New(index *routing.Index, forwarder Forwarder, logs *logfeed.Aggregator, statusTbl *status.Table, evaluator script.Evaluator) *Dispatcher {
	if evaluator == nil {
		evaluator = script.NoOp{}
	}
	return &Dispatcher{
		index: index, forwarder: forwarder, logs: logs, statusTbl: statusTbl, evaluator: evaluator,
		clock:        timestamp.Default(),
		lastPSNFrame: make(map[string]uint8),
	}
}

// HandlePacket is the Handler the Supervisor wires every UDP Listener, TCP
// Client, and TCP Server to. It classifies data as OSC, PSN, or opaque,
// and drives each resulting unit through route matching.
func (d *Dispatcher) HandlePacket(port uint16, srcIP string, data []byte) {
	println("DEBUG HandlePacket port=", int(port), "len=", len(data))
	d.statusTbl.Update(statusKeyIn(port), func(e status.Entry) status.Entry {
		e.Kind = "udp-in"
		e.PacketsIn++
		return e
	})

	switch {
	case osc.IsBundlePacket(data):
		packets, err := osc.ParseBundle(data)
		if err != nil {
			d.logs.Warnf("dispatcher", "malformed OSC bundle from %s:%d: %v", srcIP, port, err)
			return
		}
		for _, pkt := range packets {
			d.dispatchOSC(port, srcIP, pkt)
		}
	case osc.IsOSCPacket(data):
		pkt, err := osc.ParseMessage(data)
		if err != nil {
			d.logs.Warnf("dispatcher", "malformed OSC message from %s:%d: %v", srcIP, port, err)
			return
		}
		d.dispatchOSC(port, srcIP, pkt)
	default:
		if frame, err := psn.Decode(data); err == nil {
			d.dispatchPSN(port, srcIP, frame)
			return
		}
		d.dispatchOpaque(port, srcIP, data)
	}
}

func statusKeyIn(port uint16) string {
	return "udp-in:" + addr.New("", port).String()
}

func (d *Dispatcher) dispatchOSC(port uint16, srcIP string, pkt osc.Packet) {
	routes := d.index.Match(port, srcIP, pkt.Address)
	if len(routes) == 0 {
		return
	}

	argStrings := make([]string, len(pkt.Args))
	for i, a := range pkt.Args {
		s, _ := a.AsString()
		argStrings[i] = s
	}

	for _, route := range routes {
		d.forwardOSC(route, srcIP, port, pkt, argStrings)
	}
}

func (d *Dispatcher) forwardOSC(route *routing.Route, srcIP string, srcPort uint16, pkt osc.Packet, argStrings []string) {
	dest := route.Destination

	if dest.Script {
		d.forwardScript(route, pkt)
		return
	}

	outAddress := pkt.Address
	args := pkt.Args
	literalArg, hasLiteral := "", false

	if dest.PathTo != "" {
		rewritten, err := routing.Rewrite(pkt.Address, dest.PathTo, argStrings)
		if err != nil {
			d.logs.Warnf("dispatcher", "invalid replacement index for route %d: %v", route.ID, err)
			return
		}
		if addrPart, lit, ok := splitLiteralArg(rewritten); ok {
			outAddress, literalArg, hasLiteral = addrPart, lit, true
		} else {
			outAddress = rewritten
		}
	}

	builder := osc.NewBuilder(outAddress)
	switch {
	case hasLiteral:
		// A "path=literal" template produces a single string-argument
		// packet; it is not a candidate for numeric transform.
		builder.AddString(literalArg)
	case dest.Transform.Enabled:
		// Per the engine's transform contract, a transformed message carries
		// only the transformed first argument; any remaining arguments are
		// dropped rather than forwarded unchanged.
		if len(args) > 0 {
			if v, ok := args[0].AsF32(); ok {
				builder.AddFloat32(dest.Transform.Apply(v))
			}
		}
	default:
		builder.AddArgList(args)
	}

	frame, err := builder.Build()
	if err != nil {
		d.logs.Errorf("dispatcher", "failed to build outbound message for route %d: %v", route.ID, err)
		return
	}

	if dest.Payload == routing.PayloadPSN {
		frame, err = d.encodePSN(route, frame)
		if err != nil {
			d.logs.Warnf("dispatcher", "route %d: failed to encode outbound PSN: %v", route.ID, err)
			return
		}
	}

	d.send(route, srcIP, srcPort, frame)
}

// encodePSN implements the outbound OSC->PSN adapter (C9): the OSC message
// just produced for dest is re-parsed as a "/psn/<id>/<field>/..." path and
// encoded into a single PSN datagram carrying that one tracker.
func (d *Dispatcher) encodePSN(route *routing.Route, oscFrame []byte) ([]byte, error) {
	pkt, err := osc.ParseMessage(oscFrame)
	if err != nil {
		return nil, err
	}
	tracker, err := psn.TrackerFromOSC(pkt.Address, pkt.Args)
	if err != nil {
		return nil, err
	}
	trackers := map[uint16]*psn.Tracker{uint16(tracker.ID): tracker}
	ts := tracker.Timestamp
	if !tracker.HasTimestamp {
		ts = d.clock.NowMs()
	}
	return psn.Encode(trackers, ts, 0)
}

// forwardScript sends a matched message to the Script Evaluator instead of
// a network destination, then forwards every message the script produced
// through the same route's transport.
func (d *Dispatcher) forwardScript(route *routing.Route, pkt osc.Packet) {
	args := make([]interface{}, len(pkt.Args))
	for i, a := range pkt.Args {
		args[i] = a.Raw()
	}

	results, err := d.evaluator.Eval(context.Background(), route.Destination.ScriptText, pkt.Address, args)
	if err != nil {
		d.logs.Warnf("dispatcher", "script %q failed for route %d: %v", route.Destination.ScriptText, route.ID, err)
		return
	}

	for _, msg := range results {
		builder := osc.NewBuilder(msg.Address)
		for _, arg := range msg.Args {
			builder.AddRaw(arg)
		}
		frame, err := builder.Build()
		if err != nil {
			d.logs.Errorf("dispatcher", "failed to build script output for route %d: %v", route.ID, err)
			continue
		}
		d.send(route, "", 0, frame)
	}
}

// splitLiteralArg implements the rewritten-path "=" convention: a rewrite
// result of the form "addr=literal" names an outbound message at addr
// carrying literal as its single string argument, overriding whatever
// arguments the inbound packet carried.
func splitLiteralArg(rewritten string) (addr, literal string, ok bool) {
	i := strings.IndexByte(rewritten, '=')
	if i < 0 {
		return "", "", false
	}
	return rewritten[:i], rewritten[i+1:], true
}

// dispatchPSN implements the PSN-inbound unfolding rule: a PSN datagram is
// decoded, checked against the last frame id seen on this port/source (a
// repeat is a duplicate retransmission and is dropped silently), then
// unfolded into per-field and unified OSC messages that flow through the
// normal OSC route-matching path.
func (d *Dispatcher) dispatchPSN(port uint16, srcIP string, frame *psn.Frame) {
	key := statusKeyIn(port) + ":" + srcIP
	d.mu.Lock()
	last, seen := d.lastPSNFrame[key]
	duplicate := seen && last == frame.Header.FrameID
	d.lastPSNFrame[key] = frame.Header.FrameID
	d.mu.Unlock()
	if duplicate {
		return
	}

	for _, pkt := range psn.SynthesizeOSC(frame) {
		d.dispatchOSC(port, srcIP, pkt)
	}
}

func (d *Dispatcher) dispatchOpaque(port uint16, srcIP string, data []byte) {
	routes := d.index.Match(port, srcIP, "")
	for _, route := range routes {
		d.send(route, srcIP, port, data)
	}
}

// send resolves a route's destination address against the inbound packet's
// source and hands the frame to the Forwarder. A destination port of 0
// means "reuse the inbound source port"; an empty destination IP means
// "reuse the inbound source IP" -- so a route can mirror a sender back to
// itself on a different path without naming its address up front.
func (d *Dispatcher) send(route *routing.Route, srcIP string, srcPort uint16, frame []byte) {
	dest := route.Destination

	target := dest.Addr
	if target.IsUnspecified() {
		target.IP = srcIP
	}
	if target.Port == 0 {
		target.Port = srcPort
	}

	var err error
	println("DEBUG send: target=", target.String(), "proto=", int(dest.Protocol))
	switch dest.Protocol {
	case routing.ProtocolUDP:
		err = d.forwarder.ForwardUDP(target, frame)
		println("DEBUG ForwardUDP err:", fmt.Sprint(err))
	case routing.ProtocolTCPClient, routing.ProtocolTCPServer:
		err = d.forwarder.ForwardTCP(dest.EndpointID, frame)
	}

	key := "route:" + strconv.Itoa(route.ID)
	d.statusTbl.Update(key, func(e status.Entry) status.Entry {
		e.Kind = "route"
		if err != nil {
			e.Errors++
		} else {
			e.PacketsOut++
		}
		return e
	})

	if err != nil {
		d.logs.Sendf("dispatcher", "route %d forward failed: %v", route.ID, err)
	}
}
