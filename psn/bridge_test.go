package psn

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/etcaddy/oscrouter/osc"
)

func TestSynthesizeOSCEmitsPerFieldAndUnified(t *testing.T) {
	frame := &Frame{Trackers: map[uint16]*Tracker{
		7: {ID: 7, Pos: Vec3{X: 1, Y: 2, Z: 3}, HasPos: true},
	}}

	packets := SynthesizeOSC(frame)

	var sawPerField, sawUnified bool
	for _, pkt := range packets {
		if pkt.Address == "/psn/7/pos" {
			args := mustArgs(t, pkt)
			if len(args) != 3 {
				t.Fatalf("per-field /psn/7/pos args = %v, want 3", args)
			}
			sawPerField = true
			sawUnified = true // only one field set, so the unified path equals the per-field path
		}
	}
	if !sawPerField || !sawUnified {
		t.Fatalf("expected per-field and unified messages for tracker 7, got %+v", packets)
	}
}

func TestSynthesizeOSCMultiFieldUnifiedConcatenatesPath(t *testing.T) {
	frame := &Frame{Trackers: map[uint16]*Tracker{
		3: {
			ID: 3,
			Pos: Vec3{X: 1, Y: 1, Z: 1}, HasPos: true,
			Status: 9, HasStatus: true,
		},
	}}

	packets := SynthesizeOSC(frame)

	addrs := make(map[string]int)
	for _, pkt := range packets {
		addrs[pkt.Address] = len(pkt.Args)
	}
	if addrs["/psn/3/pos"] != 3 {
		t.Errorf("per-field pos args = %d, want 3", addrs["/psn/3/pos"])
	}
	if addrs["/psn/3/status"] != 1 {
		t.Errorf("per-field status args = %d, want 1", addrs["/psn/3/status"])
	}
	if n, ok := addrs["/psn/3/pos/status"]; !ok || n != 4 {
		t.Errorf("unified message = (%d, %v), want 4 args present", n, ok)
	}
}

func TestSynthesizeOSCDropsUnsetFields(t *testing.T) {
	frame := &Frame{Trackers: map[uint16]*Tracker{9: {ID: 9}}}
	if packets := SynthesizeOSC(frame); len(packets) != 0 {
		t.Errorf("expected no messages for a tracker with no set fields, got %+v", packets)
	}
}

func TestTrackerFromOSCParsesPosPath(t *testing.T) {
	pkt := mustBuild(t, "/psn/7/pos", float32(1), float32(2), float32(3))
	tracker, err := TrackerFromOSC(pkt.Address, pkt.Args)
	if err != nil {
		t.Fatalf("TrackerFromOSC: %v", err)
	}
	want := &Tracker{ID: 7, Pos: Vec3{1, 2, 3}, HasPos: true}
	if diff := cmp.Diff(want, tracker); diff != "" {
		t.Errorf("TrackerFromOSC mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackerFromOSCSkipsUnrecognizedFieldWithoutConsumingArgs(t *testing.T) {
	pkt := mustBuild(t, "/psn/1/bogus/status", float32(5))
	tracker, err := TrackerFromOSC(pkt.Address, pkt.Args)
	if err != nil {
		t.Fatalf("TrackerFromOSC: %v", err)
	}
	if !tracker.HasStatus || tracker.Status != 5 {
		t.Errorf("expected status field to consume the only argument, got %+v", tracker)
	}
}

func TestTrackerFromOSCRejectsNonPSNPath(t *testing.T) {
	pkt := mustBuild(t, "/not/psn")
	if _, err := TrackerFromOSC(pkt.Address, pkt.Args); err == nil {
		t.Error("expected error for a non-/psn/<id> path")
	}
}

func TestOutboundRoundTripThroughEncode(t *testing.T) {
	pkt := mustBuild(t, "/psn/7/pos", float32(1), float32(2), float32(3))
	tracker, err := TrackerFromOSC(pkt.Address, pkt.Args)
	if err != nil {
		t.Fatalf("TrackerFromOSC: %v", err)
	}

	data, err := Encode(map[uint16]*Tracker{uint16(tracker.ID): tracker}, 0, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := frame.Trackers[7]
	if got == nil || !got.HasPos || got.Pos != (Vec3{1, 2, 3}) {
		t.Errorf("round-tripped tracker = %+v", got)
	}
}

func mustBuild(t *testing.T, address string, args ...interface{}) osc.Packet {
	t.Helper()
	b := osc.NewBuilder(address)
	for _, a := range args {
		b.AddRaw(a)
	}
	frame, err := b.Build()
	if err != nil {
		t.Fatalf("build %s: %v", address, err)
	}
	pkt, err := osc.ParseMessage(frame)
	if err != nil {
		t.Fatalf("parse %s: %v", address, err)
	}
	return pkt
}

func mustArgs(t *testing.T, pkt osc.Packet) []osc.Arg {
	t.Helper()
	return pkt.Args
}
