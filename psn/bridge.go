package psn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/etcaddy/oscrouter/osc"
)

// fieldName identifies one of the tracker fields the OSC<->PSN adapter
// recognizes in a "/psn/<id>/<field>" path.
type fieldName string

const (
	fieldPos    fieldName = "pos"
	fieldSpeed  fieldName = "speed"
	fieldOri    fieldName = "orientation"
	fieldAccel  fieldName = "acceleration"
	fieldTarget fieldName = "target"
	fieldStatus fieldName = "status"
	fieldTime   fieldName = "timestamp"
)

// SynthesizeOSC implements the Dispatcher's PSN-inbound unfolding: for
// every tracker in frame, it emits one OSC message per set field at
// "/psn/<id>/<field>", plus one "unified" message per tracker concatenating
// every set field's name and values into a single path and argument list.
func SynthesizeOSC(frame *Frame) []osc.Packet {
	var out []osc.Packet
	for id, t := range frame.Trackers {
		var unifiedPath strings.Builder
		var unifiedArgs []interface{}
		fmt.Fprintf(&unifiedPath, "/psn/%d", id)

		emit := func(name fieldName, args ...interface{}) {
			out = append(out, rawPacket(fmt.Sprintf("/psn/%d/%s", id, name), args))
			unifiedPath.WriteByte('/')
			unifiedPath.WriteString(string(name))
			unifiedArgs = append(unifiedArgs, args...)
		}

		if t.HasPos {
			emit(fieldPos, t.Pos.X, t.Pos.Y, t.Pos.Z)
		}
		if t.HasSpeed {
			emit(fieldSpeed, t.Speed.X, t.Speed.Y, t.Speed.Z)
		}
		if t.HasOri {
			emit(fieldOri, t.Ori.X, t.Ori.Y, t.Ori.Z)
		}
		if t.HasAccel {
			emit(fieldAccel, t.Accel.X, t.Accel.Y, t.Accel.Z)
		}
		if t.HasTargetPos {
			emit(fieldTarget, t.TargetPos.X, t.TargetPos.Y, t.TargetPos.Z)
		}
		if t.HasStatus {
			emit(fieldStatus, t.Status)
		}
		if t.HasTimestamp {
			emit(fieldTime, int64(t.Timestamp))
		}

		if len(unifiedArgs) > 0 {
			out = append(out, rawPacket(unifiedPath.String(), unifiedArgs))
		}
	}
	return out
}

func rawPacket(address string, args []interface{}) osc.Packet {
	b := osc.NewBuilder(address)
	for _, a := range args {
		b.AddRaw(a)
	}
	// Build never fails for primitive args the codec accepts; rawPacket is
	// only fed float32/int64 values produced above.
	frame, _ := b.Build()
	pkt, _ := osc.ParseMessage(frame)
	return pkt
}

// TrackerFromOSC implements the outbound OSC->PSN adapter (C9): it parses a
// "/psn/<id>/<field1>/<field2>/..." path, pulling arguments from args in
// order to populate the named fields of a single Tracker. Unrecognized
// field names are skipped without consuming an argument, per the adapter's
// contract. An error is returned only when the path's tracker id cannot be
// parsed.
func TrackerFromOSC(address string, args []osc.Arg) (*Tracker, error) {
	parts := strings.Split(strings.TrimPrefix(address, "/"), "/")
	if len(parts) < 2 || parts[0] != "psn" {
		return nil, fmt.Errorf("psn: %q is not a /psn/<id>/... path", address)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("psn: invalid tracker id in %q: %w", address, err)
	}

	t := &Tracker{ID: id}
	i := 0
	next := func() (osc.Arg, bool) {
		if i >= len(args) {
			return osc.Arg{}, false
		}
		a := args[i]
		i++
		return a, true
	}
	nextVec3 := func() (Vec3, bool) {
		var v Vec3
		x, ok := next()
		if !ok {
			return v, false
		}
		y, ok := next()
		if !ok {
			return v, false
		}
		z, ok := next()
		if !ok {
			return v, false
		}
		v.X, _ = x.AsF32()
		v.Y, _ = y.AsF32()
		v.Z, _ = z.AsF32()
		return v, true
	}

	for _, raw := range parts[2:] {
		switch fieldName(raw) {
		case fieldPos:
			if v, ok := nextVec3(); ok {
				t.Pos, t.HasPos = v, true
			}
		case fieldSpeed:
			if v, ok := nextVec3(); ok {
				t.Speed, t.HasSpeed = v, true
			}
		case fieldOri:
			if v, ok := nextVec3(); ok {
				t.Ori, t.HasOri = v, true
			}
		case fieldAccel:
			if v, ok := nextVec3(); ok {
				t.Accel, t.HasAccel = v, true
			}
		case fieldTarget:
			if v, ok := nextVec3(); ok {
				t.TargetPos, t.HasTargetPos = v, true
			}
		case fieldStatus:
			if a, ok := next(); ok {
				t.Status, _ = a.AsF32()
				t.HasStatus = true
			}
		case fieldTime:
			if a, ok := next(); ok {
				t.Timestamp, _ = a.AsU64()
				t.HasTimestamp = true
			}
		}
	}

	return t, nil
}
