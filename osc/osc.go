// Package osc adapts github.com/chabad360/go-osc's wire-format codec to the
// parser/writer contract the dispatcher needs: bundle/message detection,
// address extraction, and a typed Arg accessor that covers the full set of
// OSC 1.0/1.1 argument tags the engine is expected to recognize.
package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	goosc "github.com/chabad360/go-osc/osc"
)

// Tag identifies the wire type of a decoded OSC argument.
type Tag byte

const (
	TagInt32     Tag = 'i'
	TagInt64     Tag = 'h'
	TagFloat32   Tag = 'f'
	TagFloat64   Tag = 'd'
	TagString    Tag = 's'
	TagBlob      Tag = 'b'
	TagTimeTag   Tag = 't'
	TagTrue      Tag = 'T'
	TagFalse     Tag = 'F'
	TagNil       Tag = 'N'
	TagInfinity  Tag = 'I'
	TagRGBA32    Tag = 'r'
	TagMIDI      Tag = 'm'
	TagUnknown   Tag = 0
)

// Arg wraps a single decoded OSC argument and exposes the coercions the
// dispatcher's transform and path-rewrite logic need.
type Arg struct {
	tag   Tag
	value interface{}
}

// ArgOf wraps a raw decoded value (as produced by go-osc) into an Arg.
func ArgOf(v interface{}) Arg {
	switch t := v.(type) {
	case int32:
		return Arg{tag: TagInt32, value: t}
	case int64:
		return Arg{tag: TagInt64, value: t}
	case float32:
		return Arg{tag: TagFloat32, value: t}
	case float64:
		return Arg{tag: TagFloat64, value: t}
	case string:
		return Arg{tag: TagString, value: t}
	case []byte:
		return Arg{tag: TagBlob, value: t}
	case bool:
		if t {
			return Arg{tag: TagTrue, value: t}
		}
		return Arg{tag: TagFalse, value: t}
	case nil:
		return Arg{tag: TagNil, value: nil}
	case goosc.Timetag:
		return Arg{tag: TagTimeTag, value: uint64(t.TimeTag())}
	default:
		return Arg{tag: TagUnknown, value: v}
	}
}

// Tag reports the argument's OSC type tag.
func (a Arg) Tag() Tag { return a.tag }

// AsF32 coerces the argument to a float32. Integers and strings parseable as
// numbers are accepted, matching the leniency the transform stage needs when
// clipping/scaling the first argument of an arbitrary inbound message.
func (a Arg) AsF32() (float32, bool) {
	switch v := a.value.(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	case int32:
		return float32(v), true
	case int64:
		return float32(v), true
	case string:
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return 0, false
		}
		return float32(f), true
	default:
		return 0, false
	}
}

// AsI32 coerces the argument to an int32.
func (a Arg) AsI32() (int32, bool) {
	switch v := a.value.(type) {
	case int32:
		return v, true
	case int64:
		return int32(v), true
	case float32:
		return int32(v), true
	case float64:
		return int32(v), true
	default:
		return 0, false
	}
}

// AsU64 coerces the argument to a uint64, used for PSN timestamp arguments.
func (a Arg) AsU64() (uint64, bool) {
	switch v := a.value.(type) {
	case int64:
		return uint64(v), true
	case int32:
		return uint64(v), true
	case uint64:
		return v, true
	default:
		return 0, false
	}
}

// AsString renders the argument as a string, used by path rewriting's %N
// argument substitution (spec §4.6.3) and by the "=literal" destination path
// form.
func (a Arg) AsString() (string, bool) {
	switch v := a.value.(type) {
	case string:
		return v, true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// AsBool coerces the argument to a bool.
func (a Arg) AsBool() (bool, bool) {
	switch a.tag {
	case TagTrue:
		return true, true
	case TagFalse:
		return false, true
	default:
		b, ok := a.value.(bool)
		return b, ok
	}
}

// Raw returns the underlying decoded value, for code that wants the native
// Go representation go-osc produced.
func (a Arg) Raw() interface{} { return a.value }

// IsBundlePacket reports whether data begins with the OSC bundle marker
// "#bundle\x00".
func IsBundlePacket(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:7], []byte("#bundle")) && data[7] == 0
}

// IsOSCPacket reports whether data is a valid OSC packet: either a bundle or
// a message whose address starts with '/' and is NUL-terminated. Non-OSC
// bytes (a raw PSN datagram, or unrelated junk) return false; the
// dispatcher then tries to decode them as PSN and routes whatever is
// neither only through "no-path" rules.
func IsOSCPacket(data []byte) bool {
	if IsBundlePacket(data) {
		return true
	}
	if len(data) == 0 || data[0] != '/' {
		return false
	}
	nul := bytes.IndexByte(data, 0)
	return nul > 0
}

// GetAddress extracts the NUL-terminated address string from a message
// packet. Returns "" if data is not an OSC message.
func GetAddress(data []byte) string {
	if len(data) == 0 || data[0] != '/' {
		return ""
	}
	nul := bytes.IndexByte(data, 0)
	if nul <= 0 {
		return ""
	}
	return string(data[:nul])
}

// Packet is a decoded OSC message: an address plus its typed argument list.
type Packet struct {
	Address string
	Args    []Arg
}

// ParseMessage decodes a single (non-bundle) OSC message.
func ParseMessage(data []byte) (Packet, error) {
	msg, err := goosc.NewMessageFromData(data)
	if err != nil {
		return Packet{}, fmt.Errorf("osc: parse message: %w", err)
	}
	args := make([]Arg, len(msg.Arguments))
	for i, raw := range msg.Arguments {
		args[i] = ArgOf(raw)
	}
	return Packet{Address: msg.Address, Args: args}, nil
}

// ParseBundle explodes an OSC bundle into its inner packets, recursing
// through nested bundles so the dispatcher only ever sees flat messages
// (spec §4.6 bundle split, "C7 OSC Bundle Demultiplexer").
func ParseBundle(data []byte) ([]Packet, error) {
	bundle, err := goosc.NewBundleFromData(data)
	if err != nil {
		return nil, fmt.Errorf("osc: parse bundle: %w", err)
	}
	var out []Packet
	if err := flattenBundle(bundle, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenBundle(b *goosc.Bundle, out *[]Packet) error {
	for _, elem := range b.Elements {
		switch p := elem.(type) {
		case *goosc.Message:
			args := make([]Arg, len(p.Arguments))
			for i, raw := range p.Arguments {
				args[i] = ArgOf(raw)
			}
			*out = append(*out, Packet{Address: p.Address, Args: args})
		case *goosc.Bundle:
			if err := flattenBundle(p, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Builder constructs an outbound OSC message incrementally, mirroring the
// collaborator contract's "new(address) -> builder" writer.
type Builder struct {
	address string
	args    []interface{}
}

// NewBuilder starts a new message builder for address.
func NewBuilder(address string) *Builder {
	return &Builder{address: address}
}

func (b *Builder) AddBool(v bool) *Builder        { b.args = append(b.args, v); return b }
func (b *Builder) AddInt32(v int32) *Builder      { b.args = append(b.args, v); return b }
func (b *Builder) AddFloat32(v float32) *Builder  { b.args = append(b.args, v); return b }
func (b *Builder) AddUint64(v uint64) *Builder    { b.args = append(b.args, int64(v)); return b }
func (b *Builder) AddString(v string) *Builder    { b.args = append(b.args, v); return b }

// AddRaw appends a value of any type the go-osc encoder accepts, used to
// forward a Script Evaluator's untyped argument list.
func (b *Builder) AddRaw(v interface{}) *Builder { b.args = append(b.args, v); return b }

// AddArgList appends a full Arg list as-is (used when forwarding A
// unchanged, per §4.6.1).
func (b *Builder) AddArgList(args []Arg) *Builder {
	for _, a := range args {
		b.args = append(b.args, a.Raw())
	}
	return b
}

// Build serializes the message to OSC wire bytes.
func (b *Builder) Build() ([]byte, error) {
	msg := goosc.NewMessage(b.address, b.args...)
	return msg.MarshalBinary()
}

// EncodeUint32BE writes the big-endian OSC 1.0 TCP length-prefix header.
func EncodeUint32BE(n uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, n)
	return buf
}
