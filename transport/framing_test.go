package transport

import (
	"bytes"
	"testing"
)

func TestSLIPRoundTrip(t *testing.T) {
	frame := []byte{0x01, slipEnd, 0x02, slipEsc, 0x03}
	encoded := EncodeSLIP(frame)

	r := NewSLIPReader(bytes.NewReader(encoded))
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("decoded = %v, want %v", got, frame)
	}
}

func TestSLIPReaderMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeSLIP([]byte("one")))
	buf.Write(EncodeSLIP([]byte("two")))

	r := NewSLIPReader(&buf)
	first, err := r.ReadFrame()
	if err != nil || string(first) != "one" {
		t.Fatalf("first frame = %q, %v", first, err)
	}
	second, err := r.ReadFrame()
	if err != nil || string(second) != "two" {
		t.Fatalf("second frame = %q, %v", second, err)
	}
}

func TestLengthPrefixRoundTrip(t *testing.T) {
	frame := []byte("/a/b\x00\x00\x00\x00,i\x00\x00\x00\x00\x00\x2a")
	encoded := EncodeLengthPrefix(frame)

	r := NewLengthPrefixReader(bytes.NewReader(encoded), 0)
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("decoded = %v, want %v", got, frame)
	}
}

func TestLengthPrefixRejectsOversizeFrame(t *testing.T) {
	encoded := EncodeLengthPrefix(make([]byte, 100))
	r := NewLengthPrefixReader(bytes.NewReader(encoded), 10)
	if _, err := r.ReadFrame(); err == nil {
		t.Error("expected error for frame exceeding maxLength")
	}
}

func TestEncodeFrameDispatchesByMode(t *testing.T) {
	frame := []byte("hello")
	slip := EncodeFrame(FrameModeSLIP, frame)
	if slip[len(slip)-1] != slipEnd {
		t.Errorf("SLIP-encoded frame should end with END byte")
	}
	lp := EncodeFrame(FrameModeOSC10, frame)
	if len(lp) != len(frame)+4 {
		t.Errorf("length-prefixed frame should be 4 bytes longer, got %d", len(lp))
	}
}
