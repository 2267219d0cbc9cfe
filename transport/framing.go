package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	slipEnd     = 0xC0
	slipEsc     = 0xDB
	slipEscEnd  = 0xDC
	slipEscEsc  = 0xDD
)

// EncodeSLIP wraps frame in RFC 1055 SLIP framing, as OSC 1.1 TCP streams
// use: escape any END/ESC byte in the payload, then terminate with END.
func EncodeSLIP(frame []byte) []byte {
	out := make([]byte, 0, len(frame)+2)
	for _, b := range frame {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, slipEnd)
	return out
}

// SLIPReader decodes a stream of SLIP-framed packets from r, one ReadFrame
// call per decoded frame.
type SLIPReader struct {
	r *bufio.Reader
}

// NewSLIPReader wraps r for SLIP frame decoding.
func NewSLIPReader(r io.Reader) *SLIPReader {
	return &SLIPReader{r: bufio.NewReaderSize(r, 8192)}
}

// ReadFrame blocks until one full SLIP frame has been read and unescaped,
// or returns the underlying read error (including io.EOF on close).
func (s *SLIPReader) ReadFrame() ([]byte, error) {
	var out []byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case slipEnd:
			if len(out) == 0 {
				continue // leading END bytes between frames are ignored
			}
			return out, nil
		case slipEsc:
			nb, err := s.r.ReadByte()
			if err != nil {
				return nil, err
			}
			switch nb {
			case slipEscEnd:
				out = append(out, slipEnd)
			case slipEscEsc:
				out = append(out, slipEsc)
			default:
				return nil, fmt.Errorf("transport: invalid SLIP escape byte %#x", nb)
			}
		default:
			out = append(out, b)
		}
	}
}

// LengthPrefixReader decodes the OSC 1.0 TCP framing: a big-endian u32
// byte-length header followed by that many bytes of OSC packet.
type LengthPrefixReader struct {
	r         *bufio.Reader
	maxLength uint32
}

// NewLengthPrefixReader wraps r for length-prefixed frame decoding.
// maxLength bounds a single frame's declared size; a header claiming more
// is treated as a protocol error rather than an allocation of that size.
func NewLengthPrefixReader(r io.Reader, maxLength uint32) *LengthPrefixReader {
	if maxLength == 0 {
		maxLength = 16 * 1024 * 1024
	}
	return &LengthPrefixReader{r: bufio.NewReaderSize(r, 8192), maxLength: maxLength}
}

// ReadFrame reads one length-prefixed frame.
func (l *LengthPrefixReader) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(l.r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > l.maxLength {
		return nil, errFrameTooLarge(n, l.maxLength)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(l.r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func errFrameTooLarge(n, max uint32) error {
	return fmt.Errorf("transport: frame length %d exceeds max %d", n, max)
}

// EncodeLengthPrefix prepends the big-endian u32 length header OSC 1.0 TCP
// framing requires.
func EncodeLengthPrefix(frame []byte) []byte {
	out := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(out[:4], uint32(len(frame)))
	copy(out[4:], frame)
	return out
}

// FrameReader is the common contract TCP Client/Server read loops use,
// satisfied by both SLIPReader and LengthPrefixReader.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// NewFrameReader returns the FrameReader for mode reading from r.
func NewFrameReader(mode FrameMode, r io.Reader) FrameReader {
	if mode == FrameModeSLIP {
		return NewSLIPReader(r)
	}
	return NewLengthPrefixReader(r, 0)
}

// EncodeFrame wraps frame for mode's wire framing.
func EncodeFrame(mode FrameMode, frame []byte) []byte {
	if mode == FrameModeSLIP {
		return EncodeSLIP(frame)
	}
	return EncodeLengthPrefix(frame)
}

// FrameMode selects SLIP (OSC 1.1) or length-prefix (OSC 1.0) TCP framing.
type FrameMode int

const (
	FrameModeOSC10 FrameMode = iota
	FrameModeSLIP
)
