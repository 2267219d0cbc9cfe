// Package psn implements a PosiStageNet tracker codec: decoding PSN_DATA
// datagrams into Tracker values and encoding a tracker map back into a
// single datagram. The engine has no embedded PSN implementation to ground
// this on (see DESIGN.md); the chunk layout below follows the public PSN
// wire format -- a root chunk containing a header sub-chunk and a tracker
// list sub-chunk, each tracker identified by its own chunk id.
package psn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Chunk ids used by the PSN_DATA packet family.
const (
	chunkDataPacket    = 0x0000
	chunkDataHeader    = 0x0000
	chunkDataTrackers  = 0x0001
	trackerPos         = 0x0000
	trackerSpeed       = 0x0001
	trackerOrientation = 0x0002
	trackerStatus      = 0x0003
	trackerAccel       = 0x0004
	trackerTargetPos   = 0x0005
	trackerTimestamp   = 0x0006
)

const (
	versionHigh = 2
	versionLow  = 0
)

// DefaultPort is the canonical PSN UDP port.
const DefaultPort = 56565

// DefaultMulticastIPv4 is the canonical PSN multicast group.
const DefaultMulticastIPv4 = "236.10.10.10"

// Vec3 is a 3-component float32 vector: position, speed, orientation,
// acceleration, or target position.
type Vec3 struct {
	X, Y, Z float32
}

// Tracker is a single PSN entity's state. Each field has an accompanying
// IsSet flag because PSN frames carry only the fields that changed.
type Tracker struct {
	ID int

	Pos      Vec3
	HasPos   bool
	Speed    Vec3
	HasSpeed bool
	Ori      Vec3
	HasOri   bool
	Accel    Vec3
	HasAccel bool

	TargetPos    Vec3
	HasTargetPos bool

	Status    float32
	HasStatus bool

	Timestamp    uint64
	HasTimestamp bool
}

// Header carries the per-datagram metadata the decoder exposes.
type Header struct {
	Timestamp        uint64
	VersionHigh      uint8
	VersionLow       uint8
	FrameID          uint8
	FramePacketCount uint8
}

// Frame is one decoded PSN_DATA datagram.
type Frame struct {
	Header   Header
	Trackers map[uint16]*Tracker
}

type chunkHeader struct {
	id            uint16
	length        uint16
	hasSubchunks  bool
}

func readChunkHeader(r *bytes.Reader) (chunkHeader, error) {
	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return chunkHeader{}, err
	}
	id := binary.LittleEndian.Uint16(raw[0:2])
	lenAndFlag := binary.LittleEndian.Uint16(raw[2:4])
	return chunkHeader{
		id:           id,
		length:       lenAndFlag & 0x7FFF,
		hasSubchunks: lenAndFlag&0x8000 != 0,
	}, nil
}

func writeChunkHeader(buf *bytes.Buffer, id uint16, length uint16, hasSubchunks bool) {
	var raw [4]byte
	binary.LittleEndian.PutUint16(raw[0:2], id)
	flag := length & 0x7FFF
	if hasSubchunks {
		flag |= 0x8000
	}
	binary.LittleEndian.PutUint16(raw[2:4], flag)
	buf.Write(raw[:])
}

// Decode parses a PSN_DATA datagram into a Frame. Malformed bytes, including
// a chunk whose declared length runs past the end of the data, return an
// error. The caller (the Dispatcher) does not log that error: it forwards
// bytes that fail to decode unchanged, only on routes with no source path.
func Decode(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)
	root, err := readChunkHeader(r)
	if err != nil {
		return nil, fmt.Errorf("psn: read root chunk: %w", err)
	}
	if root.id != chunkDataPacket {
		return nil, fmt.Errorf("psn: unexpected root chunk id %#x", root.id)
	}

	frame := &Frame{Trackers: make(map[uint16]*Tracker)}

	for r.Len() > 0 {
		ch, err := readChunkHeader(r)
		if err != nil {
			break
		}
		body := make([]byte, ch.length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("psn: read chunk body: %w", err)
		}

		switch ch.id {
		case chunkDataHeader:
			if len(body) < 12 {
				return nil, fmt.Errorf("psn: header chunk too short")
			}
			frame.Header = Header{
				Timestamp:        binary.LittleEndian.Uint64(body[0:8]),
				VersionHigh:      body[8],
				VersionLow:       body[9],
				FrameID:          body[10],
				FramePacketCount: body[11],
			}
		case chunkDataTrackers:
			if err := decodeTrackers(body, frame.Trackers); err != nil {
				return nil, err
			}
		}
	}

	return frame, nil
}

func decodeTrackers(data []byte, out map[uint16]*Tracker) error {
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		ch, err := readChunkHeader(r)
		if err != nil {
			break
		}
		body := make([]byte, ch.length)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("psn: read tracker chunk: %w", err)
		}

		tracker := out[ch.id]
		if tracker == nil {
			tracker = &Tracker{ID: int(ch.id)}
			out[ch.id] = tracker
		}
		if err := decodeTrackerFields(body, tracker); err != nil {
			return err
		}
	}
	return nil
}

func decodeTrackerFields(data []byte, t *Tracker) error {
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		ch, err := readChunkHeader(r)
		if err != nil {
			break
		}
		body := make([]byte, ch.length)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("psn: read tracker field: %w", err)
		}

		switch ch.id {
		case trackerPos:
			t.Pos, t.HasPos = readVec3(body), true
		case trackerSpeed:
			t.Speed, t.HasSpeed = readVec3(body), true
		case trackerOrientation:
			t.Ori, t.HasOri = readVec3(body), true
		case trackerAccel:
			t.Accel, t.HasAccel = readVec3(body), true
		case trackerTargetPos:
			t.TargetPos, t.HasTargetPos = readVec3(body), true
		case trackerStatus:
			if len(body) >= 4 {
				t.Status = readF32(body[0:4])
				t.HasStatus = true
			}
		case trackerTimestamp:
			if len(body) >= 8 {
				t.Timestamp = binary.LittleEndian.Uint64(body[0:8])
				t.HasTimestamp = true
			}
		}
	}
	return nil
}

func readVec3(body []byte) Vec3 {
	if len(body) < 12 {
		return Vec3{}
	}
	return Vec3{X: readF32(body[0:4]), Y: readF32(body[4:8]), Z: readF32(body[8:12])}
}

func readF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Encode serializes a tracker map into a single PSN_DATA datagram.
// timestamp is used for the packet header's timestamp field; trackers whose
// own Timestamp is set still carry that value in their own sub-chunk.
func Encode(trackers map[uint16]*Tracker, timestamp uint64, frameID uint8) ([]byte, error) {
	var trackerBuf bytes.Buffer
	for id, t := range trackers {
		var fieldBuf bytes.Buffer
		if t.HasPos {
			writeVec3Chunk(&fieldBuf, trackerPos, t.Pos)
		}
		if t.HasSpeed {
			writeVec3Chunk(&fieldBuf, trackerSpeed, t.Speed)
		}
		if t.HasOri {
			writeVec3Chunk(&fieldBuf, trackerOrientation, t.Ori)
		}
		if t.HasAccel {
			writeVec3Chunk(&fieldBuf, trackerAccel, t.Accel)
		}
		if t.HasTargetPos {
			writeVec3Chunk(&fieldBuf, trackerTargetPos, t.TargetPos)
		}
		if t.HasStatus {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(t.Status))
			writeChunkHeader(&fieldBuf, trackerStatus, 4, false)
			fieldBuf.Write(b[:])
		}
		if t.HasTimestamp {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], t.Timestamp)
			writeChunkHeader(&fieldBuf, trackerTimestamp, 8, false)
			fieldBuf.Write(b[:])
		}

		writeChunkHeader(&trackerBuf, id, uint16(fieldBuf.Len()), fieldBuf.Len() > 0)
		trackerBuf.Write(fieldBuf.Bytes())
	}

	var headerBuf bytes.Buffer
	var hb [12]byte
	binary.LittleEndian.PutUint64(hb[0:8], timestamp)
	hb[8] = versionHigh
	hb[9] = versionLow
	hb[10] = frameID
	hb[11] = 1
	writeChunkHeader(&headerBuf, chunkDataHeader, 12, false)
	headerBuf.Write(hb[:])

	var trackersChunk bytes.Buffer
	writeChunkHeader(&trackersChunk, chunkDataTrackers, uint16(trackerBuf.Len()), trackerBuf.Len() > 0)
	trackersChunk.Write(trackerBuf.Bytes())

	var out bytes.Buffer
	bodyLen := headerBuf.Len() + trackersChunk.Len()
	writeChunkHeader(&out, chunkDataPacket, uint16(bodyLen), true)
	out.Write(headerBuf.Bytes())
	out.Write(trackersChunk.Bytes())

	return out.Bytes(), nil
}

func writeVec3Chunk(buf *bytes.Buffer, id uint16, v Vec3) {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(v.Z))
	writeChunkHeader(buf, id, 12, false)
	buf.Write(b[:])
}
