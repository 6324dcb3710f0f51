// Package codec implements the HostLink wire framing: a pure encoder and a
// stateful streaming decoder that resynchronizes after corruption.
package codec

import (
	"encoding/binary"
	"fmt"

	"hostlink/wire"
)

// DecodeErrorKind enumerates the recoverable decode failures. None of these
// are fatal: the caller observes them as events and the decoder keeps
// scanning for the next valid frame.
type DecodeErrorKind int

const (
	CrcMismatch DecodeErrorKind = iota
	VersionUnsupported
	LengthExceeded
)

func (k DecodeErrorKind) String() string {
	switch k {
	case CrcMismatch:
		return "CrcMismatch"
	case VersionUnsupported:
		return "VersionUnsupported"
	case LengthExceeded:
		return "LengthExceeded"
	default:
		return "Unknown"
	}
}

// DecodeError is a non-fatal decode failure surfaced to the caller.
type DecodeError struct {
	Kind DecodeErrorKind
}

func (e *DecodeError) Error() string {
	return "codec: " + e.Kind.String()
}

// Event is one item produced by draining the decoder: exactly one of Frame
// or Err is set.
type Event struct {
	Frame *wire.Frame
	Err   *DecodeError
}

// EncodeError reports that a payload could not be encoded.
type EncodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *EncodeError) Error() string { return fmt.Sprintf("codec: %s: %s", e.Kind, e.Msg) }

// Encode builds a complete wire frame. maxPayload is the peer-negotiated
// maximum payload length; pass 0 to skip the check (used before a peer's
// max is known, e.g. for the initial Hello).
func Encode(typ wire.Type, seq uint16, payload []byte, maxPayload int) ([]byte, error) {
	if maxPayload > 0 && len(payload) > maxPayload {
		return nil, &EncodeError{Kind: LengthExceeded, Msg: fmt.Sprintf("payload %d exceeds max %d", len(payload), maxPayload)}
	}
	if len(payload) > 0xFFFF {
		return nil, &EncodeError{Kind: LengthExceeded, Msg: "payload exceeds u16 length field"}
	}

	total := wire.HeaderLen + len(payload) + wire.CRCLen
	buf := make([]byte, total)
	buf[0] = wire.SOF
	buf[1] = wire.Version
	buf[2] = byte(typ)
	binary.LittleEndian.PutUint16(buf[3:5], seq)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(payload)))
	copy(buf[7:7+len(payload)], payload)

	crc := crc16(buf[1 : 7+len(payload)])
	binary.LittleEndian.PutUint16(buf[7+len(payload):], crc)

	return buf, nil
}

// Decoder is a stateful streaming frame decoder. Not safe for concurrent
// use; callers must serialize Append/Drain (the HostLink client does this
// by holding its state mutex around each Append/Drain pair).
type Decoder struct {
	buf         []byte
	maxFrameLen int
}

// NewDecoder creates a Decoder that rejects LEN fields larger than
// maxFrameLen as LengthExceeded. Pass 0 to use wire.DefaultMaxFrameLen.
func NewDecoder(maxFrameLen int) *Decoder {
	if maxFrameLen <= 0 {
		maxFrameLen = wire.DefaultMaxFrameLen
	}
	return &Decoder{maxFrameLen: maxFrameLen}
}

// SetMaxFrameLen updates the length ceiling, e.g. after a HelloAck
// advertises the device's real max_frame_len.
func (d *Decoder) SetMaxFrameLen(n int) {
	if n > 0 {
		d.maxFrameLen = n
	}
}

// Append buffers newly-received bytes. Safe to call with arbitrarily small
// or large chunks; the decoder reassembles frames across chunk boundaries.
func (d *Decoder) Append(data []byte) {
	d.buf = append(d.buf, data...)
}

// Drain extracts every complete frame (and any decode errors encountered
// while resynchronizing) currently present in the buffer, leaving any
// trailing partial frame buffered for the next Append.
func (d *Decoder) Drain() []Event {
	var events []Event
	pos := 0

	for {
		sofIdx := indexByte(d.buf[pos:], wire.SOF)
		if sofIdx < 0 {
			// No SOF candidate left; discard everything scanned (garbage)
			// and keep nothing — there's nothing left to resync against.
			pos = len(d.buf)
			break
		}
		sofIdx += pos

		available := len(d.buf) - sofIdx
		if available < wire.HeaderLen {
			// Not enough bytes yet to read the header; wait for more data.
			pos = sofIdx
			break
		}

		version := d.buf[sofIdx+1]
		length := int(binary.LittleEndian.Uint16(d.buf[sofIdx+5 : sofIdx+7]))

		if length > d.maxFrameLen {
			events = append(events, Event{Err: &DecodeError{Kind: LengthExceeded}})
			pos = sofIdx + 1
			continue
		}

		frameLen := wire.HeaderLen + length + wire.CRCLen
		if available < frameLen {
			// Full frame not buffered yet; wait for more data.
			pos = sofIdx
			break
		}

		if version != wire.Version {
			events = append(events, Event{Err: &DecodeError{Kind: VersionUnsupported}})
			pos = sofIdx + 1
			continue
		}

		crcFieldOff := sofIdx + wire.HeaderLen + length
		gotCRC := binary.LittleEndian.Uint16(d.buf[crcFieldOff : crcFieldOff+2])
		wantCRC := crc16(d.buf[sofIdx+1 : crcFieldOff])

		if gotCRC != wantCRC {
			events = append(events, Event{Err: &DecodeError{Kind: CrcMismatch}})
			pos = sofIdx + 1
			continue
		}

		typ := wire.Type(d.buf[sofIdx+2])
		seq := binary.LittleEndian.Uint16(d.buf[sofIdx+3 : sofIdx+5])
		payload := make([]byte, length)
		copy(payload, d.buf[sofIdx+7:sofIdx+7+length])

		events = append(events, Event{Frame: &wire.Frame{Type: typ, Seq: seq, Payload: payload}})
		pos = sofIdx + frameLen
	}

	// Compact: drop everything before pos, it has been consumed or is
	// garbage preceding the next SOF candidate.
	if pos > 0 {
		remaining := len(d.buf) - pos
		copy(d.buf, d.buf[pos:])
		d.buf = d.buf[:remaining]
	}

	return events
}

// indexByte is a tiny local helper to avoid importing bytes just for this.
func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
