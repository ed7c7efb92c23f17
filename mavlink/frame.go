package mavlink

import (
	"errors"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/x25"
)

const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	headerLenV1 = 6  // magic, len, seq, sysid, compid, msgid
	headerLenV2 = 10 // magic, len, incompat, compat, seq, sysid, compid, msgid[3]
	checksumLen = 2

	// SignatureLen is the length of the optional trailing signature on
	// version-2 frames.
	SignatureLen = 13

	// incompatFlagSigned marks a version-2 frame as carrying a signature.
	incompatFlagSigned = 0x01
)

var (
	// ErrTruncated reports a buffer shorter than the frame's declared
	// header+payload+checksum length. This is the only hard decode failure.
	ErrTruncated = errors.New("truncated frame")

	// ErrNoMagic reports a buffer that does not begin with either
	// start-of-frame marker.
	ErrNoMagic = errors.New("no start-of-frame marker")
)

// Frame is one decoded protocol frame. Immutable once decoded.
type Frame struct {
	Version       int // 1 or 2
	IncompatFlags uint8
	CompatFlags   uint8
	Sequence      uint8
	SystemID      uint8
	ComponentID   uint8
	MessageID     uint32
	Payload       []byte // payload bytes as transmitted (v2 may be zero-trimmed)
	Checksum      uint16
	ChecksumValid bool   // false when the transmitted checksum does not verify
	Signature     []byte // SignatureLen bytes on signed v2 frames, nil otherwise
	Message       Message
}

// IsLikelyFrame reports whether buf plausibly starts with a complete frame:
// a known start marker followed by at least header+payload+checksum bytes
// (and, for a signed version-2 frame, the signature suffix).
func IsLikelyFrame(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	payloadLen := int(buf[1])
	switch buf[0] {
	case magicV1:
		return len(buf) >= headerLenV1+payloadLen+checksumLen
	case magicV2:
		if len(buf) < 3 {
			return false
		}
		need := headerLenV2 + payloadLen + checksumLen
		if buf[2]&incompatFlagSigned != 0 {
			need += SignatureLen
		}
		return len(buf) >= need
	}
	return false
}

// Decode parses the frame at the start of buf. A checksum mismatch does not
// fail the decode; the frame is returned with ChecksumValid=false so that
// consumers can tag it low-confidence. Only an incomplete buffer is a hard
// failure (ErrTruncated).
func Decode(buf []byte) (*Frame, error) {
	f, _, err := decodeNext(buf)
	return f, err
}

// DecodeAll extracts every decodable frame from a datagram. Bytes that do
// not start a complete frame are skipped; garbled regions never prevent
// later frames in the same datagram from decoding.
func DecodeAll(buf []byte) []*Frame {
	var frames []*Frame
	for i := 0; i < len(buf); {
		b := buf[i]
		if b != magicV1 && b != magicV2 {
			i++
			continue
		}
		f, n, err := decodeNext(buf[i:])
		if err != nil {
			i++
			continue
		}
		frames = append(frames, f)
		i += n
	}
	return frames
}

func decodeNext(buf []byte) (*Frame, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrTruncated
	}

	f := &Frame{}
	var headerLen int

	switch buf[0] {
	case magicV1:
		f.Version = 1
		headerLen = headerLenV1
		if len(buf) < headerLen {
			return nil, 0, ErrTruncated
		}
		f.Sequence = buf[2]
		f.SystemID = buf[3]
		f.ComponentID = buf[4]
		f.MessageID = uint32(buf[5])
	case magicV2:
		f.Version = 2
		headerLen = headerLenV2
		if len(buf) < headerLen {
			return nil, 0, ErrTruncated
		}
		f.IncompatFlags = buf[2]
		f.CompatFlags = buf[3]
		f.Sequence = buf[4]
		f.SystemID = buf[5]
		f.ComponentID = buf[6]
		f.MessageID = uint32(buf[7]) | uint32(buf[8])<<8 | uint32(buf[9])<<16
	default:
		return nil, 0, fmt.Errorf("%w: 0x%02X", ErrNoMagic, buf[0])
	}

	payloadLen := int(buf[1])
	end := headerLen + payloadLen + checksumLen
	if len(buf) < end {
		return nil, 0, ErrTruncated
	}

	f.Payload = append([]byte(nil), buf[headerLen:headerLen+payloadLen]...)
	f.Checksum = uint16(buf[end-2]) | uint16(buf[end-1])<<8
	f.ChecksumValid = verifyChecksum(buf[1:headerLen+payloadLen], f.MessageID, f.Checksum)

	consumed := end
	if f.Version == 2 {
		rest := buf[end:]
		signed := f.IncompatFlags&incompatFlagSigned != 0
		if signed && len(rest) >= SignatureLen {
			f.Signature = append([]byte(nil), rest[:SignatureLen]...)
			consumed += SignatureLen
		} else if !signed && len(rest) >= SignatureLen && !startsFrame(rest) {
			// Sender omitted the signed flag; trailing bytes that do not
			// contain the start of another frame are taken as a signature.
			f.Signature = append([]byte(nil), rest[:SignatureLen]...)
			consumed += SignatureLen
		}
	}

	f.Message = DecodeMessage(f.MessageID, f.Payload)
	return f, consumed, nil
}

// startsFrame reports whether a complete frame begins at any offset within
// the first SignatureLen bytes of buf. Used to keep the signature heuristic
// from eating into a following frame.
func startsFrame(buf []byte) bool {
	limit := SignatureLen
	if len(buf) < limit {
		limit = len(buf)
	}
	for i := 0; i < limit; i++ {
		if IsLikelyFrame(buf[i:]) {
			return true
		}
	}
	return false
}

// verifyChecksum recomputes the X25 checksum over the frame bytes from the
// length field through the payload, seeded with the per-message CRC extra.
// Message ids outside the known set cannot be verified and pass.
func verifyChecksum(body []byte, msgID uint32, got uint16) bool {
	extra, ok := crcExtras[msgID]
	if !ok {
		return true
	}
	h := x25.New()
	h.Write(body)
	h.Write([]byte{extra})
	return h.Sum16() == got
}

// EncodeV2 lays out msg as an unsigned version-2 frame. Takeover frames are
// deliberately emitted without a signature.
func EncodeV2(msg Message, seq, systemID, componentID uint8) ([]byte, error) {
	id, payload, err := encodeMessage(msg)
	if err != nil {
		return nil, err
	}
	extra, ok := crcExtras[id]
	if !ok {
		return nil, fmt.Errorf("no checksum seed for message id %d", id)
	}

	// v2 permits trimming trailing zero payload bytes, keeping at least one.
	n := len(payload)
	for n > 1 && payload[n-1] == 0 {
		n--
	}
	payload = payload[:n]

	buf := make([]byte, headerLenV2+n+checksumLen)
	buf[0] = magicV2
	buf[1] = uint8(n)
	buf[2] = 0
	buf[3] = 0
	buf[4] = seq
	buf[5] = systemID
	buf[6] = componentID
	buf[7] = uint8(id)
	buf[8] = uint8(id >> 8)
	buf[9] = uint8(id >> 16)
	copy(buf[headerLenV2:], payload)

	h := x25.New()
	h.Write(buf[1 : headerLenV2+n])
	h.Write([]byte{extra})
	sum := h.Sum16()
	buf[headerLenV2+n] = uint8(sum)
	buf[headerLenV2+n+1] = uint8(sum >> 8)
	return buf, nil
}
