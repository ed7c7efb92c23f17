package mavlink

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/x25"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "heartbeat",
			msg: &Heartbeat{
				CustomMode: 81234, MavType: 2, Autopilot: 12,
				BaseMode: 81, SystemStatus: 4, MavlinkVersion: 3,
			},
		},
		{
			name: "local position",
			msg: &LocalPositionNed{
				TimeBootMs: 123456,
				X:          10.0, Y: 5.0, Z: -3.0,
				Vx: 1.0, Vy: 0.5, Vz: -0.2,
			},
		},
		{
			name: "global position",
			msg: &GlobalPositionInt{
				TimeBootMs: 99, Lat: 473977420, Lon: 85455940,
				Alt: 488000, RelativeAlt: 12000,
				Vx: -3, Vy: 7, Vz: 0, Hdg: 27000,
			},
		},
		{
			name: "set position target",
			msg: &SetPositionTargetLocalNed{
				TimeBootMs: 4242,
				X:          1.5, Y: -2.25, Z: -30.0,
				Yaw: 0.75, TypeMask: 0x09F8,
				TargetSystem: 1, TargetComponent: 1, CoordinateFrame: 1,
			},
		},
		{
			name: "position target",
			msg: &PositionTargetLocalNed{
				TimeBootMs: 17,
				X:          -8.0, Y: 0.125, Z: -1.0,
				Yaw: -1.5, TypeMask: 0x0DF8, CoordinateFrame: 1,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := EncodeV2(tc.msg, 7, 255, 190)
			if err != nil {
				t.Fatalf("EncodeV2 failed: %v", err)
			}

			f, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if f.Version != 2 {
				t.Fatalf("version = %d, want 2", f.Version)
			}
			if f.Sequence != 7 || f.SystemID != 255 || f.ComponentID != 190 {
				t.Fatalf("header = seq %d sys %d comp %d", f.Sequence, f.SystemID, f.ComponentID)
			}
			if !f.ChecksumValid {
				t.Fatalf("checksum did not verify on a freshly encoded frame")
			}
			if f.Signature != nil {
				t.Fatalf("outbound frames must be unsigned, got %d signature bytes", len(f.Signature))
			}
			if !reflect.DeepEqual(f.Message, tc.msg) {
				t.Fatalf("message = %+v, want %+v", f.Message, tc.msg)
			}
		})
	}
}

func TestDecodeTruncationBoundary(t *testing.T) {
	buf, err := EncodeV2(&LocalPositionNed{TimeBootMs: 1, X: 1, Y: 2, Z: 3, Vx: 4, Vy: 5, Vz: 6}, 0, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV2 failed: %v", err)
	}

	if _, err := Decode(buf[:len(buf)-1]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("one byte short: err = %v, want ErrTruncated", err)
	}
	if _, err := Decode(buf); err != nil {
		t.Fatalf("exact length: %v", err)
	}
	if _, err := Decode(append(append([]byte(nil), buf...), 0xAA)); err != nil {
		t.Fatalf("one trailing byte: %v", err)
	}
	if _, err := Decode(nil); !errors.Is(err, ErrTruncated) {
		t.Fatalf("empty buffer: err = %v, want ErrTruncated", err)
	}
}

func TestDecodeChecksumMismatchIsNotFatal(t *testing.T) {
	buf, err := EncodeV2(&SetPositionTargetLocalNed{X: 1, Y: 2, Z: -3, TypeMask: 1}, 0, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV2 failed: %v", err)
	}
	buf[headerLenV2] ^= 0xFF // garble the first payload byte

	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("garbled frame must still decode, got %v", err)
	}
	if f.ChecksumValid {
		t.Fatalf("checksum reported valid on a garbled frame")
	}
	if f.Message.Type() != "SET_POSITION_TARGET_LOCAL_NED" {
		t.Fatalf("message type = %q", f.Message.Type())
	}
}

func TestDecodeV1Frame(t *testing.T) {
	payload := make([]byte, 9)
	payload[4] = 2 // MAV_TYPE_QUADROTOR
	payload[7] = 4 // MAV_STATE_ACTIVE
	buf := encodeV1(t, 0, 1, 1, msgIDHeartbeat, payload)

	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Version != 1 {
		t.Fatalf("version = %d, want 1", f.Version)
	}
	if !f.ChecksumValid {
		t.Fatalf("v1 checksum did not verify")
	}
	hb, ok := f.Message.(*Heartbeat)
	if !ok {
		t.Fatalf("message type = %T", f.Message)
	}
	if hb.MavType != 2 || hb.SystemStatus != 4 {
		t.Fatalf("heartbeat = %+v", hb)
	}
}

func TestDecodeUnknownMessageID(t *testing.T) {
	buf := []byte{
		magicV2, 3, 0, 0, 9, 7, 5,
		0xD0, 0xA4, 0x00, // message id 42192
		0xDE, 0xAD, 0xBE,
		0x34, 0x12,
	}
	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	u, ok := f.Message.(*Unknown)
	if !ok {
		t.Fatalf("message type = %T, want *Unknown", f.Message)
	}
	if u.ID != 42192 {
		t.Fatalf("id = %d, want 42192", u.ID)
	}
	if !bytes.Equal(u.Payload, []byte{0xDE, 0xAD, 0xBE}) {
		t.Fatalf("payload = %x", u.Payload)
	}
	// Not verifiable without a field table, so not flagged.
	if !f.ChecksumValid {
		t.Fatalf("unknown id must not be flagged low-confidence")
	}
}

func TestDecodeSignedFrame(t *testing.T) {
	buf, err := EncodeV2(&Heartbeat{MavType: 1}, 3, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV2 failed: %v", err)
	}
	buf[2] = incompatFlagSigned
	reseal(buf)
	sig := bytes.Repeat([]byte{0x5A}, SignatureLen)
	buf = append(buf, sig...)

	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(f.Signature, sig) {
		t.Fatalf("signature = %x, want %x", f.Signature, sig)
	}
	if !f.ChecksumValid {
		t.Fatalf("resigned checksum did not verify")
	}
}

func TestDecodeAllMultipleFrames(t *testing.T) {
	a, err := EncodeV2(&LocalPositionNed{X: 1}, 0, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV2 failed: %v", err)
	}
	b, err := EncodeV2(&SetPositionTargetLocalNed{X: 2, TypeMask: 1}, 1, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV2 failed: %v", err)
	}

	datagram := append([]byte{0x00, 0x42}, a...) // leading garbage
	datagram = append(datagram, 0x13)            // inter-frame garbage
	datagram = append(datagram, b...)

	frames := DecodeAll(datagram)
	if len(frames) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(frames))
	}
	if frames[0].Message.Type() != "LOCAL_POSITION_NED" {
		t.Fatalf("first frame = %q", frames[0].Message.Type())
	}
	if frames[1].Message.Type() != "SET_POSITION_TARGET_LOCAL_NED" {
		t.Fatalf("second frame = %q", frames[1].Message.Type())
	}
}

func TestIsLikelyFrame(t *testing.T) {
	hb, err := EncodeV2(&Heartbeat{MavType: 1}, 0, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV2 failed: %v", err)
	}

	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{name: "empty", buf: nil, want: false},
		{name: "no marker", buf: []byte{0x00, 0x01, 0x02}, want: false},
		{name: "complete v2", buf: hb, want: true},
		{name: "v2 one byte short", buf: hb[:len(hb)-1], want: false},
		{name: "complete v1", buf: encodeV1(t, 0, 1, 1, msgIDHeartbeat, make([]byte, 9)), want: true},
		{name: "bare marker", buf: []byte{magicV2}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLikelyFrame(tc.buf); got != tc.want {
				t.Fatalf("IsLikelyFrame = %v, want %v", got, tc.want)
			}
		})
	}
}

// encodeV1 builds a version-1 frame for decode tests; the encoder itself
// only emits version 2.
func encodeV1(t *testing.T, seq, sys, comp uint8, msgID uint32, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, headerLenV1+len(payload)+checksumLen)
	buf[0] = magicV1
	buf[1] = uint8(len(payload))
	buf[2] = seq
	buf[3] = sys
	buf[4] = comp
	buf[5] = uint8(msgID)
	copy(buf[headerLenV1:], payload)

	h := x25.New()
	h.Write(buf[1 : headerLenV1+len(payload)])
	h.Write([]byte{crcExtras[msgID]})
	sum := h.Sum16()
	buf[len(buf)-2] = uint8(sum)
	buf[len(buf)-1] = uint8(sum >> 8)
	return buf
}

// reseal recomputes the checksum of a v2 frame after its header bytes have
// been edited in place.
func reseal(buf []byte) {
	payloadLen := int(buf[1])
	msgID := uint32(buf[7]) | uint32(buf[8])<<8 | uint32(buf[9])<<16
	h := x25.New()
	h.Write(buf[1 : headerLenV2+payloadLen])
	h.Write([]byte{crcExtras[msgID]})
	sum := h.Sum16()
	buf[headerLenV2+payloadLen] = uint8(sum)
	buf[headerLenV2+payloadLen+1] = uint8(sum >> 8)
}
