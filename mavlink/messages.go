package mavlink

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Message ids of the closed set this proxy decodes structurally. Everything
// else passes through as an opaque payload.
const (
	msgIDHeartbeat                 = 0
	msgIDLocalPositionNed          = 32
	msgIDGlobalPositionInt         = 33
	msgIDSetPositionTargetLocalNed = 84
	msgIDPositionTargetLocalNed    = 85
)

// Per-message checksum seeds (CRC extra) for the known set.
var crcExtras = map[uint32]uint8{
	msgIDHeartbeat:                 50,
	msgIDLocalPositionNed:          185,
	msgIDGlobalPositionInt:         104,
	msgIDSetPositionTargetLocalNed: 143,
	msgIDPositionTargetLocalNed:    140,
}

// Full (untrimmed) payload lengths for the known set. v2 frames may arrive
// with trailing zeros trimmed; decode zero-extends back to these lengths.
var payloadLens = map[uint32]int{
	msgIDHeartbeat:                 9,
	msgIDLocalPositionNed:          28,
	msgIDGlobalPositionInt:         28,
	msgIDSetPositionTargetLocalNed: 53,
	msgIDPositionTargetLocalNed:    51,
}

// Message is one decoded protocol message. The concrete type is one of the
// structs below; unknown message ids decode to Unknown.
type Message interface {
	Type() string
}

// Heartbeat is message id 0.
type Heartbeat struct {
	CustomMode     uint32
	MavType        uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (*Heartbeat) Type() string { return "HEARTBEAT" }

// LocalPositionNed is message id 32: the vehicle's position in the local
// North-East-Down frame.
type LocalPositionNed struct {
	TimeBootMs uint32
	X, Y, Z    float32
	Vx, Vy, Vz float32
}

func (*LocalPositionNed) Type() string { return "LOCAL_POSITION_NED" }

// GlobalPositionInt is message id 33.
type GlobalPositionInt struct {
	TimeBootMs  uint32
	Lat         int32
	Lon         int32
	Alt         int32
	RelativeAlt int32
	Vx, Vy, Vz  int16
	Hdg         uint16
}

func (*GlobalPositionInt) Type() string { return "GLOBAL_POSITION_INT" }

// SetPositionTargetLocalNed is message id 84: a position setpoint commanded
// at the vehicle.
type SetPositionTargetLocalNed struct {
	TimeBootMs      uint32
	X, Y, Z         float32
	Vx, Vy, Vz      float32
	Afx, Afy, Afz   float32
	Yaw, YawRate    float32
	TypeMask        uint16
	TargetSystem    uint8
	TargetComponent uint8
	CoordinateFrame uint8
}

func (*SetPositionTargetLocalNed) Type() string { return "SET_POSITION_TARGET_LOCAL_NED" }

// PositionTargetLocalNed is message id 85: the setpoint the vehicle reports
// it is currently tracking.
type PositionTargetLocalNed struct {
	TimeBootMs      uint32
	X, Y, Z         float32
	Vx, Vy, Vz      float32
	Afx, Afy, Afz   float32
	Yaw, YawRate    float32
	TypeMask        uint16
	CoordinateFrame uint8
}

func (*PositionTargetLocalNed) Type() string { return "POSITION_TARGET_LOCAL_NED" }

// Unknown carries the raw payload of any message id without a field table.
type Unknown struct {
	ID      uint32
	Payload []byte
}

func (*Unknown) Type() string { return "UNKNOWN" }

// DecodeMessage maps raw payload bytes to the typed message for id. Short
// payloads are zero-extended to the message's full length first.
func DecodeMessage(id uint32, payload []byte) Message {
	full, known := payloadLens[id]
	if !known {
		return &Unknown{ID: id, Payload: append([]byte(nil), payload...)}
	}
	p := payload
	if len(p) < full {
		p = make([]byte, full)
		copy(p, payload)
	}

	le := binary.LittleEndian
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(p[off:])) }

	switch id {
	case msgIDHeartbeat:
		return &Heartbeat{
			CustomMode:     le.Uint32(p[0:]),
			MavType:        p[4],
			Autopilot:      p[5],
			BaseMode:       p[6],
			SystemStatus:   p[7],
			MavlinkVersion: p[8],
		}
	case msgIDLocalPositionNed:
		return &LocalPositionNed{
			TimeBootMs: le.Uint32(p[0:]),
			X:          f32(4), Y: f32(8), Z: f32(12),
			Vx: f32(16), Vy: f32(20), Vz: f32(24),
		}
	case msgIDGlobalPositionInt:
		return &GlobalPositionInt{
			TimeBootMs:  le.Uint32(p[0:]),
			Lat:         int32(le.Uint32(p[4:])),
			Lon:         int32(le.Uint32(p[8:])),
			Alt:         int32(le.Uint32(p[12:])),
			RelativeAlt: int32(le.Uint32(p[16:])),
			Vx:          int16(le.Uint16(p[20:])),
			Vy:          int16(le.Uint16(p[22:])),
			Vz:          int16(le.Uint16(p[24:])),
			Hdg:         le.Uint16(p[26:]),
		}
	case msgIDSetPositionTargetLocalNed:
		return &SetPositionTargetLocalNed{
			TimeBootMs: le.Uint32(p[0:]),
			X:          f32(4), Y: f32(8), Z: f32(12),
			Vx: f32(16), Vy: f32(20), Vz: f32(24),
			Afx: f32(28), Afy: f32(32), Afz: f32(36),
			Yaw: f32(40), YawRate: f32(44),
			TypeMask:        le.Uint16(p[48:]),
			TargetSystem:    p[50],
			TargetComponent: p[51],
			CoordinateFrame: p[52],
		}
	case msgIDPositionTargetLocalNed:
		return &PositionTargetLocalNed{
			TimeBootMs: le.Uint32(p[0:]),
			X:          f32(4), Y: f32(8), Z: f32(12),
			Vx: f32(16), Vy: f32(20), Vz: f32(24),
			Afx: f32(28), Afy: f32(32), Afz: f32(36),
			Yaw: f32(40), YawRate: f32(44),
			TypeMask:        le.Uint16(p[48:]),
			CoordinateFrame: p[50],
		}
	}
	return &Unknown{ID: id, Payload: append([]byte(nil), payload...)}
}

// encodeMessage lays out the full payload for msg, the inverse of
// DecodeMessage.
func encodeMessage(msg Message) (uint32, []byte, error) {
	le := binary.LittleEndian
	putF32 := func(p []byte, off int, v float32) { le.PutUint32(p[off:], math.Float32bits(v)) }

	switch m := msg.(type) {
	case *Heartbeat:
		p := make([]byte, payloadLens[msgIDHeartbeat])
		le.PutUint32(p[0:], m.CustomMode)
		p[4] = m.MavType
		p[5] = m.Autopilot
		p[6] = m.BaseMode
		p[7] = m.SystemStatus
		p[8] = m.MavlinkVersion
		return msgIDHeartbeat, p, nil
	case *LocalPositionNed:
		p := make([]byte, payloadLens[msgIDLocalPositionNed])
		le.PutUint32(p[0:], m.TimeBootMs)
		putF32(p, 4, m.X)
		putF32(p, 8, m.Y)
		putF32(p, 12, m.Z)
		putF32(p, 16, m.Vx)
		putF32(p, 20, m.Vy)
		putF32(p, 24, m.Vz)
		return msgIDLocalPositionNed, p, nil
	case *GlobalPositionInt:
		p := make([]byte, payloadLens[msgIDGlobalPositionInt])
		le.PutUint32(p[0:], m.TimeBootMs)
		le.PutUint32(p[4:], uint32(m.Lat))
		le.PutUint32(p[8:], uint32(m.Lon))
		le.PutUint32(p[12:], uint32(m.Alt))
		le.PutUint32(p[16:], uint32(m.RelativeAlt))
		le.PutUint16(p[20:], uint16(m.Vx))
		le.PutUint16(p[22:], uint16(m.Vy))
		le.PutUint16(p[24:], uint16(m.Vz))
		le.PutUint16(p[26:], m.Hdg)
		return msgIDGlobalPositionInt, p, nil
	case *SetPositionTargetLocalNed:
		p := make([]byte, payloadLens[msgIDSetPositionTargetLocalNed])
		le.PutUint32(p[0:], m.TimeBootMs)
		putF32(p, 4, m.X)
		putF32(p, 8, m.Y)
		putF32(p, 12, m.Z)
		putF32(p, 16, m.Vx)
		putF32(p, 20, m.Vy)
		putF32(p, 24, m.Vz)
		putF32(p, 28, m.Afx)
		putF32(p, 32, m.Afy)
		putF32(p, 36, m.Afz)
		putF32(p, 40, m.Yaw)
		putF32(p, 44, m.YawRate)
		le.PutUint16(p[48:], m.TypeMask)
		p[50] = m.TargetSystem
		p[51] = m.TargetComponent
		p[52] = m.CoordinateFrame
		return msgIDSetPositionTargetLocalNed, p, nil
	case *PositionTargetLocalNed:
		p := make([]byte, payloadLens[msgIDPositionTargetLocalNed])
		le.PutUint32(p[0:], m.TimeBootMs)
		putF32(p, 4, m.X)
		putF32(p, 8, m.Y)
		putF32(p, 12, m.Z)
		putF32(p, 16, m.Vx)
		putF32(p, 20, m.Vy)
		putF32(p, 24, m.Vz)
		putF32(p, 28, m.Afx)
		putF32(p, 32, m.Afy)
		putF32(p, 36, m.Afz)
		putF32(p, 40, m.Yaw)
		putF32(p, 44, m.YawRate)
		le.PutUint16(p[48:], m.TypeMask)
		p[50] = m.CoordinateFrame
		return msgIDPositionTargetLocalNed, p, nil
	}
	return 0, nil, fmt.Errorf("cannot encode message type %q", msg.Type())
}
