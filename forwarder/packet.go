package forwarder

import (
	"time"

	"mavmitm/mavlink"
)

// Position is the vehicle's last known local position, attached to packet
// documents so displays can show where the vehicle is while setpoints
// stream past.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PacketMeta carries routing context alongside the decoded frame.
type PacketMeta struct {
	// RepeatSinceLast counts how many identical setpoints arrived before
	// this changed one.
	RepeatSinceLast int `json:"repeat_since_last"`
	// RepeatCnt is the running repeat counter for suppressed setpoints.
	RepeatCnt int       `json:"repeat_cnt"`
	Position  *Position `json:"position,omitempty"`
	// Injected marks an echoed frame as matching the active takeover
	// target rather than originating from the controller.
	Injected bool `json:"injected,omitempty"`
}

// FieldDoc is one decoded message field, in declaration order.
type FieldDoc struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// PacketDocument is the display form of one decoded frame, shaped for the
// JSON consumers (websocket clients and the HTTP latest-packet endpoint).
type PacketDocument struct {
	Time          string     `json:"time"`
	Direction     string     `json:"direction"`
	Version       int        `json:"version"`
	SystemID      uint8      `json:"sysid"`
	ComponentID   uint8      `json:"compid"`
	Sequence      uint8      `json:"seq"`
	MessageID     uint32     `json:"msgid"`
	MessageType   string     `json:"msg_type"`
	Fields        []FieldDoc `json:"fields,omitempty"`
	PayloadText   string     `json:"payload,omitempty"`
	ChecksumValid bool       `json:"checksum_valid"`
	Signed        bool       `json:"signed"`
	Meta          PacketMeta `json:"meta"`
}

func buildPacketDoc(f *mavlink.Frame, direction string, now time.Time, pos *Position) *PacketDocument {
	doc := &PacketDocument{
		Time:          now.Format("15:04:05.000"),
		Direction:     direction,
		Version:       f.Version,
		SystemID:      f.SystemID,
		ComponentID:   f.ComponentID,
		Sequence:      f.Sequence,
		MessageID:     f.MessageID,
		MessageType:   f.Message.Type(),
		ChecksumValid: f.ChecksumValid,
		Signed:        len(f.Signature) > 0,
		Meta:          PacketMeta{Position: pos},
	}
	if u, ok := f.Message.(*mavlink.Unknown); ok {
		doc.PayloadText = mavlink.PayloadText(u.Payload)
	} else {
		for _, field := range mavlink.FieldsOf(f.Message) {
			doc.Fields = append(doc.Fields, FieldDoc{Name: field.Name, Value: field.Value})
		}
	}
	return doc
}
