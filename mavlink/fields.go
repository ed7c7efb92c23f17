package mavlink

import (
	"encoding/hex"
	"unicode/utf8"
)

// Field is one named value of a decoded message, in wire order.
type Field struct {
	Name  string
	Value interface{}
}

// FieldsOf returns the named fields of msg in payload order, for display.
// Unknown messages expose the numeric id and the raw payload; payload bytes
// that happen to be text are rendered as text, otherwise as hex.
func FieldsOf(msg Message) []Field {
	switch m := msg.(type) {
	case *Heartbeat:
		return []Field{
			{"custom_mode", m.CustomMode},
			{"type", m.MavType},
			{"autopilot", m.Autopilot},
			{"base_mode", m.BaseMode},
			{"system_status", m.SystemStatus},
			{"mavlink_version", m.MavlinkVersion},
		}
	case *LocalPositionNed:
		return []Field{
			{"time_boot_ms", m.TimeBootMs},
			{"x", m.X}, {"y", m.Y}, {"z", m.Z},
			{"vx", m.Vx}, {"vy", m.Vy}, {"vz", m.Vz},
		}
	case *GlobalPositionInt:
		return []Field{
			{"time_boot_ms", m.TimeBootMs},
			{"lat", m.Lat}, {"lon", m.Lon}, {"alt", m.Alt},
			{"relative_alt", m.RelativeAlt},
			{"vx", m.Vx}, {"vy", m.Vy}, {"vz", m.Vz},
			{"hdg", m.Hdg},
		}
	case *SetPositionTargetLocalNed:
		return []Field{
			{"time_boot_ms", m.TimeBootMs},
			{"x", m.X}, {"y", m.Y}, {"z", m.Z},
			{"vx", m.Vx}, {"vy", m.Vy}, {"vz", m.Vz},
			{"afx", m.Afx}, {"afy", m.Afy}, {"afz", m.Afz},
			{"yaw", m.Yaw}, {"yaw_rate", m.YawRate},
			{"type_mask", m.TypeMask},
			{"target_system", m.TargetSystem},
			{"target_component", m.TargetComponent},
			{"coordinate_frame", m.CoordinateFrame},
		}
	case *PositionTargetLocalNed:
		return []Field{
			{"time_boot_ms", m.TimeBootMs},
			{"x", m.X}, {"y", m.Y}, {"z", m.Z},
			{"vx", m.Vx}, {"vy", m.Vy}, {"vz", m.Vz},
			{"afx", m.Afx}, {"afy", m.Afy}, {"afz", m.Afz},
			{"yaw", m.Yaw}, {"yaw_rate", m.YawRate},
			{"type_mask", m.TypeMask},
			{"coordinate_frame", m.CoordinateFrame},
		}
	case *Unknown:
		return []Field{
			{"msg_id", m.ID},
			{"payload", PayloadText(m.Payload)},
		}
	}
	return nil
}

// PayloadText renders raw bytes as text when they decode cleanly, falling
// back to a hex representation.
func PayloadText(b []byte) string {
	if len(b) > 0 && utf8.Valid(b) && printable(b) {
		return string(b)
	}
	return hex.EncodeToString(b)
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}
