package mavlink

import "math"

// SetpointSignature identifies a position setpoint by its rounded
// components. Coordinates are rounded to 3 decimal places to absorb
// floating-point jitter between otherwise identical setpoints. Two
// signatures are equal iff every rounded component is equal. Used for
// change detection only, never transmitted.
type SetpointSignature struct {
	Type string
	X    float64
	Y    float64
	Alt  float64 // height, positive up: -z in the NED frame
	Yaw  float64
}

// Round3 rounds v to the signature precision.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// SignatureOf derives the setpoint signature for msg. Only the tracked
// setpoint types yield one; everything else returns false.
func SignatureOf(msg Message) (SetpointSignature, bool) {
	switch m := msg.(type) {
	case *SetPositionTargetLocalNed:
		return SetpointSignature{
			Type: m.Type(),
			X:    Round3(float64(m.X)),
			Y:    Round3(float64(m.Y)),
			Alt:  Round3(-float64(m.Z)),
			Yaw:  Round3(float64(m.Yaw)),
		}, true
	case *PositionTargetLocalNed:
		return SetpointSignature{
			Type: m.Type(),
			X:    Round3(float64(m.X)),
			Y:    Round3(float64(m.Y)),
			Alt:  Round3(-float64(m.Z)),
			Yaw:  Round3(float64(m.Yaw)),
		}, true
	}
	return SetpointSignature{}, false
}

// IsSetpoint reports whether msg is one of the tracked setpoint types.
func IsSetpoint(msg Message) bool {
	_, ok := SignatureOf(msg)
	return ok
}
