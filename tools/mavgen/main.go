// mavgen exercises the proxy end to end: it plays a ground controller
// streaming SET_POSITION_TARGET_LOCAL_NED toward the proxy's controller
// port, and optionally a vehicle echoing LOCAL_POSITION_NED telemetry.
// Setpoints repeat at the configured rate and step to a new value every
// few seconds, which drives both the dedup and change paths.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

func main() {
	proxyAddr := flag.String("proxy", "127.0.0.1:14556", "Proxy controller-side address")
	rate := flag.Float64("rate", 10, "Setpoint rate in Hz")
	stepEvery := flag.Duration("step", 5*time.Second, "How often the setpoint moves")
	vehicle := flag.Bool("vehicle", false, "Also stream vehicle telemetry")
	vehicleAddr := flag.String("vehicle-addr", "127.0.0.1:14557", "Proxy vehicle-side address")
	flag.Parse()

	if *rate <= 0 {
		log.Fatalf("Invalid rate: %v", *rate)
	}

	log.Printf("Streaming setpoints to %s at %.1f Hz, stepping every %s", *proxyAddr, *rate, *stepEvery)

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPClient{Address: *proxyAddr},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: 254, // companion controller ID
	})
	if err != nil {
		log.Fatalf("Failed to create MAVLink node: %v", err)
	}
	defer node.Close()

	var vehicleNode *gomavlib.Node
	if *vehicle {
		vehicleNode, err = gomavlib.NewNode(gomavlib.NodeConf{
			Endpoints: []gomavlib.EndpointConf{
				gomavlib.EndpointUDPClient{Address: *vehicleAddr},
			},
			Dialect:     common.Dialect,
			OutVersion:  gomavlib.V2,
			OutSystemID: 1,
		})
		if err != nil {
			log.Fatalf("Failed to create vehicle node: %v", err)
		}
		defer vehicleNode.Close()
		log.Printf("Streaming vehicle telemetry to %s", *vehicleAddr)
	}

	start := time.Now()
	setpointTicker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer setpointTicker.Stop()
	telemetryTicker := time.NewTicker(50 * time.Millisecond)
	defer telemetryTicker.Stop()
	heartbeatTicker := time.NewTicker(time.Second)
	defer heartbeatTicker.Stop()

	north, east, down := float32(0), float32(0), float32(-20)
	lastStep := time.Now()
	sent := 0

	for {
		select {
		case <-setpointTicker.C:
			if time.Since(lastStep) >= *stepEvery {
				north += 5
				east += 2
				lastStep = time.Now()
				log.Printf("Stepping setpoint to N=%.1f E=%.1f D=%.1f (sent %d)", north, east, down, sent)
			}
			msg := &common.MessageSetPositionTargetLocalNed{
				TimeBootMs:      uint32(time.Since(start).Milliseconds()),
				TargetSystem:    1,
				TargetComponent: 1,
				CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
				TypeMask:        common.POSITION_TARGET_TYPEMASK_VX_IGNORE | common.POSITION_TARGET_TYPEMASK_VY_IGNORE | common.POSITION_TARGET_TYPEMASK_VZ_IGNORE | common.POSITION_TARGET_TYPEMASK_AX_IGNORE | common.POSITION_TARGET_TYPEMASK_AY_IGNORE | common.POSITION_TARGET_TYPEMASK_AZ_IGNORE | common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE,
				X:               north,
				Y:               east,
				Z:               down,
			}
			if err := node.WriteMessageAll(msg); err != nil {
				log.Printf("Setpoint send failed: %v", err)
			} else {
				sent++
			}

		case <-heartbeatTicker.C:
			hb := &common.MessageHeartbeat{
				Type:           common.MAV_TYPE_GCS,
				Autopilot:      common.MAV_AUTOPILOT_INVALID,
				SystemStatus:   common.MAV_STATE_ACTIVE,
				MavlinkVersion: 3,
			}
			if err := node.WriteMessageAll(hb); err != nil {
				log.Printf("Heartbeat send failed: %v", err)
			}

		case <-telemetryTicker.C:
			if vehicleNode == nil {
				continue
			}
			pos := &common.MessageLocalPositionNed{
				TimeBootMs: uint32(time.Since(start).Milliseconds()),
				X:          north * 0.9,
				Y:          east * 0.9,
				Z:          down,
			}
			if err := vehicleNode.WriteMessageAll(pos); err != nil {
				log.Printf("Telemetry send failed: %v", err)
			}
		}
	}
}
