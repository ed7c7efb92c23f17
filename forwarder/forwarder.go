// Package forwarder sits between a ground controller and a vehicle,
// relaying their UDP traffic while watching the setpoint stream. Repeated
// setpoints are suppressed, changed setpoints are surfaced to the operator,
// and while a takeover is engaged the controller's setpoints are observed
// but never delivered.
package forwarder

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"mavmitm/capture"
	"mavmitm/config"
	"mavmitm/logger"
	"mavmitm/mavlink"
	"mavmitm/metrics"
	"mavmitm/takeover"
)

// positionLogInterval rate-limits vehicle position logging; telemetry
// arrives far faster than a human can read.
const positionLogInterval = 200 * time.Millisecond

// Decision is an operator verdict on the setpoint stream: either stop the
// active takeover, or (re)target it. A zero Hz means "use the observed
// stream rate".
type Decision struct {
	Stop   bool
	Target mavlink.SetpointSignature
	Hz     float64
}

// Notifier receives display events from the datagram path. Implementations
// must not block; slow consumers drop.
type Notifier interface {
	// PacketForwarded fires for every frame relayed toward the vehicle.
	PacketForwarded(doc *PacketDocument)
	// SetpointChanged fires when the setpoint stream moved to a new
	// value; sig is the dedup identity an operator decision would target.
	SetpointChanged(doc *PacketDocument, sig mavlink.SetpointSignature)
	// SetpointRepeated fires when an identical setpoint was suppressed.
	SetpointRepeated(doc *PacketDocument)
	// Telemetry fires for decoded vehicle frames, already rate-limited
	// for position messages.
	Telemetry(doc *PacketDocument)
}

type sendFunc func(dst *net.UDPAddr, payload []byte) error

// Forwarder owns the two UDP sockets (or the link-layer tap) and the
// routing policy between them.
type Forwarder struct {
	cfg       *config.Config
	tracker   *takeover.Tracker
	notifiers []Notifier

	ctrlConn *net.UDPConn
	vehConn  *net.UDPConn
	tap      *capture.Tap

	vehicleAddr *net.UDPAddr

	// sendVehicle/sendController are seams so tests can run the routing
	// policy without sockets.
	sendVehicle    sendFunc
	sendController sendFunc

	stopCh  chan struct{}
	applied chan struct{}

	mu             sync.Mutex
	controllerAddr *net.UDPAddr // learned from traffic when not configured
	lastPosition   *Position
	lastPacket     *PacketDocument
	lastPosLog     time.Time
}

// New resolves addresses and opens the ingestion path: two bound UDP
// sockets normally, or a raw capture tap when capture is enabled. The
// tracker's injector is wired to send through the vehicle-bound path.
func New(cfg *config.Config, tracker *takeover.Tracker, notifiers ...Notifier) (*Forwarder, error) {
	vehicleAddr, err := net.ResolveUDPAddr("udp", cfg.VehicleAddr())
	if err != nil {
		return nil, fmt.Errorf("resolve vehicle address: %w", err)
	}

	f := &Forwarder{
		cfg:         cfg,
		tracker:     tracker,
		notifiers:   notifiers,
		vehicleAddr: vehicleAddr,
		stopCh:      make(chan struct{}),
		applied:     make(chan struct{}, 1),
	}

	if addr := cfg.ControllerTelemAddr(); addr != "" {
		ctrl, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("resolve controller address: %w", err)
		}
		f.controllerAddr = ctrl
	}

	vehConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Network.VehicleListenPort})
	if err != nil {
		return nil, fmt.Errorf("listen on vehicle port %d: %w", cfg.Network.VehicleListenPort, err)
	}
	f.vehConn = vehConn

	if cfg.Capture.Enabled {
		tap, err := capture.OpenTap(cfg.Capture.Interface)
		if err != nil {
			vehConn.Close()
			return nil, fmt.Errorf("open capture tap: %w", err)
		}
		f.tap = tap
		logger.Info("[NETWORK] Capturing controller traffic on %s (forward=%v)",
			cfg.Capture.Interface, cfg.Capture.Forward)
	} else {
		ctrlConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Network.ControllerListenPort})
		if err != nil {
			vehConn.Close()
			return nil, fmt.Errorf("listen on controller port %d: %w", cfg.Network.ControllerListenPort, err)
		}
		f.ctrlConn = ctrlConn
		logger.Info("[NETWORK] Controller listener on :%d, vehicle listener on :%d",
			cfg.Network.ControllerListenPort, cfg.Network.VehicleListenPort)
	}

	f.sendVehicle = func(dst *net.UDPAddr, payload []byte) error {
		_, err := f.vehConn.WriteToUDP(payload, dst)
		return err
	}
	f.sendController = func(dst *net.UDPAddr, payload []byte) error {
		if f.ctrlConn != nil {
			_, err := f.ctrlConn.WriteToUDP(payload, dst)
			return err
		}
		_, err := f.vehConn.WriteToUDP(payload, dst)
		return err
	}

	tracker.SetSender(f.injectToVehicle)
	return f, nil
}

// AddNotifier registers another display surface. Call before Start; the
// notifier list is not guarded once the loops run.
func (f *Forwarder) AddNotifier(n Notifier) {
	f.notifiers = append(f.notifiers, n)
}

// Start spawns the ingestion loops.
func (f *Forwarder) Start() {
	logger.Info("Starting forwarder: vehicle at %s", f.vehicleAddr)
	if f.tap != nil {
		go f.captureLoop()
	} else {
		go f.controllerLoop()
	}
	go f.vehicleLoop()
}

// Stop shuts the sockets; blocked reads return and the loops exit.
func (f *Forwarder) Stop() {
	logger.Info("Stopping forwarder...")
	close(f.stopCh)
	if f.ctrlConn != nil {
		f.ctrlConn.Close()
	}
	if f.tap != nil {
		f.tap.Close()
	}
	f.vehConn.Close()
}

// SubmitDecision applies an operator decision immediately. Safe from any
// goroutine; HTTP handlers and the console both call it.
func (f *Forwarder) SubmitDecision(d Decision) {
	if d.Stop {
		f.tracker.Disengage()
		metrics.Global.AddLog("info", "Takeover disengaged by operator")
	} else {
		hz := f.tracker.InjectRate(d.Hz)
		f.tracker.Engage(d.Target, hz)
		metrics.Global.AddLog("info", fmt.Sprintf("Takeover engaged: N=%.3f E=%.3f ALT=%.3f YAW=%.3f at %.1f Hz",
			d.Target.X, d.Target.Y, d.Target.Alt, d.Target.Yaw, hz))
	}
	select {
	case f.applied <- struct{}{}:
	default:
	}
}

// LastPacket returns the most recent controller-side document, for the
// latest-packet endpoint.
func (f *Forwarder) LastPacket() *PacketDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPacket
}

func (f *Forwarder) stopping() bool {
	select {
	case <-f.stopCh:
		return true
	default:
		return false
	}
}

func (f *Forwarder) controllerLoop() {
	buf := make([]byte, 65536)
	for {
		n, src, err := f.ctrlConn.ReadFromUDP(buf)
		if err != nil {
			if f.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient read errors must not take the direction down.
			logger.Error("[CONTROLLER] Read failed: %v", err)
			continue
		}

		if ip := f.cfg.Network.ControllerIP; ip != "" && src.IP.String() != ip {
			logger.Warn("[CONTROLLER] Dropping datagram from unexpected source %s", src)
			metrics.Global.IncDropped("foreign_source")
			continue
		}

		f.mu.Lock()
		if f.controllerAddr == nil {
			f.controllerAddr = src
			logger.Info("[CONTROLLER] Learned controller address %s", src)
		}
		f.mu.Unlock()

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		f.handleControllerDatagram(datagram, true)
	}
}

func (f *Forwarder) captureLoop() {
	for {
		frame, err := f.tap.Read()
		if err != nil {
			if f.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("[CAPTURE] Read failed: %v", err)
			continue
		}

		f.handleCapturedFrame(frame)
	}
}

// handleCapturedFrame narrows a raw link-layer frame to a controller
// datagram and hands it to the routing policy.
func (f *Forwarder) handleCapturedFrame(frame []byte) {
	payload, info, err := capture.Demux(frame)
	if err != nil {
		return // not ours
	}
	if int(info.DstPort) != f.cfg.Network.VehiclePort {
		return
	}
	if ip := f.cfg.Network.ControllerIP; ip != "" && info.SrcIP.String() != ip {
		return
	}

	// Telemetry replies need a destination even when no controller IP is
	// configured, so learn one from the captured traffic.
	f.mu.Lock()
	if f.controllerAddr == nil {
		f.controllerAddr = &net.UDPAddr{IP: info.SrcIP, Port: int(info.SrcPort)}
		logger.Info("[CAPTURE] Learned controller address %s:%d", info.SrcIP, info.SrcPort)
	}
	f.mu.Unlock()

	metrics.Global.IncCaptured()
	logger.Debug("[CAPTURE] %s, %d bytes", info, len(payload))
	f.handleControllerDatagram(payload, f.cfg.Capture.Forward)
}

// handleControllerDatagram runs the routing policy for one datagram from
// the controller side. deliver is false in observe-only capture mode.
//
// The datagram is routed as a unit: when it carries setpoints the last one
// wins, and its verdict decides the whole datagram.
func (f *Forwarder) handleControllerDatagram(datagram []byte, deliver bool) {
	now := time.Now()
	frames := mavlink.DecodeAll(datagram)
	if len(frames) == 0 {
		metrics.Global.IncDropped("undecodable")
		logger.Debug("[CONTROLLER] Dropped undecodable datagram (%d bytes)", len(datagram))
		return
	}

	var setpoint *mavlink.Frame
	var sig mavlink.SetpointSignature
	for _, fr := range frames {
		if s, ok := mavlink.SignatureOf(fr.Message); ok {
			setpoint = fr
			sig = s
		}
	}

	if setpoint == nil {
		doc := buildPacketDoc(frames[len(frames)-1], "controller", now, f.positionSnapshot())
		f.storeLast(doc)
		if deliver {
			f.forward(datagram, frames[len(frames)-1].Message.Type())
		}
		for _, n := range f.notifiers {
			n.PacketForwarded(doc)
		}
		return
	}

	outcome := f.tracker.Observe(sig, now)
	doc := buildPacketDoc(setpoint, "controller", now, f.positionSnapshot())
	doc.Meta.Injected = f.tracker.Matches(sig)
	f.storeLast(doc)

	if f.tracker.Active() {
		// The injector is the sole setpoint source; the controller's
		// stream is observed for dedup state but never delivered.
		metrics.Global.IncDropped("takeover")
		logger.Debug("[CONTROLLER] Takeover active, dropped %s", setpoint.Message.Type())
		f.notifyOutcome(doc, sig, outcome)
		return
	}

	switch outcome.Kind {
	case takeover.Repeated:
		doc.Meta.RepeatCnt = outcome.Repeats
		metrics.Global.IncSuppressed(setpoint.Message.Type())
		for _, n := range f.notifiers {
			n.SetpointRepeated(doc)
		}
	case takeover.Changed, takeover.FirstSeen:
		doc.Meta.RepeatSinceLast = outcome.Repeats
		if outcome.Kind == takeover.Changed {
			f.drainApplied()
			metrics.Global.AddLog("info", fmt.Sprintf("Setpoint changed to N=%.3f E=%.3f ALT=%.3f after %d repeats",
				sig.X, sig.Y, sig.Alt, outcome.Repeats))
		}
		for _, n := range f.notifiers {
			n.SetpointChanged(doc, sig)
		}
		if outcome.Kind == takeover.Changed {
			f.awaitDecision()
		}
		// The operator may have engaged during the wait.
		if f.tracker.Active() {
			metrics.Global.IncDropped("takeover")
			return
		}
		if deliver {
			f.forward(datagram, setpoint.Message.Type())
		}
	}
}

// drainApplied discards a decision token left over from a decision taken
// while no datagram was waiting, so awaitDecision only sees decisions made
// for the setpoint at hand.
func (f *Forwarder) drainApplied() {
	select {
	case <-f.applied:
	default:
	}
}

// awaitDecision gives the operator a bounded chance to intercept a changed
// setpoint before it is forwarded. With no timeout configured, decisions
// still apply, just to later datagrams.
func (f *Forwarder) awaitDecision() {
	ms := f.cfg.Takeover.DecideTimeoutMs
	if ms <= 0 {
		return
	}
	select {
	case <-f.applied:
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-f.stopCh:
	}
}

func (f *Forwarder) notifyOutcome(doc *PacketDocument, sig mavlink.SetpointSignature, outcome takeover.Outcome) {
	switch outcome.Kind {
	case takeover.Repeated:
		doc.Meta.RepeatCnt = outcome.Repeats
		for _, n := range f.notifiers {
			n.SetpointRepeated(doc)
		}
	default:
		doc.Meta.RepeatSinceLast = outcome.Repeats
		for _, n := range f.notifiers {
			n.SetpointChanged(doc, sig)
		}
	}
}

func (f *Forwarder) forward(datagram []byte, msgType string) {
	if err := f.sendVehicle(f.vehicleAddr, datagram); err != nil {
		logger.Error("[FORWARD] Failed to forward %s: %v", msgType, err)
		metrics.Global.IncDropped("send_error")
		return
	}
	metrics.Global.IncForwarded(msgType)
	logger.Debug("[FORWARD] %s (%d bytes)", msgType, len(datagram))
}

// injectToVehicle is the tracker's datagram sink.
func (f *Forwarder) injectToVehicle(datagram []byte) {
	if err := f.sendVehicle(f.vehicleAddr, datagram); err != nil {
		logger.Error("[INJECT] Send failed: %v", err)
	}
}

func (f *Forwarder) vehicleLoop() {
	buf := make([]byte, 65536)
	for {
		n, _, err := f.vehConn.ReadFromUDP(buf)
		if err != nil {
			if f.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("[VEHICLE] Read failed: %v", err)
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		f.handleVehicleDatagram(datagram)
	}
}

// handleVehicleDatagram relays telemetry to the controller unconditionally;
// decoding is for display only and never gates the relay.
func (f *Forwarder) handleVehicleDatagram(datagram []byte) {
	now := time.Now()

	f.mu.Lock()
	dst := f.controllerAddr
	f.mu.Unlock()

	if dst != nil {
		if err := f.sendController(dst, datagram); err != nil {
			logger.Error("[TELEMETRY] Relay failed: %v", err)
		} else {
			metrics.Global.IncTelemetry()
		}
	} else {
		metrics.Global.IncDropped("no_controller")
		logger.Warn("[TELEMETRY] No controller address yet, dropped %d bytes", len(datagram))
	}

	for _, fr := range mavlink.DecodeAll(datagram) {
		switch m := fr.Message.(type) {
		case *mavlink.LocalPositionNed:
			f.updatePosition(float64(m.X), float64(m.Y), float64(m.Z))
			f.mu.Lock()
			logDue := now.Sub(f.lastPosLog) >= positionLogInterval
			if logDue {
				f.lastPosLog = now
			}
			f.mu.Unlock()
			if logDue {
				logger.Info("[VEHICLE] Position: N=%.2f E=%.2f D=%.2f", m.X, m.Y, m.Z)
				f.notifyTelemetry(fr, now)
			}
		case *mavlink.GlobalPositionInt:
			logger.Debug("[VEHICLE] Global position: lat=%.7f lon=%.7f relAlt=%.2f",
				float64(m.Lat)/1e7, float64(m.Lon)/1e7, float64(m.RelativeAlt)/1000)
			f.notifyTelemetry(fr, now)
		default:
			f.notifyTelemetry(fr, now)
		}
	}
}

func (f *Forwarder) notifyTelemetry(fr *mavlink.Frame, now time.Time) {
	doc := buildPacketDoc(fr, "vehicle", now, f.positionSnapshot())
	for _, n := range f.notifiers {
		n.Telemetry(doc)
	}
}

func (f *Forwarder) updatePosition(x, y, z float64) {
	f.mu.Lock()
	f.lastPosition = &Position{X: x, Y: y, Z: z}
	f.mu.Unlock()
}

func (f *Forwarder) positionSnapshot() *Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastPosition == nil {
		return nil
	}
	p := *f.lastPosition
	return &p
}

func (f *Forwarder) storeLast(doc *PacketDocument) {
	f.mu.Lock()
	f.lastPacket = doc
	f.mu.Unlock()
}
