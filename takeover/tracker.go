// Package takeover tracks the controller's setpoint stream and, on demand,
// replaces it with a synthetic stream toward an operator-chosen target.
package takeover

import (
	"sync"
	"time"

	"mavmitm/logger"
	"mavmitm/mavlink"
	"mavmitm/metrics"
)

const (
	// intervalWindow caps how many inter-arrival samples feed the rate
	// estimate; older samples are evicted.
	intervalWindow = 40

	// minIntervalSamples is how many samples are needed before the
	// estimate is considered usable.
	minIntervalSamples = 3

	// MinInjectHz is the floor for the injection rate. DefaultInjectHz is
	// used when the observed stream never produced a usable estimate.
	MinInjectHz     = 0.1
	DefaultInjectHz = 10.0
)

// OutcomeKind classifies what a newly observed setpoint means relative to
// the stream so far.
type OutcomeKind int

const (
	FirstSeen OutcomeKind = iota
	Repeated
	Changed
)

// Outcome is the dedup verdict for one observed setpoint. Repeats carries
// the consecutive-repeat count for Repeated, and the count the previous
// value accumulated for Changed.
type Outcome struct {
	Kind    OutcomeKind
	Repeats int
}

// Sender delivers an encoded datagram toward the vehicle. The forwarding
// layer provides the real implementation.
type Sender func(datagram []byte)

// session is one running injector.
type session struct {
	target mavlink.SetpointSignature
	hz     float64
	stop   chan struct{}
	done   chan struct{}
}

// Tracker owns all state derived from the controller's setpoint stream:
// the dedup window, the inter-arrival rate estimate, and the injector
// session if one is running. A single mutex guards all of it so the
// datagram path, the HTTP handlers, and the console never race.
type Tracker struct {
	mu sync.Mutex

	haveLast bool
	last     mavlink.SetpointSignature
	repeats  int

	intervals   []float64
	lastArrival time.Time

	sender    Sender
	defaultHz float64
	active    *session

	// test seams; nil outside tests
	onInjectorStart func()
	onInjectorStop  func()
}

func NewTracker() *Tracker {
	return &Tracker{defaultHz: DefaultInjectHz}
}

// SetDefaultRate overrides the fallback injection rate used when neither an
// explicit request nor an observed estimate is available.
func (t *Tracker) SetDefaultRate(hz float64) {
	if hz < MinInjectHz {
		return
	}
	t.mu.Lock()
	t.defaultHz = hz
	t.mu.Unlock()
}

// SetSender installs the datagram sink used by injectors. Must be called
// before Engage.
func (t *Tracker) SetSender(s Sender) {
	t.mu.Lock()
	t.sender = s
	t.mu.Unlock()
}

// Observe records one setpoint from the controller stream and returns the
// dedup verdict. It also feeds the rate estimator.
func (t *Tracker) Observe(sig mavlink.SetpointSignature, now time.Time) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastArrival.IsZero() {
		dt := now.Sub(t.lastArrival).Seconds()
		if dt > 0 {
			t.intervals = append(t.intervals, dt)
			if len(t.intervals) > intervalWindow {
				t.intervals = t.intervals[len(t.intervals)-intervalWindow:]
			}
		}
	}
	t.lastArrival = now

	if !t.haveLast {
		t.haveLast = true
		t.last = sig
		t.repeats = 0
		return Outcome{Kind: FirstSeen}
	}
	if sig == t.last {
		t.repeats++
		return Outcome{Kind: Repeated, Repeats: t.repeats}
	}
	prev := t.repeats
	t.last = sig
	t.repeats = 0
	return Outcome{Kind: Changed, Repeats: prev}
}

// EstimatedHz returns the estimated setpoint rate from the observed
// inter-arrival intervals, or (0, false) until enough samples exist.
func (t *Tracker) EstimatedHz() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimatedHzLocked()
}

func (t *Tracker) estimatedHzLocked() (float64, bool) {
	if len(t.intervals) < minIntervalSamples {
		return 0, false
	}
	var sum float64
	for _, dt := range t.intervals {
		sum += dt
	}
	mean := sum / float64(len(t.intervals))
	if mean <= 0 {
		return 0, false
	}
	return 1 / mean, true
}

// InjectRate resolves the rate a new injector should use: the explicit
// request if positive, else the observed estimate, else the default. The
// result never goes below MinInjectHz.
func (t *Tracker) InjectRate(requested float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	hz := requested
	if hz <= 0 {
		if est, ok := t.estimatedHzLocked(); ok {
			hz = est
		} else {
			hz = t.defaultHz
		}
	}
	if hz < MinInjectHz {
		hz = MinInjectHz
	}
	return hz
}

// Engage starts injecting setpoints toward target at hz. If an injector is
// already running it is stopped and fully joined before the replacement
// starts, so at most one injector ever sends.
func (t *Tracker) Engage(target mavlink.SetpointSignature, hz float64) {
	t.mu.Lock()
	prev := t.active
	if hz < MinInjectHz {
		hz = MinInjectHz
	}
	s := &session{
		target: target,
		hz:     hz,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.active = s
	sender := t.sender
	start := t.onInjectorStart
	stop := t.onInjectorStop
	t.mu.Unlock()

	if prev != nil {
		close(prev.stop)
		<-prev.done
	}

	logger.Info("takeover engaged: target N=%.3f E=%.3f alt=%.3f yaw=%.3f at %.1f Hz",
		target.X, target.Y, target.Alt, target.Yaw, hz)
	metrics.Global.SetTakeoverActive(true)

	go runInjector(s, sender, start, stop)
}

// Disengage stops the running injector, if any, and joins it.
func (t *Tracker) Disengage() {
	t.mu.Lock()
	prev := t.active
	t.active = nil
	t.mu.Unlock()

	if prev == nil {
		return
	}
	close(prev.stop)
	<-prev.done
	logger.Info("takeover disengaged")
	metrics.Global.SetTakeoverActive(false)
}

// Active reports whether an injector is currently running.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}

// ActiveTarget returns the target of the running injector.
func (t *Tracker) ActiveTarget() (mavlink.SetpointSignature, float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return mavlink.SetpointSignature{}, 0, false
	}
	return t.active.target, t.active.hz, true
}

// Matches reports whether sig equals the running injector's target, which
// the display layer uses to tag echoed frames.
func (t *Tracker) Matches(sig mavlink.SetpointSignature) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil && t.active.target == sig
}
