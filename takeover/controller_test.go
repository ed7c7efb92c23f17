package takeover

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mavmitm/mavlink"
)

// recordingSender collects injected datagrams.
type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingSender) send(buf []byte) {
	r.mu.Lock()
	r.sent = append(r.sent, buf)
	r.mu.Unlock()
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) lastFrame(t *testing.T) *mavlink.Frame {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatalf("nothing injected")
	}
	f, err := mavlink.Decode(r.sent[len(r.sent)-1])
	if err != nil {
		t.Fatalf("injected datagram does not decode: %v", err)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within 2s")
}

func TestInjectorSendsTarget(t *testing.T) {
	rec := &recordingSender{}
	tr := NewTracker()
	tr.SetSender(rec.send)

	tr.Engage(sig(10, -5, 25, 1.5), 200)
	defer tr.Disengage()

	waitFor(t, func() bool { return rec.count() >= 3 })

	f := rec.lastFrame(t)
	if f.SystemID != injectSystemID {
		t.Fatalf("system id = %d, want %d", f.SystemID, injectSystemID)
	}
	sp, ok := f.Message.(*mavlink.SetPositionTargetLocalNed)
	if !ok {
		t.Fatalf("injected %T", f.Message)
	}
	if sp.TypeMask != injectTypeMask {
		t.Fatalf("type mask = 0x%04X, want 0x%04X", sp.TypeMask, injectTypeMask)
	}
	if sp.X != 10 || sp.Y != -5 || sp.Z != -25 || sp.Yaw != 1.5 {
		t.Fatalf("position = (%v, %v, %v) yaw %v", sp.X, sp.Y, sp.Z, sp.Yaw)
	}
	if sp.CoordinateFrame != frameLocalNed || sp.TargetSystem != 1 || sp.TargetComponent != 1 {
		t.Fatalf("addressing = frame %d target %d/%d", sp.CoordinateFrame, sp.TargetSystem, sp.TargetComponent)
	}
}

func TestInjectorExclusivity(t *testing.T) {
	rec := &recordingSender{}
	tr := NewTracker()
	tr.SetSender(rec.send)

	var running, violations int32
	tr.onInjectorStart = func() {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.AddInt32(&violations, 1)
		}
	}
	tr.onInjectorStop = func() {
		atomic.AddInt32(&running, -1)
	}

	// Rapid retargeting must replace the injector, never stack them.
	for i := 0; i < 10; i++ {
		tr.Engage(sig(float64(i), 0, 20, 0), 500)
	}
	waitFor(t, func() bool { return rec.count() >= 1 })
	tr.Disengage()

	waitFor(t, func() bool { return atomic.LoadInt32(&running) == 0 })
	if atomic.LoadInt32(&violations) != 0 {
		t.Fatalf("observed %d concurrent injectors", atomic.LoadInt32(&violations))
	}
	if tr.Active() {
		t.Fatalf("tracker still active after disengage")
	}

	// No further sends once disengaged.
	n := rec.count()
	time.Sleep(20 * time.Millisecond)
	if rec.count() != n {
		t.Fatalf("injector kept sending after disengage")
	}
}

func TestEngageReplacesTarget(t *testing.T) {
	rec := &recordingSender{}
	tr := NewTracker()
	tr.SetSender(rec.send)

	first := sig(1, 1, 10, 0)
	second := sig(9, 9, 40, 2)

	tr.Engage(first, 200)
	waitFor(t, func() bool { return rec.count() >= 1 })
	tr.Engage(second, 200)
	defer tr.Disengage()

	target, hz, ok := tr.ActiveTarget()
	if !ok || target != second || hz != 200 {
		t.Fatalf("active target = %+v %v %v", target, hz, ok)
	}
	if !tr.Matches(second) || tr.Matches(first) {
		t.Fatalf("Matches inconsistent with the active session")
	}

	before := rec.count()
	waitFor(t, func() bool { return rec.count() > before })
	sp := rec.lastFrame(t).Message.(*mavlink.SetPositionTargetLocalNed)
	if sp.X != 9 || sp.Z != -40 {
		t.Fatalf("still injecting the replaced target: %+v", sp)
	}
}
