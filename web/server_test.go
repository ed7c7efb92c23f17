package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mavmitm/forwarder"
	"mavmitm/mavlink"
	"mavmitm/takeover"
)

func takeoverTestSig() mavlink.SetpointSignature {
	return mavlink.SetpointSignature{Type: "SET_POSITION_TARGET_LOCAL_NED", X: 1, Y: 2, Alt: 30}
}

type fakeProxy struct {
	mu        sync.Mutex
	tracker   *takeover.Tracker
	decisions []forwarder.Decision
	last      *forwarder.PacketDocument
}

func (p *fakeProxy) SubmitDecision(d forwarder.Decision) {
	p.mu.Lock()
	p.decisions = append(p.decisions, d)
	p.mu.Unlock()
	if d.Stop {
		p.tracker.Disengage()
	} else {
		p.tracker.Engage(d.Target, p.tracker.InjectRate(d.Hz))
	}
}

func (p *fakeProxy) LastPacket() *forwarder.PacketDocument {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeProxy, *Hub) {
	t.Helper()
	tracker := takeover.NewTracker()
	tracker.SetSender(func([]byte) {})
	proxy := &fakeProxy{tracker: tracker}
	hub := NewHub()
	srv := NewServer(proxy, tracker, hub)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		tracker.Disengage()
		hub.Close()
		ts.Close()
	})
	return ts, proxy, hub
}

func TestHealthAndStatus(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}

	resp, err = http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if _, ok := status["takeover_active"]; !ok {
		t.Fatalf("status missing takeover_active: %v", status)
	}
}

func TestLatestBeforeTraffic(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/latest")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("latest with no traffic = %d, want 404", resp.StatusCode)
	}
}

func TestTargetLifecycle(t *testing.T) {
	ts, proxy, _ := newTestServer(t)

	// No takeover yet.
	resp, err := http.Get(ts.URL + "/api/target")
	if err != nil {
		t.Fatalf("target get: %v", err)
	}
	var status TargetStatus
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status.Active {
		t.Fatalf("takeover active before any request")
	}

	// Engage.
	body := `{"north": 12.5, "east": -3.25, "alt": 40, "yaw": 1.5, "hz": 20}`
	resp, err = http.Post(ts.URL+"/api/target", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("target post: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if !status.Active || status.North != 12.5 || status.East != -3.25 || status.Alt != 40 || status.Hz != 20 {
		t.Fatalf("engaged status = %+v", status)
	}
	if len(proxy.decisions) != 1 || proxy.decisions[0].Stop {
		t.Fatalf("decisions = %+v", proxy.decisions)
	}

	// Malformed body is rejected without touching the tracker.
	resp, err = http.Post(ts.URL+"/api/target", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("bad post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad body status = %d", resp.StatusCode)
	}

	// Stop.
	resp, err = http.Post(ts.URL+"/api/target/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status.Active {
		t.Fatalf("still active after stop: %+v", status)
	}
	last := proxy.decisions[len(proxy.decisions)-1]
	if !last.Stop {
		t.Fatalf("stop decision not submitted: %+v", last)
	}

	// Stop only accepts POST.
	resp, err = http.Get(ts.URL + "/api/target/stop")
	if err != nil {
		t.Fatalf("stop get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("stop via GET = %d", resp.StatusCode)
	}
}

func TestWebsocketPushAndReplay(t *testing.T) {
	ts, _, hub := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/packets"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	doc := &forwarder.PacketDocument{
		MessageType: "SET_POSITION_TARGET_LOCAL_NED",
		Direction:   "controller",
	}
	doc.Meta.RepeatSinceLast = 2
	hub.SetpointChanged(doc, takeoverTestSig())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Type   string                    `json:"type"`
		Packet *forwarder.PacketDocument `json:"packet"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if env.Type != "packet" || env.Packet.MessageType != "SET_POSITION_TARGET_LOCAL_NED" {
		t.Fatalf("push = %+v", env)
	}
	if env.Packet.Meta.RepeatSinceLast != 2 {
		t.Fatalf("meta = %+v", env.Packet.Meta)
	}

	// Repeats push as "none".
	hub.SetpointRepeated(doc)
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read none: %v", err)
	}
	if env.Type != "none" {
		t.Fatalf("repeat push type = %q", env.Type)
	}

	// A late joiner receives the latest push immediately.
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer conn2.Close()
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn2.ReadJSON(&env); err != nil {
		t.Fatalf("replay read: %v", err)
	}
	if env.Type != "none" {
		t.Fatalf("replayed type = %q", env.Type)
	}
}
