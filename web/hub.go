package web

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"mavmitm/forwarder"
	"mavmitm/logger"
	"mavmitm/mavlink"
)

// clientSendBuffer bounds the per-client queue. A client that cannot keep
// up with the packet stream gets disconnected rather than stalling the
// datagram path.
const clientSendBuffer = 64

// pushEnvelope is the wire shape for websocket pushes.
type pushEnvelope struct {
	Type   string                    `json:"type"`
	Packet *forwarder.PacketDocument `json:"packet"`
}

// Hub fans packet events out to websocket clients. It implements the
// forwarder's Notifier interface, so the datagram path publishes straight
// into it; every method is non-blocking.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	latest  []byte // last controller-side push, replayed to new clients
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// HandleWS upgrades the connection and registers the client. The latest
// packet (if any) is replayed immediately so a fresh page is not blank
// until the next setpoint arrives.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[WS] Upgrade failed: %v", err)
		return
	}

	send := make(chan []byte, clientSendBuffer)

	h.mu.Lock()
	h.clients[conn] = send
	if h.latest != nil {
		send <- h.latest
	}
	n := len(h.clients)
	h.mu.Unlock()
	logger.Info("[WS] Client connected from %s (%d total)", r.RemoteAddr, n)

	go h.writeLoop(conn, send)
	go h.readLoop(conn)
}

func (h *Hub) writeLoop(conn *websocket.Conn, send chan []byte) {
	defer h.drop(conn)
	for msg := range send {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readLoop discards client frames; it exists to notice disconnects and
// answer pings.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.drop(c)
	}
}

func (h *Hub) push(msgType string, doc *forwarder.PacketDocument, remember bool) {
	buf, err := json.Marshal(pushEnvelope{Type: msgType, Packet: doc})
	if err != nil {
		logger.Error("[WS] Marshal failed: %v", err)
		return
	}

	h.mu.Lock()
	if remember {
		h.latest = buf
	}
	var stale []*websocket.Conn
	for conn, send := range h.clients {
		select {
		case send <- buf:
		default:
			// Queue full; the client is too slow to follow the stream.
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		logger.Warn("[WS] Dropping slow client %s", conn.RemoteAddr())
		h.drop(conn)
	}
}

// PacketForwarded pushes a relayed non-setpoint frame.
func (h *Hub) PacketForwarded(doc *forwarder.PacketDocument) {
	h.push("packet", doc, true)
}

// SetpointChanged pushes a new setpoint value.
func (h *Hub) SetpointChanged(doc *forwarder.PacketDocument, _ mavlink.SetpointSignature) {
	h.push("packet", doc, true)
}

// SetpointRepeated tells clients the stream is holding its value; the
// repeat counter rides in the document meta.
func (h *Hub) SetpointRepeated(doc *forwarder.PacketDocument) {
	h.push("none", doc, true)
}

// Telemetry pushes decoded vehicle frames.
func (h *Hub) Telemetry(doc *forwarder.PacketDocument) {
	h.push("telemetry", doc, false)
}
