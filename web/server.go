// Package web exposes the control plane: a small JSON API for takeover
// decisions and proxy state, plus a websocket stream of the packets the
// proxy sees.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mavmitm/forwarder"
	"mavmitm/logger"
	"mavmitm/mavlink"
	"mavmitm/metrics"
	"mavmitm/takeover"
)

// TargetRequest is the JSON body for engaging (or retargeting) a takeover.
// Hz is optional; zero means "match the observed stream rate".
type TargetRequest struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Alt   float64 `json:"alt"`
	Yaw   float64 `json:"yaw"`
	Hz    float64 `json:"hz"`
}

// TargetStatus describes the active takeover, if any.
type TargetStatus struct {
	Active bool    `json:"active"`
	North  float64 `json:"north,omitempty"`
	East   float64 `json:"east,omitempty"`
	Alt    float64 `json:"alt,omitempty"`
	Yaw    float64 `json:"yaw,omitempty"`
	Hz     float64 `json:"hz,omitempty"`
}

// Proxy is the slice of the forwarder the control plane needs.
type Proxy interface {
	SubmitDecision(forwarder.Decision)
	LastPacket() *forwarder.PacketDocument
}

// Server wires the HTTP surface to the forwarder and tracker.
type Server struct {
	fwd     Proxy
	tracker *takeover.Tracker
	hub     *Hub
	srv     *http.Server
}

func NewServer(fwd Proxy, tracker *takeover.Tracker, hub *Hub) *Server {
	return &Server{fwd: fwd, tracker: tracker, hub: hub}
}

// Routes builds the request mux; split out so tests can drive the handlers
// without a listener.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		snapshot := metrics.Global.GetSnapshot()
		if hz, ok := s.tracker.EstimatedHz(); ok {
			snapshot["estimated_hz"] = hz
		}
		snapshot["ws_clients"] = s.hub.ClientCount()
		json.NewEncoder(w).Encode(snapshot)
	})

	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		doc := s.fwd.LastPacket()
		if doc == nil {
			http.Error(w, "no packets yet", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(doc)
	})

	mux.HandleFunc("/api/target", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(s.targetStatus())
		case http.MethodPost:
			var req TargetRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
				return
			}
			logger.Info("[WEB] Takeover request: N=%.3f E=%.3f alt=%.3f yaw=%.3f hz=%.1f",
				req.North, req.East, req.Alt, req.Yaw, req.Hz)
			s.fwd.SubmitDecision(forwarder.Decision{
				Target: mavlink.SetpointSignature{
					Type: "SET_POSITION_TARGET_LOCAL_NED",
					X:    mavlink.Round3(req.North),
					Y:    mavlink.Round3(req.East),
					Alt:  mavlink.Round3(req.Alt),
					Yaw:  mavlink.Round3(req.Yaw),
				},
				Hz: req.Hz,
			})
			json.NewEncoder(w).Encode(s.targetStatus())
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/target/stop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		logger.Info("[WEB] Takeover stop requested")
		s.fwd.SubmitDecision(forwarder.Decision{Stop: true})
		json.NewEncoder(w).Encode(s.targetStatus())
	})

	mux.HandleFunc("/ws/packets", s.hub.HandleWS)

	return mux
}

func (s *Server) targetStatus() TargetStatus {
	target, hz, ok := s.tracker.ActiveTarget()
	if !ok {
		return TargetStatus{}
	}
	return TargetStatus{
		Active: true,
		North:  target.X,
		East:   target.Y,
		Alt:    target.Alt,
		Yaw:    target.Yaw,
		Hz:     hz,
	}
}

// Start serves the API in the background.
func (s *Server) Start(port int) {
	// No read/write timeouts: they would apply to the hijacked websocket
	// connections too and kill long-lived streams.
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Web server starting on http://0.0.0.0:%d", port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Web server failed: %v", err)
		}
	}()
}

// Stop closes the listener and disconnects websocket clients.
func (s *Server) Stop() {
	if s.srv != nil {
		s.srv.Close()
	}
	s.hub.Close()
}
