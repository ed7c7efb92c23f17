package metrics

import (
	"sync"
	"time"
)

// Metrics holds the proxy state and statistics
type Metrics struct {
	mu sync.RWMutex

	// Per-message-type counters for the controller -> vehicle direction
	Forwarded  map[string]int64
	Suppressed map[string]int64 // dedup repeats and takeover-dropped setpoints
	Dropped    map[string]int64 // undecodable datagrams, keyed by reason

	// Other directions / sources
	Telemetry int64 // vehicle -> controller datagrams relayed
	Injected  int64 // synthetic setpoints emitted during takeover
	Captured  int64 // datagrams recovered from the raw tap

	TakeoverActive bool
	TakeoverCount  int64 // sessions started since boot

	StartTime time.Time

	// Logs
	RecentLogs []LogEntry
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

var Global *Metrics

func init() {
	Global = New()
}

func New() *Metrics {
	return &Metrics{
		Forwarded:  make(map[string]int64),
		Suppressed: make(map[string]int64),
		Dropped:    make(map[string]int64),
		StartTime:  time.Now(),
		RecentLogs: make([]LogEntry, 0, 100),
	}
}

func (m *Metrics) IncForwarded(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Forwarded[msgType]++
}

func (m *Metrics) IncSuppressed(msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Suppressed[msgType]++
}

func (m *Metrics) IncDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Dropped[reason]++
}

func (m *Metrics) IncTelemetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Telemetry++
}

func (m *Metrics) IncInjected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Injected++
}

func (m *Metrics) IncCaptured() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Captured++
}

func (m *Metrics) SetTakeoverActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active && !m.TakeoverActive {
		m.TakeoverCount++
	}
	m.TakeoverActive = active
}

func (m *Metrics) AddLog(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
	}

	// Keep last 100 logs
	if len(m.RecentLogs) >= 100 {
		m.RecentLogs = m.RecentLogs[1:]
	}
	m.RecentLogs = append(m.RecentLogs, entry)
}

func (m *Metrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"forwarded":       m.Forwarded,
		"suppressed":      m.Suppressed,
		"dropped":         m.Dropped,
		"telemetry":       m.Telemetry,
		"injected":        m.Injected,
		"captured":        m.Captured,
		"takeover_active": m.TakeoverActive,
		"takeover_count":  m.TakeoverCount,
		"uptime":          time.Since(m.StartTime).String(),
		"logs":            m.RecentLogs,
	}
}
