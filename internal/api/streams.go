package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// StreamManager tracks open auth event streams per visitor. A visitor may
// have several, one per browser tab.
type StreamManager struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewStreamManager creates a new stream manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a stream for a visitor.
func (m *StreamManager) Register(visitorID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[visitorID]; !exists {
		m.active[visitorID] = make(map[*websocket.Conn]struct{})
	}
	m.active[visitorID][conn] = struct{}{}
	slog.Debug("Auth stream registered", "visitor_id", visitorID)
}

// Unregister removes a stream for a visitor.
func (m *StreamManager) Unregister(visitorID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[visitorID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.active, visitorID)
		}
		slog.Debug("Auth stream unregistered", "visitor_id", visitorID)
	}
}

// Count returns the number of open streams.
func (m *StreamManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

// CloseAll closes every stream. Used on shutdown.
func (m *StreamManager) CloseAll() {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]map[*websocket.Conn]struct{})
	m.mu.Unlock()

	for _, conns := range active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
