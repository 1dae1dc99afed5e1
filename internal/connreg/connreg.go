// Package connreg is the connection registry (C5): instance-local maps
// from session/node IDs to their live WebSocket connections. Purely
// in-memory bookkeeping, mirroring the teacher's RoomHub.rooms
// map[string]*Room + sync.RWMutex pattern (handler/room_hub.go).
package connreg

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// Conn wraps a WebSocket connection with the write-mutex the teacher
// always pairs with fasthttp/gorilla websocket connections (concurrent
// writes to the same connection are not safe without one).
type Conn struct {
	WS      *websocket.Conn
	WriteMu sync.Mutex
}

// Write serializes writes to the underlying connection.
func (c *Conn) Write(messageType int, data []byte) error {
	c.WriteMu.Lock()
	defer c.WriteMu.Unlock()
	return c.WS.WriteMessage(messageType, data)
}

// Registry maps IDs (session or node) to their Conn, scoped to this
// scheduler instance. A session/node whose connection lives on a
// different instance is not found here — that's what C6's routed send
// and the forwarding fabric are for.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

func (r *Registry) Add(id string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = conn
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
