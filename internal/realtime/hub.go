package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is what the hub delivers to viewers, encoded once per broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Event types on the wire.
const (
	EventTurn         = "turn"
	EventNotification = "notification"
	EventError        = "error"
)

// Conn is one viewer's send path. The websocket transport adapts its
// connection to this; tests plug in fakes.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// pool holds one chat's viewers. Its mutex is held for the whole send loop of
// a broadcast, so broadcasts for one chat reach every viewer in invocation
// order and never observe a half-updated membership set. dead is set under mu
// when the last viewer leaves; the marked pool is then unlinked from the hub
// map, and a Connect that raced into it retries against a fresh pool.
type pool struct {
	mu    sync.Mutex
	dead  bool
	conns map[Conn]struct{}
}

// Hub tracks live viewer connections per chat and fans out newly appended
// turns. It is scoped to one process and rebuilt from nothing on restart;
// horizontal scaling requires an external fan-out layer.
//
// No method acquires a pool's mutex while holding h.mu, so a viewer with a
// wedged transport can stall only its own chat's pool, never the hub map or
// operations on other chats.
type Hub struct {
	mu     sync.Mutex
	pools  map[string]*pool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		pools:  make(map[string]*pool),
		logger: logger,
	}
}

// Connect registers an already-authorized viewer for a chat.
func (h *Hub) Connect(chatID string, conn Conn) {
	if conn == nil {
		return
	}
	for {
		h.mu.Lock()
		p, ok := h.pools[chatID]
		if !ok {
			p = &pool{conns: make(map[Conn]struct{})}
			h.pools[chatID] = p
		}
		h.mu.Unlock()

		p.mu.Lock()
		if p.dead {
			// Lost a race with the empty-pool cleanup; the map entry is
			// gone or about to go, so start over with a fresh pool.
			p.mu.Unlock()
			continue
		}
		p.conns[conn] = struct{}{}
		p.mu.Unlock()
		return
	}
}

// Disconnect removes a viewer and closes its connection. The chat's entry is
// dropped once its last viewer leaves, so short-lived chats do not accumulate.
func (h *Hub) Disconnect(chatID string, conn Conn) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	p, ok := h.pools[chatID]
	h.mu.Unlock()
	if !ok {
		_ = conn.Close()
		return
	}

	p.mu.Lock()
	delete(p.conns, conn)
	empty := len(p.conns) == 0
	if empty {
		p.dead = true
	}
	p.mu.Unlock()
	_ = conn.Close()

	if empty {
		h.retire(chatID, p)
	}
}

// retire unlinks a pool that was marked dead under its own lock. The pointer
// comparison keeps a dead pool from evicting the fresh one a retrying Connect
// may already have installed under the same chat.
func (h *Hub) retire(chatID string, p *pool) {
	h.mu.Lock()
	if h.pools[chatID] == p {
		delete(h.pools, chatID)
	}
	h.mu.Unlock()
}

// Broadcast delivers event to every current viewer of the chat. Delivery to a
// single viewer is best-effort: a failed send drops that viewer and moves on,
// never aborting delivery to the others or failing the caller.
func (h *Hub) Broadcast(chatID string, event Event) {
	h.mu.Lock()
	p, ok := h.pools[chatID]
	h.mu.Unlock()
	if !ok {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode broadcast event", "chat_id", chatID, "error", err)
		return
	}

	var dropped []Conn
	p.mu.Lock()
	for conn := range p.conns {
		if err := conn.Send(data); err != nil {
			h.logger.Warn("broadcast send failed, dropping viewer",
				"chat_id", chatID,
				"error", err,
			)
			delete(p.conns, conn)
			dropped = append(dropped, conn)
		}
	}
	empty := len(p.conns) == 0
	if empty {
		p.dead = true
	}
	p.mu.Unlock()

	for _, conn := range dropped {
		_ = conn.Close()
	}
	if empty {
		h.retire(chatID, p)
	}
}

// Viewers reports the number of live connections for a chat.
func (h *Hub) Viewers(chatID string) int {
	h.mu.Lock()
	p, ok := h.pools[chatID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
