package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tangent/internal/domain"
	"tangent/internal/httputil"
	"tangent/internal/realtime"
	chatSvc "tangent/internal/service/chat"
)

// WSHandler upgrades authorized viewers onto a chat's realtime feed and
// accepts questions over the same connection.
type WSHandler struct {
	chatService *chatSvc.Service
	hub         *realtime.Hub
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewWSHandler creates a websocket handler. allowedOrigins follows the CORS
// origin list; "*" disables the origin check.
func NewWSHandler(chatService *chatSvc.Service, hub *realtime.Hub, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		chatService: chatService,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if strings.EqualFold(origin, candidate) {
				return true
			}
		}
		return false
	}
}

// wsConn adapts a gorilla connection to the hub's send path. Gorilla permits
// one concurrent writer, so sends from the hub and from the read loop share
// a mutex.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// writeWait bounds a single websocket write. A peer that stopped reading
// surfaces a timeout error, and the hub drops the viewer instead of waiting
// on it indefinitely.
const writeWait = 10 * time.Second

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) sendEvent(event realtime.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// question is the only frame viewers send.
type question struct {
	Content string `json:"content"`
}

// Serve joins the caller to a chat's realtime feed
// GET /ws/chats/{id}
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}
	accountID := httputil.GetAccountID(r)

	// Authorize before the upgrade so rejection is a plain HTTP status.
	if _, err := h.chatService.GetChat(r.Context(), chatID, accountID); err != nil {
		handleError(w, err)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", "chat_id", chatID, "error", err)
		return
	}

	conn := &wsConn{conn: raw}
	h.hub.Connect(chatID, conn)
	h.logger.Info("viewer connected", "chat_id", chatID, "account_id", accountID)

	defer func() {
		h.hub.Disconnect(chatID, conn)
		conn.Close()
		h.hub.Broadcast(chatID, realtime.Event{
			Type: realtime.EventNotification,
			Data: map[string]string{"message": "a viewer left the chat"},
		})
		h.logger.Info("viewer disconnected", "chat_id", chatID, "account_id", accountID)
	}()

	for {
		_, payload, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "chat_id", chatID, "error", err)
			}
			return
		}

		var q question
		if err := json.Unmarshal(payload, &q); err != nil || strings.TrimSpace(q.Content) == "" {
			conn.sendEvent(realtime.Event{
				Type: realtime.EventError,
				Data: map[string]string{"message": "expected a JSON frame with a content field"},
			})
			continue
		}

		// The completed turn reaches this viewer through the hub along with
		// everyone else; only failures are reported directly.
		if _, err := h.chatService.Ask(r.Context(), chatID, accountID, q.Content); err != nil {
			if errors.Is(err, domain.ErrUnavailable) {
				conn.sendEvent(realtime.Event{
					Type: realtime.EventError,
					Data: map[string]string{"message": "completion is temporarily unavailable, retry the turn"},
				})
				continue
			}
			conn.sendEvent(realtime.Event{
				Type: realtime.EventError,
				Data: map[string]string{"message": err.Error()},
			})
		}
	}
}
