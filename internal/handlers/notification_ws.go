package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/api"
	"github.com/claimops/slatracker/internal/database"
	"github.com/claimops/slatracker/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 32
)

// NotificationMessageType is the type of a message pushed to websocket clients
type NotificationMessageType string

const (
	NotificationMessageTypeNotification NotificationMessageType = "notification"
	NotificationMessageTypeConnected    NotificationMessageType = "connected"
)

// NotificationMessage is the envelope pushed to websocket clients
type NotificationMessage struct {
	Type         NotificationMessageType `json:"type"`
	EmployeeRef  string                  `json:"employee_ref,omitempty"`
	Notification *database.Notification  `json:"notification,omitempty"`
}

type wsClient struct {
	conn        *websocket.Conn
	send        chan []byte
	companyRef  string
	employeeRef string
	closeOnce   sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// NotificationHub pushes stored notifications to connected employees. It is
// registered as a delivery sink on the notification service.
type NotificationHub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewNotificationHub creates a hub. With no allowed origins every origin is accepted.
func NewNotificationHub(log *zap.Logger, allowedOrigins ...string) *NotificationHub {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &NotificationHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     log.Named("ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// SetupRoutes configures WebSocket routes
func (h *NotificationHub) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/notifications", h.HandleWebSocket)
}

// Name implements services.Sink
func (h *NotificationHub) Name() string {
	return "websocket"
}

// ClientCount returns the number of connected clients
func (h *NotificationHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the connection and subscribes the caller. The
// subscriber is the authenticated employee; without auth it comes from
// ?employee= and ?company=.
func (h *NotificationHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	employee := r.URL.Query().Get("employee")
	company := r.URL.Query().Get("company")
	if s, ok := services.ScopeFrom(r.Context()); ok {
		employee, company = s.EmployeeRef, s.CompanyRef
	}
	if employee == "" {
		api.RespondValidationError(w, map[string]string{"employee": "is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	c := &wsClient{
		conn:        conn,
		send:        make(chan []byte, wsSendBuffer),
		companyRef:  company,
		employeeRef: employee,
	}
	if hello, err := json.Marshal(NotificationMessage{Type: NotificationMessageTypeConnected, EmployeeRef: employee}); err == nil {
		c.send <- hello
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("websocket client connected",
		zap.String("employee_ref", employee),
		zap.String("remote_addr", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

func (h *NotificationHub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump drains client frames so pongs and close frames are processed.
func (h *NotificationHub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.log.Debug("websocket client disconnected", zap.String("employee_ref", c.employeeRef))
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *NotificationHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Deliver implements services.Sink. Clients whose buffer is full are dropped
// rather than blocking the caller.
func (h *NotificationHub) Deliver(_ context.Context, n database.Notification) error {
	payload, err := json.Marshal(NotificationMessage{Type: NotificationMessageTypeNotification, Notification: &n})
	if err != nil {
		return err
	}

	var slow []*wsClient
	h.mu.RLock()
	for c := range h.clients {
		if c.companyRef != "" && c.companyRef != n.CompanyRef {
			continue
		}
		if !n.HasRecipient(c.employeeRef) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow websocket client", zap.String("employee_ref", c.employeeRef))
		h.unregister(c)
	}
	return nil
}

// Close disconnects every client
func (h *NotificationHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
