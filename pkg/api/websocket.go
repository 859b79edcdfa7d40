package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/metrics"
	"github.com/ethpandaops/recipe-app-api/pkg/recipe"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// createUpgrader creates a WebSocket upgrader with origin validation.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Non-browser clients send no origin.
			if origin == "" {
				return true
			}

			return allowAll || originSet[origin]
		},
	}
}

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Server -> Client messages.
	MessageTypeChange    MessageType = "change"
	MessageTypeConnected MessageType = "connected"
	MessageTypePong      MessageType = "pong"

	// Client -> Server messages.
	MessageTypePing MessageType = "ping"
)

// Message represents a WebSocket message.
type Message struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action,omitempty"`
	Entity   string      `json:"entity,omitempty"`
	EntityID int64       `json:"entity_id,omitempty"`
	Payload  any         `json:"payload,omitempty"`
}

// userMessage is addressed to every connection of a user, or to a single
// client when client is set.
type userMessage struct {
	userID int64
	client *Client
	msg    *Message
}

// Hub tracks connected clients per user and delivers change notifications
// only to the owner of the changed object.
type Hub struct {
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	clients map[*Client]bool
	byUser  map[int64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	send       chan *userMessage
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(log logrus.FieldLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		log:        log.WithField("component", "websocket"),
		metrics:    m,
		clients:    make(map[*Client]bool),
		byUser:     make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		send:       make(chan *userMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")

	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Stopping WebSocket hub")

			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()

			return

		case client := <-h.register:
			h.mu.Lock()

			h.clients[client] = true

			if _, ok := h.byUser[client.user.ID]; !ok {
				h.byUser[client.user.ID] = make(map[*Client]bool)
			}

			h.byUser[client.user.ID][client] = true
			h.reportClients()

			h.mu.Unlock()

			h.log.WithFields(logrus.Fields{
				"client": client.id,
				"user":   client.user.Email,
			}).Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

			h.log.WithField("client", client.id).Debug("Client unregistered")

		case um := <-h.send:
			h.mu.Lock()

			if um.client != nil {
				if h.clients[um.client] {
					h.deliverLocked(um.client, um.msg)
				}
			} else {
				for client := range h.byUser[um.userID] {
					h.deliverLocked(client, um.msg)
				}
			}

			h.mu.Unlock()
		}
	}
}

// deliverLocked queues msg on a client, dropping the client when its buffer
// is full. h.mu must be held.
func (h *Hub) deliverLocked(client *Client, msg *Message) {
	select {
	case client.send <- msg:
	default:
		// Slow consumer.
		h.removeLocked(client)
	}
}

// removeLocked drops a client and closes its send channel. h.mu must be held.
func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)

	if clients, ok := h.byUser[client.user.ID]; ok {
		delete(clients, client)

		if len(clients) == 0 {
			delete(h.byUser, client.user.ID)
		}
	}

	h.reportClients()
}

func (h *Hub) reportClients() {
	if h.metrics != nil {
		h.metrics.SetWebSocketClients(len(h.clients))
	}
}

// SendToUser queues a message for every connection of a user.
func (h *Hub) SendToUser(userID int64, msg *Message) {
	h.enqueue(&userMessage{userID: userID, msg: msg})
}

// SendToClient queues a message for a single connection.
func (h *Hub) SendToClient(client *Client, msg *Message) {
	h.enqueue(&userMessage{userID: client.user.ID, client: client, msg: msg})
}

func (h *Hub) enqueue(um *userMessage) {
	select {
	case h.send <- um:
	default:
		h.log.Warn("Send channel full, dropping message")
	}
}

// BroadcastEvent forwards a recipe service change to the owning user.
func (h *Hub) BroadcastEvent(event recipe.Event) {
	msg := &Message{
		Type:     MessageTypeChange,
		Action:   string(event.Action),
		Entity:   string(event.EntityType),
		EntityID: event.EntityID,
	}

	if event.Recipe != nil {
		msg.Payload = newRecipeDetail(event.Recipe)
	}

	h.SendToUser(event.UserID, msg)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Client represents a WebSocket client connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	user *store.User
	send chan *Message
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, user *store.User, id string) *Client {
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		user: user,
		send: make(chan *Message, 256),
	}
}

// ReadPump reads client messages until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}

		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("WebSocket read error")
			}

			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.WithError(err).Warn("Failed to parse WebSocket message")

			continue
		}

		if msg.Type == MessageTypePing {
			c.hub.SendToClient(c, &Message{Type: MessageTypePong})

			continue
		}

		c.hub.log.WithField("type", msg.Type).Debug("Ignoring WebSocket message")
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs authenticates and upgrades a WebSocket request.
func ServeWs(hub *Hub, authSvc auth.Service, allowedOrigins []string, w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")

		return
	}

	user, err := authSvc.ValidateSession(r.Context(), token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "Invalid token.")

		return
	}

	upgrader := createUpgrader(allowedOrigins)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Error("Failed to upgrade WebSocket")

		return
	}

	clientID := middleware.GetReqID(r.Context())
	if clientID == "" {
		clientID = uuid.New().String()
	}

	client := NewClient(hub, conn, user, clientID)

	// Queue the greeting before registering so it is the first frame.
	client.send <- &Message{Type: MessageTypeConnected, Payload: newUserResponse(user)}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()

		return
	}

	go client.WritePump()
	go client.ReadPump()
}
