// Package websocket pushes clinic events to connected front-desk clients.
// Clients subscribe to topics; every topic is scoped to the client's clinic.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/db"
)

// Topics published by the domain services.
const (
	TopicAppointments = "appointments"
	TopicInventory    = "inventory"
	TopicBilling      = "billing"
)

// PatientTopic returns the topic carrying one patient's events.
func PatientTopic(patientID string) string {
	return "patient/" + patientID
}

// Event is a real-time notification sent to clients.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	Tenant       string          `json:"-"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an Event, marshaling data when it is not nil.
func NewEvent(eventType, topic, resourceType, resourceID string, data interface{}) Event {
	evt := Event{
		Type:         eventType,
		Topic:        topic,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			evt.Data = raw
		}
	}
	return evt
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is what domain services depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Client is one websocket connection.
type Client struct {
	ID     string
	Tenant string
	Topics []string
	Send   chan []byte
}

// Hub tracks clients and their subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // tenant key -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

func key(tenant, topic string) string {
	return tenant + "|" + topic
}

func (h *Hub) addLocked(c *Client, topics []string) {
	for _, topic := range topics {
		k := key(c.Tenant, topic)
		if h.clients[k] == nil {
			h.clients[k] = make(map[*Client]struct{})
		}
		h.clients[k][c] = struct{}{}
	}
}

func (h *Hub) removeLocked(c *Client, topics []string) {
	for _, topic := range topics {
		k := key(c.Tenant, topic)
		if subs, ok := h.clients[k]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.clients, k)
			}
		}
	}
}

// Register adds a client and its initial topics.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	h.addLocked(c, c.Topics)
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	h.removeLocked(c, c.Topics)
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(c, topics)
	c.Topics = append(c.Topics, topics...)
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, topics)

	drop := make(map[string]bool, len(topics))
	for _, t := range topics {
		drop[t] = true
	}
	kept := c.Topics[:0]
	for _, t := range c.Topics {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	c.Topics = kept
}

func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Broadcast delivers event to subscribers of its tenant and topic. Clients
// whose buffers are full miss the event.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[key(event.Tenant, event.Topic)] {
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client", c.ID).Str("type", event.Type).Msg("client buffer full, event dropped")
		}
	}
}

// Publish broadcasts event under the tenant found in ctx unless the event
// already names one.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	if event.Tenant == "" {
		event.Tenant = db.TenantFromContext(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of tenant clients subscribed to topic.
func (h *Hub) TopicCount(tenant, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key(tenant, topic)])
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Handler upgrades GET /ws requests.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections from allowedOrigins; an empty list or "*"
// allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.Connect)
}

// Connect upgrades the request and subscribes the client to the topics in
// the "topics" query parameter (repeatable).
func (h *Handler) Connect(c echo.Context) error {
	tenant := db.TenantFromContext(c.Request().Context())
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Tenant: tenant,
		Topics: append([]string{}, c.QueryParams()["topics"]...),
		Send:   make(chan []byte, 256),
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
