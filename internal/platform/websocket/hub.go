// Package websocket pushes change notifications to browser clients so that
// open views refetch a collection after a bulk upload or record edit.
// Clients subscribe to collection names; topics are scoped to the tenant
// the connection was authenticated for.
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/occuhealth/occuhealth/internal/platform/db"
)

// Event types.
const (
	EventCollectionChanged = "collection.changed"
	EventRecordCreated     = "record.created"
	EventRecordUpdated     = "record.updated"
	EventRecordDeleted     = "record.deleted"
	EventImportPending     = "import.pending"
	EventImportCommitted   = "import.committed"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is a change notification.
type Event struct {
	Type       string    `json:"type"`
	Collection string    `json:"collection"`
	RecordID   string    `json:"recordId,omitempty"`
	ImportID   string    `json:"importId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connection. Topics are stored tenant-qualified.
type Client struct {
	ID     string
	Tenant string
	Send   chan []byte

	topics map[string]struct{}
}

// NewClient creates an unregistered client for tenant.
func NewClient(tenant string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		Tenant: tenant,
		Send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
}

func topic(tenant, collection string) string {
	return tenant + "/" + strings.TrimSpace(collection)
}

// Hub tracks clients and their subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
}

// Unregister drops the client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for t := range client.topics {
		h.removeLocked(t, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds collections to the client's subscriptions.
func (h *Hub) Subscribe(client *Client, collections []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range collections {
		if strings.TrimSpace(c) == "" {
			continue
		}
		t := topic(client.Tenant, c)
		if h.clients[t] == nil {
			h.clients[t] = make(map[*Client]struct{})
		}
		h.clients[t][client] = struct{}{}
		client.topics[t] = struct{}{}
	}
}

// Unsubscribe removes collections from the client's subscriptions.
func (h *Hub) Unsubscribe(client *Client, collections []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range collections {
		t := topic(client.Tenant, c)
		h.removeLocked(t, client)
		delete(client.topics, t)
	}
}

func (h *Hub) removeLocked(t string, client *Client) {
	if subscribers, ok := h.clients[t]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, t)
		}
	}
}

// ProcessMessage applies a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	default:
		h.logger.Debug().Str("client_id", client.ID).Str("action", msg.Action).Msg("ignoring websocket message")
	}
}

// Notify sends event to the tenant's subscribers of event.Collection.
// Slow clients whose buffer is full miss the event.
func (h *Hub) Notify(tenant string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic(tenant, event.Collection)] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("websocket client buffer full, dropping event")
		}
	}
}

// CollectionChanged tells subscribers to refetch collection.
func (h *Hub) CollectionChanged(tenant, collection string) {
	h.Notify(tenant, Event{Type: EventCollectionChanged, Collection: collection})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// SubscriberCount returns the number of tenant clients watching collection.
func (h *Hub) SubscriberCount(tenant, collection string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic(tenant, collection)])
}

// Handler upgrades HTTP requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a handler. An empty allowedOrigins accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string, logger zerolog.Logger) *Handler {
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
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
		logger: logger,
	}
}

func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades the connection and subscribes it to the
// collections listed in the "topics" query parameter.
func (wh *Handler) HandleConnect(c echo.Context) error {
	tenant := db.TenantFromContext(c.Request().Context())
	if tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}

	ws, err := wh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(tenant)
	wh.hub.Register(client)
	if q := c.QueryParam("topics"); q != "" {
		wh.hub.Subscribe(client, strings.Split(q, ","))
	}
	wh.logger.Debug().Str("client_id", client.ID).Str("tenant_id", tenant).Msg("websocket client connected")

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)
	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
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
		wh.hub.ProcessMessage(client, msg)
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
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
