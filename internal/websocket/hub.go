package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client represents a WebSocket client. Send is never closed; Done is
// closed once the hub drops the client.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	done chan struct{}
	once sync.Once
}

// NewClient creates a client subscribed to jobID
func NewClient(jobID string, conn *websocket.Conn) *Client {
	return &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
}

// Done is closed when the client has been removed from the hub
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Offer queues data without blocking; it reports false when the client is
// gone or its buffer is full.
func (c *Client) Offer(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	broadcast chan *BroadcastMessage

	mu  sync.RWMutex
	log *logger.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:   make(map[string]map[*Client]bool),
		broadcast: make(chan *BroadcastMessage, 256),
		log:       log.WithComponent("websocket"),
	}
}

// Run starts the hub's main loop and returns when ctx ends
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients[msg.JobID] {
				if !client.Offer(msg.Message) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.log.Warn("dropping slow websocket client", "job_id", client.JobID)
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		client.stop()
		if len(clients) == 0 {
			delete(h.clients, client.JobID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, clients := range h.clients {
		for client := range clients {
			client.stop()
		}
		delete(h.clients, jobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if h.clients[client.JobID] == nil {
		h.clients[client.JobID] = make(map[*Client]bool)
	}
	h.clients[client.JobID][client] = true
	h.mu.Unlock()
	h.log.Debug("client registered", "job_id", client.JobID)
}

// Unregister removes a client; removing twice is harmless
func (h *Hub) Unregister(client *Client) {
	h.remove(client)
	h.log.Debug("client unregistered", "job_id", client.JobID)
}

// Subscribers returns the number of clients watching jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastEvent sends an activity event to all job subscribers. It never
// blocks; events are dropped when the hub is saturated.
func (h *Hub) BroadcastEvent(ev model.Event) {
	msg := model.WSEventMessage{
		Type:  model.WSMessageTypeEvent,
		JobID: ev.JobID,
		Event: ev,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal event message", "job_id", ev.JobID, "error", err.Error())
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: ev.JobID, Message: data}:
	default:
		h.log.Warn("websocket broadcast queue full, dropping event", "job_id", ev.JobID, "seq", ev.Seq)
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := NewClient(jobID, c)

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-client.Done():
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket error", "job_id", jobID, "error", err.Error())
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.Offer(pong)
		}
	}
}
