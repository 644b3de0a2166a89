package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"dockqueue-backend/internal/metrics"

	"github.com/rs/zerolog/log"
)

var (
	ErrHubBusy   = errors.New("websocket: hub broadcast buffer full")
	ErrHubClosed = errors.New("websocket: hub stopped")
)

// Message is the frame delivered to subscribers of a channel.
type Message struct {
	Channel   string    `json:"channel"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type controlOp int

const (
	opSubscribe controlOp = iota
	opUnsubscribe
	opReply
)

// control is a client request handled on the hub goroutine, so the send
// channel is only ever written and closed from one place.
type control struct {
	client  *Client
	op      controlOp
	channel string
	reply   []byte
}

// Hub maintains active WebSocket connections and their channel subscriptions
type Hub struct {
	// Registered clients and the channels each one listens on
	clients map[*Client]map[string]bool

	// channel -> subscribed clients
	channels map[string]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	control    chan control
	done       chan struct{}

	metrics *metrics.Hub

	// Guards the maps for readers outside Run
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(m *metrics.Hub) *Hub {
	return &Hub{
		clients:    make(map[*Client]map[string]bool),
		channels:   make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		control:    make(chan control, 64),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Run starts the hub's main loop. It disconnects every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			log.Info().Msg("🛑 [WEBSOCKET] Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = make(map[string]bool)
			for _, channel := range client.initial {
				h.subscribe(client, channel)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetClients(total)
			log.Info().
				Str("client_id", client.ID).
				Strs("channels", client.initial).
				Int("total_clients", total).
				Msg("✅ [WEBSOCKET] Client CONNECTED")

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				h.remove(client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.metrics.SetClients(total)
				log.Info().
					Str("client_id", client.ID).
					Int("remaining_clients", total).
					Msg("🔴 [WEBSOCKET] Client DISCONNECTED")
			}

		case c := <-h.control:
			h.handleControl(c)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) handleControl(c control) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.client]; !ok {
		return
	}
	switch c.op {
	case opSubscribe:
		h.subscribe(c.client, c.channel)
	case opUnsubscribe:
		h.unsubscribe(c.client, c.channel)
	}
	if c.reply != nil {
		h.sendLocked(c.client, c.reply)
	}
}

func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("channel", message.Channel).Msg("❌ Failed to marshal message")
		return
	}

	h.mu.Lock()
	subscribers := make([]*Client, 0, len(h.channels[message.Channel]))
	for client := range h.channels[message.Channel] {
		subscribers = append(subscribers, client)
	}
	for _, client := range subscribers {
		h.sendLocked(client, data)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.IncPublished(message.Event)
	h.metrics.SetClients(total)
}

// sendLocked queues data for client. A client whose buffer is full is
// disconnected rather than slowing the hub down.
func (h *Hub) sendLocked(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.remove(client)
		h.metrics.IncDropped()
		log.Warn().Str("client_id", client.ID).Msg("⚠️ Client buffer full, disconnecting")
	}
}

func (h *Hub) subscribe(client *Client, channel string) {
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Client]bool)
		h.channels[channel] = subs
	}
	subs[client] = true
	h.clients[client][channel] = true
}

func (h *Hub) unsubscribe(client *Client, channel string) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(h.clients[client], channel)
}

func (h *Hub) remove(client *Client) {
	for channel := range h.clients[client] {
		h.unsubscribe(client, channel)
	}
	delete(h.clients, client)
	close(client.send)
}

// Publish queues a message for every subscriber of channel. It never waits
// for subscribers; when the hub is saturated the message is rejected.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	msg := &Message{
		Channel:   channel,
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrHubBusy
	}
}

// Register attaches client to the hub. It reports false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) enqueueControl(c control) {
	select {
	case h.control <- c:
	case <-h.done:
	default:
		log.Warn().Str("client_id", c.client.ID).Msg("⚠️ Hub control queue full, dropping request")
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns how many clients listen on channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
