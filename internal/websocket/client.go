package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	sendBufferSize = 256
)

// Client represents a WebSocket client connection
type Client struct {
	ID string

	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	// Channels the connection token grants, subscribed on register
	initial []string
	allowed map[string]bool
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// reply is a control frame answering an IncomingMessage.
type reply struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewClient creates a new WebSocket client allowed to listen on channels
func NewClient(conn *websocket.Conn, hub *Hub, channels []string) *Client {
	allowed := make(map[string]bool, len(channels))
	for _, ch := range channels {
		allowed[ch] = true
	}
	return &Client{
		ID:      uuid.NewString(),
		conn:    conn,
		hub:     hub,
		send:    make(chan []byte, sendBufferSize),
		initial: channels,
		allowed: allowed,
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.ID).Msg("WebSocket error")
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Str("client_id", c.ID).Msg("Invalid message format")
			c.respond(opReply, "", reply{Type: "error", Message: "invalid message format"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg IncomingMessage) {
	switch msg.Type {
	case "ping":
		c.respond(opReply, "", reply{Type: "pong"})

	case "subscribe", "unsubscribe":
		if !c.allowed[msg.Channel] {
			c.respond(opReply, "", reply{Type: "error", Channel: msg.Channel, Message: "channel not allowed"})
			return
		}
		if msg.Type == "subscribe" {
			c.respond(opSubscribe, msg.Channel, reply{Type: "subscribed", Channel: msg.Channel})
		} else {
			c.respond(opUnsubscribe, msg.Channel, reply{Type: "unsubscribed", Channel: msg.Channel})
		}

	default:
		c.respond(opReply, "", reply{Type: "error", Message: "unknown message type"})
	}
}

func (c *Client) respond(op controlOp, channel string, r reply) {
	r.Timestamp = time.Now().UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.hub.enqueueControl(control{client: c, op: op, channel: channel, reply: data})
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
