package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client is one websocket subscriber
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

// NewClient creates a client with a send buffer of bufferSize messages
func NewClient(hub *Hub, conn *websocket.Conn, bufferSize int, logger *zap.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, bufferSize),
		logger: logger,
	}
}

// ReadPump reads client requests until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

// WritePump writes queued messages and keepalive pings
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
				// hub closed the channel
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

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(MessageError, ErrorMessage{Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case MessagePing:
		c.reply(MessagePong, nil)

	case MessageSubscribe, MessageUnsubscribe:
		var req SubscribeRequest
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &req) != nil {
			c.reply(MessageError, ErrorMessage{Error: "invalid subscription payload"})
			return
		}
		topic, err := req.ResolveTopic()
		if err != nil {
			c.reply(MessageError, ErrorMessage{Error: err.Error()})
			return
		}

		if msg.Type == MessageUnsubscribe {
			c.hub.Unsubscribe(c, topic)
			c.reply(MessageSuccess, SuccessMessage{Message: "unsubscribed", Topic: topic})
			return
		}
		if err := c.hub.Subscribe(c, topic); err != nil {
			c.reply(MessageError, ErrorMessage{Error: err.Error()})
			return
		}
		c.reply(MessageSuccess, SuccessMessage{Message: "subscribed", Topic: topic})

	default:
		c.reply(MessageError, ErrorMessage{Error: "unknown message type: " + msg.Type})
	}
}

// reply queues a response without blocking. The hub owns the send
// channel, so this must not race with its close.
func (c *Client) reply(msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		c.logger.Error("failed to marshal reply", zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, dropping reply")
	}
}
