package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024

	sendBufferSize = 256
)

// ClientMessage is what a client sends to manage its subscriptions
type ClientMessage struct {
	Action string `json:"action"` // subscribe or unsubscribe
	Topic  string `json:"topic"`
}

// ServerMessage is what the server pushes to a client
type ServerMessage struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message types
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeNotification = "notification"
	TypeError        = "error"
)

// Client is one websocket connection and its topic subscriptions
type Client struct {
	id     string
	userID string
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	subscriptions map[string]func()
	closed        bool
}

func newClient(userID string, server *Server, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:            id,
		userID:        userID,
		server:        server,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		logger:        server.logger.With(zap.String("user_id", userID), zap.String("connection_id", id)),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]func()),
	}
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
	c.push(ServerMessage{Type: TypeConnected})
}

// readPump handles subscription requests until the connection drops
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.push(ServerMessage{Type: TypeError, Error: "malformed message"})
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subscribe(msg.Topic)
		case "unsubscribe":
			c.unsubscribe(msg.Topic)
		default:
			c.push(ServerMessage{Type: TypeError, Topic: msg.Topic, Error: "unknown action"})
		}
	}
}

// writePump serializes every write to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Info("websocket write failed", zap.Error(err))
				c.cancel()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) subscribe(topic string) {
	if !c.server.knownTopic(topic) {
		c.push(ServerMessage{Type: TypeError, Topic: topic, Error: "unknown topic"})
		return
	}

	c.mu.Lock()
	if _, ok := c.subscriptions[topic]; ok {
		c.mu.Unlock()
		c.push(ServerMessage{Type: TypeSubscribed, Topic: topic})
		return
	}
	if len(c.subscriptions) >= c.server.maxSubscriptions {
		c.mu.Unlock()
		c.push(ServerMessage{Type: TypeError, Topic: topic, Error: "too many subscriptions"})
		return
	}
	c.mu.Unlock()

	cancel, err := c.server.subscriber.Subscribe(c.ctx, topic, func(payload []byte) {
		c.push(ServerMessage{Type: TypeNotification, Topic: topic, Payload: payload})
	})
	if err != nil {
		c.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
		c.push(ServerMessage{Type: TypeError, Topic: topic, Error: "subscription failed"})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.subscriptions[topic] = cancel
	c.mu.Unlock()

	c.logger.Debug("subscribed", zap.String("topic", topic))
	c.push(ServerMessage{Type: TypeSubscribed, Topic: topic})
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	cancel, ok := c.subscriptions[topic]
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	if ok {
		cancel()
	}
	c.push(ServerMessage{Type: TypeUnsubscribed, Topic: topic})
}

// push queues a message. A client that cannot keep up loses messages
// rather than stalling the bus.
func (c *Client) push(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode websocket message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("client send buffer full, dropping message", zap.String("topic", msg.Topic))
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subscriptions
	c.subscriptions = nil
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	c.cancel()
	c.server.unregister(c)
}
