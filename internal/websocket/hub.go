// Package websocket manages the persistent client connections: the hub's
// registry, the per-connection read/write pumps and the dispatch of the
// session protocol.
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/huohuo-app/voice-gateway/domain/entities"
	"github.com/huohuo-app/voice-gateway/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Base64 audio uploads of a
	// full utterance fit well within this.
	maxMessageSize = 10 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Conversation runs one full turn for a connection. Satisfied by the
// usecase orchestrator.
type Conversation interface {
	ProcessAudioTurn(ctx context.Context, audio []byte, notifier usecase.Notifier) *entities.SessionTurn
	ProcessTextTurn(ctx context.Context, text string, notifier usecase.Notifier) *entities.SessionTurn
}

// Hub maintains the set of active clients. The registry is the only
// state shared across connections.
type Hub struct {
	// Registered clients keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	conversation Conversation

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(conversation Conversation, logger *zap.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		conversation: conversation,
		logger:       logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("remoteAddr", client.conn.RemoteAddr().String()))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.id)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))
		}
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Only writePump receives
	// from it; it is never closed, teardown is signalled through done.
	send chan []byte

	// Closed when the connection is gone. Turn goroutines that outlive
	// the read pump select on it so a late reply never blocks or
	// panics.
	done      chan struct{}
	closeOnce sync.Once

	// Connection id for this client
	id string

	logger *zap.Logger
}

// shutdown marks the client dead. Safe to call more than once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// HandleWebSocket upgrades the request and starts the connection's pumps.
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		id:     uuid.NewString(),
		logger: logger,
	}

	client.hub.register <- client
	client.sendJSON(NewWelcomeMessage())

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the dispatcher.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.hub.unregister <- c
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
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		c.dispatch(message)
	}
}

// writePump pumps messages from the send channel to the websocket
// connection. It is the only writer to the connection, so concurrent
// turns and pings never interleave partial frames.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound envelope. A malformed or unknown message
// yields an error reply, never a closed connection. Turns run in their
// own goroutine so pings stay responsive while the pipeline works.
func (c *Client) dispatch(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("Failed to parse message", zap.Error(err))
		c.sendJSON(NewErrorMessage("无法解析消息格式"))
		return
	}

	switch msg.Type {
	case MessageTypeAudio:
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			c.logger.Warn("Failed to decode audio payload", zap.Error(err))
			c.sendJSON(NewErrorMessage("音频数据解码失败"))
			return
		}
		go c.runAudioTurn(audio)

	case MessageTypeText:
		go c.runTextTurn(msg.Message)

	case MessageTypePing:
		c.sendJSON(NewPongMessage())

	default:
		c.logger.Warn("Unknown message type", zap.String("type", string(msg.Type)))
		c.sendJSON(NewErrorMessage(fmt.Sprintf("未知的消息类型: %s", msg.Type)))
	}
}

func (c *Client) runAudioTurn(audio []byte) {
	turn := c.hub.conversation.ProcessAudioTurn(context.Background(), audio, c)
	c.finishTurn(turn)
}

func (c *Client) runTextTurn(text string) {
	turn := c.hub.conversation.ProcessTextTurn(context.Background(), text, c)
	c.finishTurn(turn)
}

// finishTurn delivers the turn's outcome: a reply when the pipeline
// produced one, otherwise the turn's error message.
func (c *Client) finishTurn(turn *entities.SessionTurn) {
	if turn.Reply == "" {
		message := turn.ErrorMessage
		if message == "" {
			message = "处理失败，请重试"
		}
		c.sendJSON(NewErrorMessage(message))
		return
	}
	c.sendJSON(NewAssistantReplyMessage(turn))
}

// Status implements usecase.Notifier.
func (c *Client) Status(message string) {
	c.sendJSON(NewStatusMessage(message))
}

// RecognitionResult implements usecase.Notifier.
func (c *Client) RecognitionResult(text string) {
	c.sendJSON(NewAsrResultMessage(text))
}

// sendJSON queues one outbound message. It waits for buffer space so a
// terminal reply is never discarded, and gives up only once the client
// is gone.
func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return
	}

	select {
	case c.send <- payload:
	case <-c.done:
		c.logger.Debug("Client gone, discarding message", zap.String("clientID", c.id))
	}
}
