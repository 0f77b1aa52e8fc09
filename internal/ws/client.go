package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teamtalk/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one WebSocket connection bound to an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan Event

	// rooms the client has joined; guarded by hub.mu.
	rooms map[string]struct{}

	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, sendBuffer int) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan Event, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// close terminates the connection. The send channel is never closed: racing
// broadcasters may still hold it, and the write pump exits on its next write
// against the closed conn.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Run starts the pumps and blocks until the connection dies. ctx cancellation
// (server shutdown) also terminates the connection.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var in Incoming
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read user=%s: %v", c.userID, err)
			}
			return
		}
		c.handle(ctx, in)
	}
}

func (c *Client) handle(ctx context.Context, in Incoming) {
	switch in.Type {
	case ActionJoinConversation:
		if in.ConversationID == "" {
			c.reply(ErrorEvent("conversation_id required"))
			return
		}
		if err := c.hub.Join(ctx, c, in.ConversationID); err != nil {
			c.reply(ErrorEvent(err.Error()))
			return
		}
		c.reply(Event{Type: EventJoined, Payload: map[string]string{"conversation_id": in.ConversationID}})
	case ActionLeaveConversation:
		if in.ConversationID != "" {
			c.hub.Leave(c, in.ConversationID)
		}
	case ActionTyping:
		c.hub.mu.RLock()
		_, joined := c.rooms[in.ConversationID]
		c.hub.mu.RUnlock()
		if joined {
			c.hub.Typing(in.ConversationID, c.userID, in.Typing)
		}
	default:
		c.reply(ErrorEvent("unknown message type"))
	}
}

// reply queues an event to this connection only.
func (c *Client) reply(e Event) {
	c.hub.send(c, e)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
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
