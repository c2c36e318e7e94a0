package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	outboundQueueSize = 256
	writeWait         = 10 * time.Second
)

// wsConnection is the subset of *websocket.Conn the client needs, narrowed
// so tests can substitute a fake connection.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one socket's connection into a room. A user may hold several
// Clients at once (multiple tabs); each gets its own socketID.
type Client struct {
	conn     wsConnection
	send     chan []byte
	userID   string
	socketID string
	hub      *Hub
	room     *Room

	closeOnce sync.Once
}

func newClient(conn wsConnection, userID string, hub *Hub) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, outboundQueueSize),
		userID:   userID,
		socketID: uuid.NewString(),
		hub:      hub,
	}
}

// enqueue queues frame for delivery without blocking. A full queue means
// the socket cannot keep up with the room's event rate; rather than block
// the broadcaster, the slow socket is evicted.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		logging.Warn(context.Background(), "evicting slow socket, outbound queue full",
			zap.String("user_id", c.userID), zap.String("socket_id", c.socketID))
		c.evict()
	}
}

func (c *Client) evict() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// sendSnapshot delivers the initial room state to a newly joined socket.
func (c *Client) sendSnapshot(snapshot *Snapshot, roomID string) {
	data, err := json.Marshal(codeSyncPayload{
		RoomID: roomID, Code: snapshot.Code, Language: snapshot.Language,
		Input: snapshot.Input, Output: snapshot.Output,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(Message{Event: EventRoomCodeSync, Data: data})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// sendErrorAndClose notifies a socket why its join was rejected and tears
// the connection down; used before readPump/writePump are started, so the
// close happens directly rather than through enqueue/evict.
func (c *Client) sendErrorAndClose(cause error) {
	data, _ := json.Marshal(map[string]string{"error": cause.Error()})
	frame, err := json.Marshal(Message{Event: "error", Data: data})
	if err == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = c.conn.Close()
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
		c.evict()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn(context.Background(), "failed to unmarshal inbound frame", zap.String("socket_id", c.socketID), zap.Error(err))
			continue
		}
		c.hub.dispatch(context.Background(), c, msg)
	}
}
