// Package room implements the Session / Room Hub: the authoritative,
// in-memory coordinator of room membership, broadcast fan-out, and
// per-room shared state.
package room

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSRateLimiter is the capability the gateway needs from the rate limiter
// during the upgrade handshake.
type WSRateLimiter interface {
	CheckWebSocket(ctx context.Context, clientIP string) error
}

// Hub is the registry of active rooms in this process and the entry point
// for WebSocket upgrades. It authenticates sockets, loads or creates the
// in-memory Room mirror, and hands the connection off.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room

	validator      auth.TokenValidator
	repo           domain.Repository
	queue          JobQueue
	rateLimiter    WSRateLimiter
	allowedOrigins []string

	logicalClock int64
}

// NewHub constructs a Hub with its required collaborators.
func NewHub(validator auth.TokenValidator, repo domain.Repository, queue JobQueue, rateLimiter WSRateLimiter, allowedOrigins []string) *Hub {
	return &Hub{
		rooms:          make(map[string]*Room),
		validator:      validator,
		repo:           repo,
		queue:          queue,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
	}
}

func (h *Hub) nextTimestamp() int64 {
	return atomic.AddInt64(&h.logicalClock, 1)
}

// ServeWS authenticates the handshake, upgrades the connection, and hands
// the new client to its room.
func (h *Hub) ServeWS(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "token not provided", "code": "unauthorized"})
		return
	}
	claims, err := h.validator.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token", "code": "unauthorized"})
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.CheckWebSocket(c.Request.Context(), c.ClientIP()); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "rate limit exceeded", "code": "rate_limited"})
			return
		}
	}

	roomID := c.Param("roomId")
	roomRow, err := h.repo.FindRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "room not found", "code": "not_found"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade websocket connection", zap.Error(err))
		return
	}

	room := h.getOrCreateRoom(roomRow)
	client := newClient(conn, claims.Subject, h)
	client.room = room

	password := c.Query("password")
	snapshot, err := room.Join(c.Request.Context(), claims.Subject, password, client)
	if err != nil {
		logging.Warn(c.Request.Context(), "rejected room join", zap.Error(err), zap.String("room_id", roomID), zap.String("user_id", claims.Subject))
		client.sendErrorAndClose(err)
		return
	}

	metrics.IncConnection()
	client.sendSnapshot(snapshot, roomID)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

func (h *Hub) getOrCreateRoom(row *domain.Room) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[row.ID]; ok {
		return r
	}
	r := NewRoom(row, h.repo, h.queue, h.nextTimestamp, h.removeRoom)
	h.rooms[row.ID] = r
	metrics.ActiveRooms.Inc()
	return r
}

// removeRoom unregisters a room once its last socket disconnects.
func (h *Hub) removeRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; ok {
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Dec()
	}
}

// CompleteExecution routes a worker's result back into the originating
// room; cmd/server's hubPublisherAdapter wraps it to satisfy the queue's
// ExecutionPublisher capability.
func (h *Hub) CompleteExecution(ctx context.Context, roomID, executionID string, result ExecutionResult) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		logging.Warn(ctx, "execution result for room with no active hub entry", zap.String("room_id", roomID), zap.String("execution_id", executionID))
		return
	}
	r.CompleteExec(ctx, executionID, result)
}

// SubmitExecution enqueues an execution job on behalf of a caller using the
// plain HTTP surface rather than the WebSocket code:execute event. The room
// must already have a live hub entry — i.e. the requester is a connected
// member of the collaborative session whose buffer is being executed.
func (h *Hub) SubmitExecution(ctx context.Context, roomID, userID string) (string, error) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return "", ErrRoomNotFound
	}

	job, err := r.RequestExec(ctx, userID)
	if err != nil {
		return "", err
	}
	if h.queue == nil {
		return job.ExecutionID, nil
	}
	if err := h.queue.Enqueue(ctx, *job); err != nil {
		logging.Error(ctx, "failed to enqueue execution job", zap.Error(err), zap.String("execution_id", job.ExecutionID))
		r.CompleteExec(ctx, job.ExecutionID, ExecutionResult{
			Status: domain.ExecutionFailed,
			Stderr: "failed to schedule execution",
		})
		return "", err
	}
	return job.ExecutionID, nil
}

func (h *Hub) handleDisconnect(c *Client) {
	if c.room == nil {
		return
	}
	// A transient disconnect preserves membership; only an explicit
	// room:leave event removes it.
	c.room.Leave(context.Background(), c.userID, c.socketID, false)
}
