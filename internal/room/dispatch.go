package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"go.uber.org/zap"
)

// dispatch routes one inbound wire message to the owning Room. Unknown
// event names are ignored and logged rather than treated as an error; the
// vocabulary is a closed set but the wire format should degrade gracefully
// as clients and servers drift in version.
func (h *Hub) dispatch(ctx context.Context, c *Client, msg Message) {
	timer := prometheusTimer(msg.Event)
	defer timer()

	if c.room == nil {
		return
	}

	var err error
	switch msg.Event {
	case EventRoomLeave:
		err = h.handleLeave(ctx, c, msg)
	case EventCodeUpdate:
		err = h.handleCodeUpdate(ctx, c, msg)
	case EventCodeLanguageChange:
		err = h.handleLanguageChange(ctx, c, msg)
	case EventRoomInputUpdate:
		err = h.handleInputUpdate(ctx, c, msg)
	case EventCodeExecute:
		err = h.handleExecute(ctx, c, msg)
	case EventChatMessage:
		err = h.handleChat(ctx, c, msg)
	case EventVideoOffer, EventVideoAnswer, EventVideoIceCandidate,
		EventVideoCallStarted, EventVideoCallEnded, EventVideoUserJoined, EventVideoUserLeft:
		err = c.room.ForwardVideoSignal(ctx, c.userID, msg.Event, msg.Data, c.socketID)
	default:
		logging.Warn(ctx, "ignoring unrecognized websocket event", zap.String("event", msg.Event), zap.String("socket_id", c.socketID))
		metrics.WebsocketEvents.WithLabelValues(msg.Event, "unknown").Inc()
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
		logging.Warn(ctx, "rejected websocket event", zap.String("event", msg.Event), zap.String("socket_id", c.socketID), zap.Error(err))
	}
	metrics.WebsocketEvents.WithLabelValues(msg.Event, status).Inc()
}

func prometheusTimer(event string) func() {
	start := time.Now()
	return func() {
		metrics.MessageProcessingDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, msg Message) error {
	c.room.Leave(ctx, c.userID, c.socketID, true)
	return nil
}

func (h *Hub) handleCodeUpdate(ctx context.Context, c *Client, msg Message) error {
	var payload codeUpdatePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return err
	}
	ops := fromWireOps(payload.Ops, c.userID, h.nextTimestamp())
	_, _, err := c.room.ApplyEdit(ctx, c.userID, ops, payload.BaseVersion, c.socketID)
	if err != nil {
		metrics.InvalidEditsTotal.WithLabelValues(c.room.ID()).Inc()
		c.room.Resync(c)
		return err
	}
	return nil
}

func (h *Hub) handleLanguageChange(ctx context.Context, c *Client, msg Message) error {
	var payload languageChangePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return err
	}
	return c.room.SetLanguage(ctx, c.userID, domain.Language(payload.Language), c.socketID)
}

func (h *Hub) handleInputUpdate(ctx context.Context, c *Client, msg Message) error {
	var payload inputUpdatePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return err
	}
	return c.room.SetInput(ctx, c.userID, payload.Input, c.socketID)
}

func (h *Hub) handleExecute(ctx context.Context, c *Client, msg Message) error {
	job, err := c.room.RequestExec(ctx, c.userID)
	if err != nil {
		return err
	}
	if h.queue == nil {
		return nil
	}
	if err := h.queue.Enqueue(ctx, *job); err != nil {
		logging.Error(ctx, "failed to enqueue execution job", zap.Error(err), zap.String("execution_id", job.ExecutionID))
		c.room.CompleteExec(ctx, job.ExecutionID, ExecutionResult{
			Status: domain.ExecutionFailed,
			Stderr: "failed to schedule execution",
		})
	}
	return nil
}

func (h *Hub) handleChat(ctx context.Context, c *Client, msg Message) error {
	var payload chatMessagePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return err
	}
	kind := domain.ChatKindText
	if payload.Kind != "" {
		kind = domain.ChatKind(payload.Kind)
	}
	return c.room.PostChat(ctx, c.userID, payload.Content, kind)
}
