package room

import (
	"encoding/json"

	"github.com/codecollab/editor-backend/internal/domain"
)

// Event names for the JSON {event, data} wire protocol exchanged over the
// WebSocket gateway.
const (
	EventRoomJoin            = "room:join"
	EventRoomUserJoined      = "room:user-joined"
	EventRoomLeave           = "room:leave"
	EventRoomUserLeft        = "room:user-left"
	EventCodeUpdate          = "code:update"
	EventCodeUpdated         = "code:updated"
	EventCodeLanguageChange  = "code:language-change"
	EventCodeLanguageChanged = "code:language-changed"
	EventRoomInputUpdate     = "room:input-update"
	EventCodeExecute         = "code:execute"
	EventCodeExecutionStart  = "code:execution-started"
	EventCodeExecutionResult = "code:execution-result"
	EventChatMessage         = "chat:message"
	EventChatReceived        = "chat:message-received"
	EventRoomCodeSync        = "room:code-sync"

	// Video signaling events are forwarded verbatim between peers; their
	// payload schema is opaque to the hub.
	EventVideoOffer        = "video:offer"
	EventVideoAnswer       = "video:answer"
	EventVideoIceCandidate = "video:ice-candidate"
	EventVideoCallStarted  = "video:call-started"
	EventVideoCallEnded    = "video:call-ended"
	EventVideoUserJoined   = "video:user-joined"
	EventVideoUserLeft     = "video:user-left"
)

// Message is the envelope for every inbound and outbound wire frame.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WireOp is the JSON-facing representation of domain.Operation. Author and
// logical timestamp are server-assigned and never trusted from the wire.
type WireOp struct {
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
}

func toWireOps(ops []domain.Operation) []WireOp {
	out := make([]WireOp, len(ops))
	for i, op := range ops {
		out[i] = WireOp{Kind: string(op.Kind), Position: op.Position, Length: op.Length, Text: op.Text}
	}
	return out
}

func fromWireOps(ops []WireOp, authorID string, baseTimestamp int64) []domain.Operation {
	out := make([]domain.Operation, len(ops))
	for i, op := range ops {
		out[i] = domain.Operation{
			Kind:      domain.OperationKind(op.Kind),
			Position:  op.Position,
			Length:    op.Length,
			Text:      op.Text,
			AuthorID:  authorID,
			Timestamp: baseTimestamp,
		}
	}
	return out
}

type joinPayload struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

type leavePayload struct {
	RoomID string `json:"roomId"`
}

type userJoinedPayload struct {
	User   userInfo `json:"user"`
	RoomID string   `json:"roomId"`
}

type userInfo struct {
	UserID string `json:"userId"`
}

type userLeftPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type codeUpdatePayload struct {
	RoomID      string   `json:"roomId"`
	Ops         []WireOp `json:"ops"`
	BaseVersion int      `json:"baseVersion"`
}

type codeUpdatedPayload struct {
	RoomID  string   `json:"roomId"`
	Ops     []WireOp `json:"ops"`
	Version int      `json:"version"`
	UserID  string   `json:"userId"`
}

type languageChangePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type languageChangedPayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	UserID   string `json:"userId"`
}

type inputUpdatePayload struct {
	RoomID string `json:"roomId"`
	Input  string `json:"input"`
}

type executePayload struct {
	RoomID string `json:"roomId"`
}

type executionStartedPayload struct {
	RoomID      string `json:"roomId"`
	ExecutionID string `json:"executionId"`
	UserID      string `json:"userId"`
}

type executionResultPayload struct {
	RoomID        string `json:"roomId"`
	ExecutionID   string `json:"executionId"`
	Status        string `json:"status"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExecutionTime int64  `json:"executionTime"`
	MemoryUsed    int64  `json:"memoryUsed"`
}

type chatMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
}

type chatReceivedPayload struct {
	RoomID  string          `json:"roomId"`
	Message chatMessageWire `json:"message"`
}

type chatMessageWire struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	Kind      string `json:"kind"`
	CreatedAt int64  `json:"createdAt"`
}

type codeSyncPayload struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input,omitempty"`
	Output   string `json:"output,omitempty"`
}

// Snapshot is returned to a socket on join; a resync sends a
// codeSyncPayload instead.
type Snapshot struct {
	Code     string   `json:"code"`
	Language string   `json:"language"`
	Input    string   `json:"input"`
	Output   string   `json:"output"`
	Members  []string `json:"members"`
}
