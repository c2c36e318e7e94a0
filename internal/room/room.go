package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"github.com/codecollab/editor-backend/internal/ot"
	"github.com/codecollab/editor-backend/internal/tracing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobQueue is the narrow capability the room needs to enqueue an execution
// job. Concrete implementations (internal/queue) are injected.
type JobQueue interface {
	Enqueue(ctx context.Context, job ExecutionJob) error
}

// ExecutionJob is the payload handed to the job queue: an execution request
// tagged with the room and requester so the worker can publish results back.
type ExecutionJob struct {
	ExecutionID     string
	RoomID          string
	RequesterUserID string
	Language        domain.Language
	Code            string
	Stdin           string
	TimeoutMS       int
	MemoryBytes     int64
}

// ExecutionResult is what the worker hands back to CompleteExec.
type ExecutionResult struct {
	Status            domain.ExecutionStatus
	Stdout            string
	Stderr            string
	ExitCode          int
	ExecutionTimeMS   int64
	MemoryBytes       int64
	CompilationTimeMS int64
}

type acceptedBatch struct {
	version int
	ops     []domain.Operation
}

// Room is the single authoritative coordinator for one collaborative
// session. All mutation of its runtime state happens under mu, which plays
// the role of the per-room serializer described for the hub: operations
// submitted concurrently to the same room are totally ordered by lock
// acquisition order.
type Room struct {
	mu sync.Mutex

	id           string
	name         string
	visibility   domain.Visibility
	passwordHash string
	maxCapacity  int
	ownerUserID  string

	language domain.Language
	buffer   string
	stdin    string
	output   string
	version  int
	history  []acceptedBatch

	executionLive bool
	executionID   string
	requester     string

	members map[string]map[string]*Client // userID -> socketID -> client

	repo  domain.Repository
	queue JobQueue

	clock func() int64 // monotonic logical timestamp source

	onEmpty func(roomID string)
}

// NewRoom constructs a Room's in-memory mirror from its persisted row.
func NewRoom(r *domain.Room, repo domain.Repository, queue JobQueue, clock func() int64, onEmpty func(string)) *Room {
	return &Room{
		id:           r.ID,
		name:         r.Name,
		visibility:   r.Visibility,
		passwordHash: r.PasswordHash,
		maxCapacity:  r.MaxCapacity,
		ownerUserID:  r.OwnerUserID,
		language:     r.Language,
		buffer:       r.CodeBuffer,
		stdin:        r.StdinBuffer,
		output:       r.LastOutput,
		members:      make(map[string]map[string]*Client),
		repo:         repo,
		queue:        queue,
		clock:        clock,
		onEmpty:      onEmpty,
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) isMemberLocked(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

func (r *Room) memberIDsLocked() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// Join admits a socket to the room, verifying the password for private
// rooms and the capacity invariant. Re-joining with another socket for the
// same user is idempotent.
func (r *Room) Join(ctx context.Context, userID, password string, client *Client) (*Snapshot, error) {
	ctx, span := tracing.StartRoomSpan(ctx, "join", r.id, userID)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.visibility == domain.VisibilityPrivate {
		if err := auth.VerifyPassword(r.passwordHash, password); err != nil {
			return nil, ErrBadPassword
		}
	}

	_, alreadyMember := r.members[userID]
	if !alreadyMember && len(r.members) >= r.maxCapacity {
		return nil, ErrRoomFull
	}

	role := domain.RoleMember
	if userID == r.ownerUserID {
		role = domain.RoleOwner
	}
	if err := r.repo.UpsertMembership(ctx, &domain.Membership{
		UserID: userID, RoomID: r.id, Role: role, JoinedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("persist membership: %w", err)
	}

	if r.members[userID] == nil {
		r.members[userID] = make(map[string]*Client)
		metrics.RoomMembers.WithLabelValues(r.id).Set(float64(len(r.members)))
	}
	r.members[userID][client.socketID] = client

	r.broadcastLocked(EventRoomUserJoined, userJoinedPayload{User: userInfo{UserID: userID}, RoomID: r.id}, client.socketID)

	return &Snapshot{
		Code:     r.buffer,
		Language: string(r.language),
		Input:    r.stdin,
		Output:   r.output,
		Members:  r.memberIDsLocked(),
	}, nil
}

// Leave removes a socket. When explicit is true the membership row is also
// deleted (the chosen resolution for the spec's open question on whether
// room:leave should remove persisted membership: explicit leave does,
// disconnect does not).
func (r *Room) Leave(ctx context.Context, userID, socketID string, explicit bool) {
	r.mu.Lock()

	sockets, ok := r.members[userID]
	if ok {
		delete(sockets, socketID)
		if len(sockets) == 0 {
			delete(r.members, userID)
			metrics.RoomMembers.WithLabelValues(r.id).Set(float64(len(r.members)))
			r.broadcastLocked(EventRoomUserLeft, userLeftPayload{UserID: userID, RoomID: r.id}, "")
		}
	}

	empty := len(r.members) == 0
	buffer, language, stdin, output := r.buffer, r.language, r.stdin, r.output
	r.mu.Unlock()

	if explicit {
		if err := r.repo.DeleteMembership(ctx, r.id, userID); err != nil {
			logging.Error(ctx, "failed to delete membership on explicit leave", zap.Error(err), zap.String("room_id", r.id), zap.String("user_id", userID))
		}
	}

	if empty {
		if err := r.repo.UpdateRoom(ctx, &domain.Room{
			ID: r.id, CodeBuffer: buffer, Language: language, StdinBuffer: stdin, LastOutput: output, UpdatedAt: time.Now(),
		}); err != nil {
			logging.Error(ctx, "failed to flush room state on teardown", zap.Error(err), zap.String("room_id", r.id))
		}
		metrics.RoomMembers.DeleteLabelValues(r.id)
		if r.onEmpty != nil {
			r.onEmpty(r.id)
		}
	}
}

// ApplyEdit transforms ops against every batch accepted since baseVersion,
// applies the result to the buffer, and broadcasts the transformed batch to
// every other socket in the room.
func (r *Room) ApplyEdit(ctx context.Context, authorID string, ops []domain.Operation, baseVersion int, originSocket string) ([]domain.Operation, int, error) {
	_, span := tracing.StartRoomSpan(ctx, "apply_edit", r.id, authorID)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isMemberLocked(authorID) {
		return nil, 0, ErrNotMember
	}

	var against []domain.Operation
	for _, batch := range r.history {
		if batch.version >= baseVersion {
			against = append(against, batch.ops...)
		}
	}

	transformed := ot.TransformBatch(ops, against)
	newBuffer, err := ot.Apply(r.buffer, transformed)
	if err != nil {
		return nil, 0, err
	}
	r.buffer = newBuffer
	r.version++
	composed := ot.Compose(transformed)
	r.history = append(r.history, acceptedBatch{version: r.version, ops: composed})

	metrics.EditsTransformedTotal.WithLabelValues(r.id).Inc()

	r.broadcastLocked(EventCodeUpdated, codeUpdatedPayload{
		RoomID: r.id, Ops: toWireOps(composed), Version: r.version, UserID: authorID,
	}, originSocket)

	return composed, r.version, nil
}

// SetLanguage validates the language is supported and updates the room's
// language without touching the buffer.
func (r *Room) SetLanguage(ctx context.Context, authorID string, language domain.Language, originSocket string) error {
	if !domain.SupportedLanguages[language] {
		return ErrInvalidLanguage
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isMemberLocked(authorID) {
		return ErrNotMember
	}
	r.language = language
	r.broadcastLocked(EventCodeLanguageChanged, languageChangedPayload{
		RoomID: r.id, Language: string(language), UserID: authorID,
	}, originSocket)
	return nil
}

// SetInput updates the shared stdin buffer.
func (r *Room) SetInput(ctx context.Context, authorID, input string, originSocket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isMemberLocked(authorID) {
		return ErrNotMember
	}
	r.stdin = input
	r.broadcastLocked(EventRoomInputUpdate, inputUpdatePayload{RoomID: r.id, Input: input}, "")
	return nil
}

// RequestExec sets the execution latch, persists a pending log, and
// broadcasts the start event. The caller enqueues the job after this
// returns so the room lock is not held across queue I/O.
func (r *Room) RequestExec(ctx context.Context, authorID string) (*ExecutionJob, error) {
	r.mu.Lock()

	if !r.isMemberLocked(authorID) {
		r.mu.Unlock()
		return nil, ErrNotMember
	}
	if r.executionLive {
		r.mu.Unlock()
		return nil, ErrExecutionBusy
	}

	spec := domain.LanguageSpecs[r.language]
	executionID := uuid.NewString()
	r.executionLive = true
	r.executionID = executionID
	r.requester = authorID
	code, stdin, language := r.buffer, r.stdin, r.language

	r.broadcastLocked(EventCodeExecutionStart, executionStartedPayload{
		RoomID: r.id, ExecutionID: executionID, UserID: authorID,
	}, "")
	r.mu.Unlock()

	_, span := tracing.StartExecutionSpan(ctx, r.id, executionID, string(language))
	defer span.End()

	reqUserID := authorID
	if err := r.repo.CreateExecutionLog(ctx, &domain.ExecutionLog{
		ID: executionID, RoomID: r.id, UserID: &reqUserID, Language: language,
		Code: code, Stdin: stdin, Status: domain.ExecutionPending, CreatedAt: time.Now(),
	}); err != nil {
		logging.Error(ctx, "failed to persist pending execution log", zap.Error(err), zap.String("execution_id", executionID))
	}

	return &ExecutionJob{
		ExecutionID:     executionID,
		RoomID:          r.id,
		RequesterUserID: authorID,
		Language:        language,
		Code:            code,
		Stdin:           stdin,
		TimeoutMS:       int(spec.DefaultTimeout.Milliseconds()),
		MemoryBytes:     spec.DefaultMemory,
	}, nil
}

// CompleteExec clears the execution latch and broadcasts the result. Stale
// completions (an id that no longer matches the room's live execution) are
// logged and dropped rather than applied.
func (r *Room) CompleteExec(ctx context.Context, executionID string, result ExecutionResult) {
	r.mu.Lock()
	if r.executionID != executionID {
		r.mu.Unlock()
		logging.Warn(ctx, "dropping stale execution result", zap.String("execution_id", executionID), zap.String("room_id", r.id))
		return
	}
	r.executionLive = false
	r.executionID = ""
	r.requester = ""
	r.output = result.Stdout

	r.broadcastLocked(EventCodeExecutionResult, executionResultPayload{
		RoomID: r.id, ExecutionID: executionID, Status: string(result.Status),
		Stdout: result.Stdout, Stderr: result.Stderr,
		ExecutionTime: result.ExecutionTimeMS, MemoryUsed: result.MemoryBytes,
	}, "")
	r.mu.Unlock()

	existing, err := r.repo.FindExecutionLog(ctx, executionID)
	if err != nil {
		logging.Error(ctx, "failed to load execution log for completion", zap.Error(err), zap.String("execution_id", executionID))
		return
	}
	existing.Status = result.Status
	existing.Stdout = result.Stdout
	existing.Stderr = result.Stderr
	existing.ExitCode = result.ExitCode
	existing.ExecutionTimeMS = result.ExecutionTimeMS
	existing.PeakMemoryBytes = result.MemoryBytes
	existing.CompilationTimeMS = result.CompilationTimeMS
	if err := r.repo.UpdateExecutionLog(ctx, existing); err != nil {
		logging.Error(ctx, "failed to persist execution log result", zap.Error(err), zap.String("execution_id", executionID))
	}
}

// PostChat appends a chat message and broadcasts it to the room.
func (r *Room) PostChat(ctx context.Context, authorID, content string, kind domain.ChatKind) error {
	r.mu.Lock()
	if !r.isMemberLocked(authorID) {
		r.mu.Unlock()
		return ErrNotMember
	}
	r.mu.Unlock()

	msg := &domain.ChatMessage{
		ID: uuid.NewString(), RoomID: r.id, AuthorID: authorID, Content: content, Kind: kind, CreatedAt: time.Now(),
	}
	if err := r.repo.AppendChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist chat message: %w", err)
	}

	r.mu.Lock()
	r.broadcastLocked(EventChatReceived, chatReceivedPayload{
		RoomID: r.id,
		Message: chatMessageWire{
			ID: msg.ID, AuthorID: msg.AuthorID, Content: msg.Content, Kind: string(msg.Kind), CreatedAt: msg.CreatedAt.Unix(),
		},
	}, "")
	r.mu.Unlock()
	return nil
}

// ForwardVideoSignal relays an opaque signaling payload to every other
// socket in the room, subject to a membership check.
func (r *Room) ForwardVideoSignal(ctx context.Context, authorID, event string, raw json.RawMessage, originSocket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isMemberLocked(authorID) {
		return ErrNotMember
	}
	r.broadcastRawLocked(event, raw, originSocket)
	return nil
}

// Resync sends a full snapshot to a single socket, used after an
// invalid_edit rejection.
func (r *Room) Resync(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendLocked(client, EventRoomCodeSync, codeSyncPayload{
		RoomID: r.id, Code: r.buffer, Language: string(r.language), Input: r.stdin, Output: r.output,
	})
}

func (r *Room) sendLocked(client *Client, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound payload", zap.Error(err), zap.String("event", event))
		return
	}
	frame, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return
	}
	client.enqueue(frame)
}

// broadcastLocked enumerates the current socket set and enqueues a copy of
// the event to each, skipping excludeSocketID. Caller must hold mu.
func (r *Room) broadcastLocked(event string, payload any, excludeSocketID string) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal broadcast payload", zap.Error(err), zap.String("event", event))
		return
	}
	r.broadcastRawLocked(event, data, excludeSocketID)
}

func (r *Room) broadcastRawLocked(event string, data json.RawMessage, excludeSocketID string) {
	frame, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		logging.Error(context.Background(), "failed to marshal broadcast frame", zap.Error(err), zap.String("event", event))
		return
	}
	for _, sockets := range r.members {
		for socketID, client := range sockets {
			if socketID == excludeSocketID {
				continue
			}
			client.enqueue(frame)
		}
	}
	metrics.WebsocketEvents.WithLabelValues(event, "broadcast").Inc()
}

// socketCount reports the total number of connected sockets (all users).
func (r *Room) socketCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sockets := range r.members {
		n += len(sockets)
	}
	return n
}
