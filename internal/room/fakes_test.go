package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codecollab/editor-backend/internal/domain"
)

var errClosedFakeConn = errors.New("fake connection closed")

// fakeRepository is an in-memory stand-in for domain.Repository, enough to
// exercise Room without a real database.
type fakeRepository struct {
	mu           sync.Mutex
	rooms        map[string]*domain.Room
	memberships  map[string]*domain.Membership // roomID|userID
	chat         []*domain.ChatMessage
	executions   map[string]*domain.ExecutionLog
	updateRoomCh chan struct{}
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		rooms:       make(map[string]*domain.Room),
		memberships: make(map[string]*domain.Membership),
		executions:  make(map[string]*domain.ExecutionLog),
	}
}

func membershipKey(roomID, userID string) string { return roomID + "|" + userID }

func (f *fakeRepository) CreateUser(ctx context.Context, u *domain.User) error { return nil }
func (f *fakeRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeRepository) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeRepository) CreateRoom(ctx context.Context, r *domain.Room, owner *domain.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[r.ID] = r
	f.memberships[membershipKey(r.ID, owner.UserID)] = owner
	return nil
}

func (f *fakeRepository) FindRoom(ctx context.Context, id string) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepository) ListRooms(ctx context.Context, filter domain.RoomFilter) ([]*domain.Room, error) {
	return nil, nil
}

func (f *fakeRepository) UpdateRoom(ctx context.Context, r *domain.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[r.ID] = r
	if f.updateRoomCh != nil {
		f.updateRoomCh <- struct{}{}
	}
	return nil
}

func (f *fakeRepository) DeleteRoom(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
	return nil
}

func (f *fakeRepository) UpsertMembership(ctx context.Context, m *domain.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships[membershipKey(m.RoomID, m.UserID)] = m
	return nil
}

func (f *fakeRepository) DeleteMembership(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memberships, membershipKey(roomID, userID))
	return nil
}

func (f *fakeRepository) FindMembership(ctx context.Context, roomID, userID string) (*domain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[membershipKey(roomID, userID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeRepository) ListMemberships(ctx context.Context, roomID string) ([]*domain.Membership, error) {
	return nil, nil
}

func (f *fakeRepository) CountRoomsOwnedBy(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (f *fakeRepository) AppendChatMessage(ctx context.Context, m *domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chat = append(f.chat, m)
	return nil
}

func (f *fakeRepository) ListRecentChatMessages(ctx context.Context, roomID string, limit int) ([]*domain.ChatMessage, error) {
	return nil, nil
}

func (f *fakeRepository) CreateExecutionLog(ctx context.Context, e *domain.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.executions[e.ID] = &cp
	return nil
}

func (f *fakeRepository) UpdateExecutionLog(ctx context.Context, e *domain.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[e.ID] = e
	return nil
}

func (f *fakeRepository) FindExecutionLog(ctx context.Context, id string) (*domain.ExecutionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.executions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeRepository) UserActivityCounts(ctx context.Context, userID string) (int, int, int, error) {
	return 0, 0, 0, nil
}

// fakeQueue records enqueued jobs without dispatching them anywhere.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []ExecutionJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job ExecutionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// fakeConn is an in-memory wsConnection for exercising Client without a
// real network socket.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	inbound chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 32)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, errClosedFakeConn
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosedFakeConn
	}
	cp := append([]byte(nil), data...)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
