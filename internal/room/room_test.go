package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/codecollab/editor-backend/internal/domain"
)

func newTestClient(userID string) *Client {
	return &Client{
		conn:     newFakeConn(),
		send:     make(chan []byte, outboundQueueSize),
		userID:   userID,
		socketID: userID + "-socket",
	}
}

func newTestRoom(t *testing.T, maxCapacity int) (*Room, *fakeRepository) {
	t.Helper()
	repo := newFakeRepository()
	row := &domain.Room{
		ID: "room-1", Name: "test room", Visibility: domain.VisibilityPublic,
		MaxCapacity: maxCapacity, Language: domain.LanguageGo, OwnerUserID: "owner",
	}
	if err := repo.CreateRoom(context.Background(), row, &domain.Membership{
		UserID: "owner", RoomID: row.ID, Role: domain.RoleOwner, JoinedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	var clock int64
	r := NewRoom(row, repo, &fakeQueue{}, func() int64 { clock++; return clock }, nil)
	return r, repo
}

func TestJoin_EnforcesCapacity(t *testing.T) {
	r, _ := newTestRoom(t, 1)
	ctx := context.Background()

	if _, err := r.Join(ctx, "owner", "", newTestClient("owner")); err != nil {
		t.Fatalf("owner join: %v", err)
	}
	if _, err := r.Join(ctx, "second", "", newTestClient("second")); err != ErrRoomFull {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestJoin_SameUserSecondSocketIsIdempotent(t *testing.T) {
	r, _ := newTestRoom(t, 1)
	ctx := context.Background()

	if _, err := r.Join(ctx, "owner", "", newTestClient("owner")); err != nil {
		t.Fatalf("first join: %v", err)
	}
	second := &Client{conn: newFakeConn(), send: make(chan []byte, outboundQueueSize), userID: "owner", socketID: "owner-tab2"}
	if _, err := r.Join(ctx, "owner", "", second); err != nil {
		t.Fatalf("second socket for same user should not hit capacity: %v", err)
	}
}

func TestJoin_PrivateRoomRequiresPassword(t *testing.T) {
	repo := newFakeRepository()
	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	row := &domain.Room{
		ID: "priv-1", Visibility: domain.VisibilityPrivate, PasswordHash: hash,
		MaxCapacity: 5, Language: domain.LanguagePython, OwnerUserID: "owner",
	}
	if err := repo.CreateRoom(context.Background(), row, &domain.Membership{UserID: "owner", RoomID: row.ID}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	r := NewRoom(row, repo, &fakeQueue{}, func() int64 { return 1 }, nil)

	if _, err := r.Join(context.Background(), "guest", "wrong", newTestClient("guest")); err != ErrBadPassword {
		t.Fatalf("expected ErrBadPassword, got %v", err)
	}
	if _, err := r.Join(context.Background(), "guest", "secret", newTestClient("guest")); err != nil {
		t.Fatalf("correct password should admit: %v", err)
	}
}

func TestLeave_ExplicitDeletesMembershipImplicitDoesNot(t *testing.T) {
	r, repo := newTestRoom(t, 5)
	ctx := context.Background()
	client := newTestClient("owner")
	if _, err := r.Join(ctx, "owner", "", client); err != nil {
		t.Fatalf("join: %v", err)
	}

	r.Leave(ctx, "owner", client.socketID, false)
	if _, err := repo.FindMembership(ctx, r.id, "owner"); err != nil {
		t.Fatalf("implicit disconnect should preserve membership, got %v", err)
	}

	if _, err := r.Join(ctx, "owner", "", client); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	r.Leave(ctx, "owner", client.socketID, true)
	if _, err := repo.FindMembership(ctx, r.id, "owner"); err != domain.ErrNotFound {
		t.Fatalf("explicit leave should delete membership, got %v", err)
	}
}

func TestRequestExec_SecondRequestIsBusyUntilCompletion(t *testing.T) {
	r, _ := newTestRoom(t, 5)
	ctx := context.Background()
	if _, err := r.Join(ctx, "owner", "", newTestClient("owner")); err != nil {
		t.Fatalf("join: %v", err)
	}

	job, err := r.RequestExec(ctx, "owner")
	if err != nil {
		t.Fatalf("first exec request: %v", err)
	}
	if _, err := r.RequestExec(ctx, "owner"); err != ErrExecutionBusy {
		t.Fatalf("expected ErrExecutionBusy, got %v", err)
	}

	r.CompleteExec(ctx, job.ExecutionID, ExecutionResult{Status: domain.ExecutionCompleted, Stdout: "ok"})

	if _, err := r.RequestExec(ctx, "owner"); err != nil {
		t.Fatalf("exec should be available again after completion: %v", err)
	}
}

func TestCompleteExec_DropsStaleExecutionID(t *testing.T) {
	r, _ := newTestRoom(t, 5)
	ctx := context.Background()
	if _, err := r.Join(ctx, "owner", "", newTestClient("owner")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.RequestExec(ctx, "owner"); err != nil {
		t.Fatalf("exec request: %v", err)
	}

	r.CompleteExec(ctx, "not-the-live-id", ExecutionResult{Status: domain.ExecutionCompleted})

	if _, err := r.RequestExec(ctx, "owner"); err != ErrExecutionBusy {
		t.Fatalf("stale completion must not clear the live latch, got %v", err)
	}
}

func TestApplyEdit_RejectsNonMember(t *testing.T) {
	r, _ := newTestRoom(t, 5)
	ctx := context.Background()
	ops := []domain.Operation{{Kind: domain.OpInsert, Position: 0, Text: "a"}}
	if _, _, err := r.ApplyEdit(ctx, "ghost", ops, 0, "socket"); err != ErrNotMember {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestApplyEdit_BroadcastReachesOtherSockets(t *testing.T) {
	r, _ := newTestRoom(t, 5)
	ctx := context.Background()
	a := newTestClient("alice")
	b := newTestClient("bob")
	if _, err := r.Join(ctx, "alice", "", a); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if _, err := r.Join(ctx, "bob", "", b); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	ops := []domain.Operation{{Kind: domain.OpInsert, Position: 0, Text: "hi", AuthorID: "alice", Timestamp: 1}}
	if _, _, err := r.ApplyEdit(ctx, "alice", ops, 0, a.socketID); err != nil {
		t.Fatalf("apply edit: %v", err)
	}

	select {
	case frame := <-b.send:
		if len(frame) == 0 {
			t.Fatal("expected non-empty broadcast frame for bob")
		}
	default:
		t.Fatal("expected bob to receive the broadcast update")
	}

	select {
	case <-a.send:
		t.Fatal("author's own socket should be excluded from the broadcast")
	default:
	}
}

func TestConcurrentJoins_NoCapacityRaceUnderLock(t *testing.T) {
	r, _ := newTestRoom(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := "user"
			_, err := r.Join(ctx, userID+string(rune('A'+i)), "", newTestClient(userID+string(rune('A'+i))))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		if err == nil {
			admitted++
		} else if err != ErrRoomFull {
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if admitted != 3 {
		t.Fatalf("expected exactly 3 admitted joins under capacity 3, got %d", admitted)
	}
}
