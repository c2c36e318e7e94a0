package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codecollab/editor-backend/internal/domain"
)

func newTestHub(t *testing.T, repo *fakeRepository, queue JobQueue, origins []string) *Hub {
	t.Helper()
	return NewHub(nil, repo, queue, nil, origins)
}

func TestCheckOrigin_AllowsConfiguredHostsOnly(t *testing.T) {
	h := newTestHub(t, newFakeRepository(), &fakeQueue{}, []string{"https://app.example.com"})

	allowed := httptest.NewRequest(http.MethodGet, "/ws", nil)
	allowed.Header.Set("Origin", "https://app.example.com")
	if !h.checkOrigin(allowed) {
		t.Fatal("expected configured origin to be allowed")
	}

	denied := httptest.NewRequest(http.MethodGet, "/ws", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	if h.checkOrigin(denied) {
		t.Fatal("expected unconfigured origin to be denied")
	}

	noHeader := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !h.checkOrigin(noHeader) {
		t.Fatal("requests without an Origin header (non-browser clients) should be allowed")
	}
}

func TestGetOrCreateRoom_ReturnsSameInstance(t *testing.T) {
	repo := newFakeRepository()
	row := &domain.Room{ID: "room-x", MaxCapacity: 5, Language: domain.LanguageGo, OwnerUserID: "owner"}
	if err := repo.CreateRoom(context.Background(), row, &domain.Membership{UserID: "owner", RoomID: row.ID}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	h := newTestHub(t, repo, &fakeQueue{}, nil)

	first := h.getOrCreateRoom(row)
	second := h.getOrCreateRoom(row)
	if first != second {
		t.Fatal("expected the same in-memory Room instance on repeated lookups")
	}
}

func TestRemoveRoom_EvictsFromRegistry(t *testing.T) {
	repo := newFakeRepository()
	row := &domain.Room{ID: "room-y", MaxCapacity: 5, Language: domain.LanguageGo, OwnerUserID: "owner"}
	if err := repo.CreateRoom(context.Background(), row, &domain.Membership{UserID: "owner", RoomID: row.ID}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	h := newTestHub(t, repo, &fakeQueue{}, nil)
	first := h.getOrCreateRoom(row)
	h.removeRoom(row.ID)
	second := h.getOrCreateRoom(row)
	if first == second {
		t.Fatal("expected a fresh Room instance after removeRoom")
	}
}

func TestDispatch_CodeUpdateBroadcastsToOtherMembers(t *testing.T) {
	repo := newFakeRepository()
	row := &domain.Room{ID: "room-z", MaxCapacity: 5, Language: domain.LanguageGo, OwnerUserID: "alice"}
	if err := repo.CreateRoom(context.Background(), row, &domain.Membership{UserID: "alice", RoomID: row.ID}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	h := newTestHub(t, repo, &fakeQueue{}, nil)
	r := h.getOrCreateRoom(row)

	alice := newTestClient("alice")
	alice.hub = h
	alice.room = r
	bob := newTestClient("bob")
	bob.hub = h
	bob.room = r

	if _, err := r.Join(context.Background(), "alice", "", alice); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if _, err := r.Join(context.Background(), "bob", "", bob); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	payload, err := json.Marshal(codeUpdatePayload{
		RoomID: row.ID, BaseVersion: 0,
		Ops: []WireOp{{Kind: "insert", Position: 0, Text: "x"}},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	h.dispatch(context.Background(), alice, Message{Event: EventCodeUpdate, Data: payload})

	select {
	case <-bob.send:
	case <-time.After(time.Second):
		t.Fatal("expected bob to receive the code update broadcast")
	}
}

func TestDispatch_UnknownEventIsIgnored(t *testing.T) {
	repo := newFakeRepository()
	row := &domain.Room{ID: "room-unknown", MaxCapacity: 5, Language: domain.LanguageGo, OwnerUserID: "alice"}
	if err := repo.CreateRoom(context.Background(), row, &domain.Membership{UserID: "alice", RoomID: row.ID}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	h := newTestHub(t, repo, &fakeQueue{}, nil)
	r := h.getOrCreateRoom(row)
	alice := newTestClient("alice")
	alice.hub = h
	alice.room = r
	if _, err := r.Join(context.Background(), "alice", "", alice); err != nil {
		t.Fatalf("join: %v", err)
	}

	h.dispatch(context.Background(), alice, Message{Event: "made:up:event"})
}
