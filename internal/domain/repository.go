package domain

import (
	"context"
	"errors"
)

// Sentinel errors translated by the HTTP/WS layers into the error taxonomy
// from the wire protocol (validation, not_found, conflict, ...).
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// RoomFilter narrows a room listing.
type RoomFilter struct {
	VisibilityPublic bool
	OwnerUserID      string
	Limit            int
	Offset           int
}

// Repository is the narrow persistence interface the core depends on. Video
// calling, TLS, and UI concerns never touch it; it only ever sees the rows
// described in the data model.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)

	CreateRoom(ctx context.Context, r *Room, owner *Membership) error
	FindRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context, filter RoomFilter) ([]*Room, error)
	UpdateRoom(ctx context.Context, r *Room) error
	DeleteRoom(ctx context.Context, id string) error

	UpsertMembership(ctx context.Context, m *Membership) error
	DeleteMembership(ctx context.Context, roomID, userID string) error
	FindMembership(ctx context.Context, roomID, userID string) (*Membership, error)
	ListMemberships(ctx context.Context, roomID string) ([]*Membership, error)
	CountRoomsOwnedBy(ctx context.Context, userID string) (int, error)

	AppendChatMessage(ctx context.Context, m *ChatMessage) error
	ListRecentChatMessages(ctx context.Context, roomID string, limit int) ([]*ChatMessage, error)

	CreateExecutionLog(ctx context.Context, e *ExecutionLog) error
	UpdateExecutionLog(ctx context.Context, e *ExecutionLog) error
	FindExecutionLog(ctx context.Context, id string) (*ExecutionLog, error)

	// UserActivityCounts aggregates counts for the /api/users/activity endpoint.
	UserActivityCounts(ctx context.Context, userID string) (roomsOwned int, messagesSent int, executionsRun int, err error)
}
