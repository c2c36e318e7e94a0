package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements domain.Repository against Postgres. It is a thin
// SQL layer: no caching, no business rules, one query per method except
// CreateRoom, which runs its two inserts in one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// New builds a Repository over an already-opened pool.
func New(db *DB) *Repository {
	return &Repository{pool: db.Pool}
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *Repository) CreateUser(ctx context.Context, u *domain.User) error {
	const q = `INSERT INTO users (id, email, display_name, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, q, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", translateErr(err))
	}
	return nil
}

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const q = `SELECT id, email, display_name, password_hash, created_at FROM users WHERE email = $1`
	var u domain.User
	err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", translateErr(err))
	}
	return &u, nil
}

func (r *Repository) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	const q = `SELECT id, email, display_name, password_hash, created_at FROM users WHERE id = $1`
	var u domain.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", translateErr(err))
	}
	return &u, nil
}

func (r *Repository) CreateRoom(ctx context.Context, room *domain.Room, owner *domain.Membership) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create room tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertRoom = `
		INSERT INTO rooms (id, name, description, visibility, password_hash, max_capacity, language, code_buffer, stdin_buffer, last_output, owner_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := tx.Exec(ctx, insertRoom,
		room.ID, room.Name, room.Description, room.Visibility, room.PasswordHash, room.MaxCapacity,
		room.Language, room.CodeBuffer, room.StdinBuffer, room.LastOutput, room.OwnerUserID, room.CreatedAt, room.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert room: %w", translateErr(err))
	}

	const insertMembership = `INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertMembership, owner.RoomID, owner.UserID, owner.Role, owner.JoinedAt); err != nil {
		return fmt.Errorf("insert owner membership: %w", translateErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create room tx: %w", err)
	}
	return nil
}

func (r *Repository) FindRoom(ctx context.Context, id string) (*domain.Room, error) {
	const q = `
		SELECT id, name, description, visibility, password_hash, max_capacity, language, code_buffer, stdin_buffer, last_output, owner_user_id, created_at, updated_at
		FROM rooms WHERE id = $1`
	var room domain.Room
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&room.ID, &room.Name, &room.Description, &room.Visibility, &room.PasswordHash, &room.MaxCapacity,
		&room.Language, &room.CodeBuffer, &room.StdinBuffer, &room.LastOutput, &room.OwnerUserID, &room.CreatedAt, &room.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find room: %w", translateErr(err))
	}
	return &room, nil
}

func (r *Repository) ListRooms(ctx context.Context, filter domain.RoomFilter) ([]*domain.Room, error) {
	q := `
		SELECT id, name, description, visibility, password_hash, max_capacity, language, code_buffer, stdin_buffer, last_output, owner_user_id, created_at, updated_at
		FROM rooms WHERE 1=1`
	args := []any{}
	argN := 1

	if filter.VisibilityPublic {
		q += fmt.Sprintf(" AND visibility = $%d", argN)
		args = append(args, domain.VisibilityPublic)
		argN++
	}
	if filter.OwnerUserID != "" {
		q += fmt.Sprintf(" AND owner_user_id = $%d", argN)
		args = append(args, filter.OwnerUserID)
		argN++
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filter.Limit)
		argN++
	}
	if filter.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", translateErr(err))
	}
	defer rows.Close()

	var rooms []*domain.Room
	for rows.Next() {
		var room domain.Room
		if err := rows.Scan(
			&room.ID, &room.Name, &room.Description, &room.Visibility, &room.PasswordHash, &room.MaxCapacity,
			&room.Language, &room.CodeBuffer, &room.StdinBuffer, &room.LastOutput, &room.OwnerUserID, &room.CreatedAt, &room.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

func (r *Repository) UpdateRoom(ctx context.Context, room *domain.Room) error {
	const q = `
		UPDATE rooms SET code_buffer = $2, language = $3, stdin_buffer = $4, last_output = $5, updated_at = $6
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, room.ID, room.CodeBuffer, room.Language, room.StdinBuffer, room.LastOutput, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update room: %w", translateErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteRoom(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", translateErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) UpsertMembership(ctx context.Context, m *domain.Membership) error {
	const q = `
		INSERT INTO memberships (room_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET role = EXCLUDED.role`
	_, err := r.pool.Exec(ctx, q, m.RoomID, m.UserID, m.Role, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", translateErr(err))
	}
	return nil
}

func (r *Repository) DeleteMembership(ctx context.Context, roomID, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM memberships WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", translateErr(err))
	}
	return nil
}

func (r *Repository) FindMembership(ctx context.Context, roomID, userID string) (*domain.Membership, error) {
	const q = `SELECT user_id, room_id, role, joined_at FROM memberships WHERE room_id = $1 AND user_id = $2`
	var m domain.Membership
	err := r.pool.QueryRow(ctx, q, roomID, userID).Scan(&m.UserID, &m.RoomID, &m.Role, &m.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", translateErr(err))
	}
	return &m, nil
}

func (r *Repository) ListMemberships(ctx context.Context, roomID string) ([]*domain.Membership, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, room_id, role, joined_at FROM memberships WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", translateErr(err))
	}
	defer rows.Close()

	var out []*domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID, &m.RoomID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *Repository) CountRoomsOwnedBy(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM rooms WHERE owner_user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rooms owned by: %w", translateErr(err))
	}
	return count, nil
}

func (r *Repository) AppendChatMessage(ctx context.Context, m *domain.ChatMessage) error {
	const q = `INSERT INTO chat_messages (id, room_id, author_id, content, kind, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q, m.ID, m.RoomID, m.AuthorID, m.Content, m.Kind, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append chat message: %w", translateErr(err))
	}
	return nil
}

func (r *Repository) ListRecentChatMessages(ctx context.Context, roomID string, limit int) ([]*domain.ChatMessage, error) {
	const q = `
		SELECT id, room_id, author_id, content, kind, created_at
		FROM chat_messages WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent chat messages: %w", translateErr(err))
	}
	defer rows.Close()

	var out []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.Kind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *Repository) CreateExecutionLog(ctx context.Context, e *domain.ExecutionLog) error {
	const q = `
		INSERT INTO execution_logs (id, room_id, user_id, language, code, stdin, stdout, stderr, status, exit_code, execution_time_ms, peak_memory_bytes, compilation_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.pool.Exec(ctx, q,
		e.ID, e.RoomID, e.UserID, e.Language, e.Code, e.Stdin, e.Stdout, e.Stderr, e.Status,
		e.ExitCode, e.ExecutionTimeMS, e.PeakMemoryBytes, e.CompilationTimeMS, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create execution log: %w", translateErr(err))
	}
	return nil
}

func (r *Repository) UpdateExecutionLog(ctx context.Context, e *domain.ExecutionLog) error {
	const q = `
		UPDATE execution_logs
		SET stdout = $2, stderr = $3, status = $4, exit_code = $5, execution_time_ms = $6, peak_memory_bytes = $7, compilation_time_ms = $8
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, e.ID, e.Stdout, e.Stderr, e.Status, e.ExitCode, e.ExecutionTimeMS, e.PeakMemoryBytes, e.CompilationTimeMS)
	if err != nil {
		return fmt.Errorf("update execution log: %w", translateErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) FindExecutionLog(ctx context.Context, id string) (*domain.ExecutionLog, error) {
	const q = `
		SELECT id, room_id, user_id, language, code, stdin, stdout, stderr, status, exit_code, execution_time_ms, peak_memory_bytes, compilation_time_ms, created_at
		FROM execution_logs WHERE id = $1`
	var e domain.ExecutionLog
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&e.ID, &e.RoomID, &e.UserID, &e.Language, &e.Code, &e.Stdin, &e.Stdout, &e.Stderr, &e.Status,
		&e.ExitCode, &e.ExecutionTimeMS, &e.PeakMemoryBytes, &e.CompilationTimeMS, &e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find execution log: %w", translateErr(err))
	}
	return &e, nil
}

func (r *Repository) UserActivityCounts(ctx context.Context, userID string) (roomsOwned int, messagesSent int, executionsRun int, err error) {
	const q = `
		SELECT
			(SELECT count(*) FROM rooms WHERE owner_user_id = $1),
			(SELECT count(*) FROM chat_messages WHERE author_id = $1),
			(SELECT count(*) FROM execution_logs WHERE user_id = $1)`
	err = r.pool.QueryRow(ctx, q, userID).Scan(&roomsOwned, &messagesSent, &executionsRun)
	if err != nil {
		err = fmt.Errorf("user activity counts: %w", translateErr(err))
	}
	return
}
