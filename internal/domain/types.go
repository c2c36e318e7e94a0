// Package domain holds the core data types shared across the room hub, OT
// engine, sandbox pipeline, and repository layer.
package domain

import "time"

// Visibility controls whether a room requires a password to join.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// MembershipRole is a user's permission level within a room.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleAdmin  MembershipRole = "admin"
	RoleMember MembershipRole = "member"
)

// ChatKind distinguishes how a chat message should be rendered.
type ChatKind string

const (
	ChatKindText   ChatKind = "text"
	ChatKindSystem ChatKind = "system"
	ChatKindCode   ChatKind = "code"
)

// ExecutionStatus is the lifecycle state of a sandboxed run.
type ExecutionStatus string

const (
	ExecutionPending           ExecutionStatus = "pending"
	ExecutionRunning           ExecutionStatus = "running"
	ExecutionCompleted         ExecutionStatus = "completed"
	ExecutionFailed            ExecutionStatus = "failed"
	ExecutionTimeout           ExecutionStatus = "timeout"
	ExecutionMemoryLimit       ExecutionStatus = "memory_limit"
	ExecutionCompilationError  ExecutionStatus = "compilation_error"
	ExecutionRuntimeError      ExecutionStatus = "runtime_error"
	ExecutionSecurityBlock     ExecutionStatus = "security_block"
)

// Language is a supported execution language tag.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
	LanguageC          Language = "c"
	LanguageGo         Language = "go"
	LanguageRust       Language = "rust"
	LanguagePHP        Language = "php"
)

// SupportedLanguages enumerates every language tag accepted by the sandbox.
var SupportedLanguages = map[Language]bool{
	LanguageJavaScript: true,
	LanguagePython:     true,
	LanguageJava:       true,
	LanguageCPP:        true,
	LanguageC:          true,
	LanguageGo:         true,
	LanguageRust:       true,
	LanguagePHP:        true,
}

// User is a registered account. Password verification lives in internal/auth;
// the repository only ever sees the opaque hash.
type User struct {
	ID             string
	Email          string
	DisplayName    string
	PasswordHash   string
	CreatedAt      time.Time
}

// Room is the persisted metadata row for a collaborative session.
type Room struct {
	ID               string
	Name             string
	Description      string
	Visibility       Visibility
	PasswordHash     string
	MaxCapacity      int
	Language         Language
	CodeBuffer       string
	StdinBuffer      string
	LastOutput       string
	OwnerUserID      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Membership links a user to a room with a role.
type Membership struct {
	UserID   string
	RoomID   string
	Role     MembershipRole
	JoinedAt time.Time
}

// ChatMessage is one insertion-ordered message in a room's chat stream.
type ChatMessage struct {
	ID        string
	RoomID    string
	AuthorID  string
	Content   string
	Kind      ChatKind
	CreatedAt time.Time
}

// ExecutionLog is the persisted record of one sandboxed run.
type ExecutionLog struct {
	ID                 string
	RoomID             string
	UserID             *string
	Language           Language
	Code               string
	Stdin              string
	Stdout             string
	Stderr             string
	Status             ExecutionStatus
	ExitCode           int
	ExecutionTimeMS    int64
	PeakMemoryBytes    int64
	CompilationTimeMS  int64
	CreatedAt          time.Time
}

// OperationKind is the type of a single OT primitive.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpDelete OperationKind = "delete"
	OpRetain OperationKind = "retain"
)

// Operation is one primitive edit within a batch. Insert carries Text;
// Delete and Retain carry Length. Never persisted — operations live only
// long enough to be transformed against concurrent batches.
type Operation struct {
	Kind      OperationKind
	Position  int
	Length    int
	Text      string
	AuthorID  string
	Timestamp int64
}
