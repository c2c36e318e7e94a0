// Package httpapi wires the REST surface: auth, room CRUD/membership,
// execution submission, and user activity aggregation.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/codecollab/editor-backend/internal/domain"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/middleware"
	"github.com/codecollab/editor-backend/internal/queue"
	"github.com/codecollab/editor-backend/internal/room"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeadLetterSource exposes the execution queue's dead-letter view for the
// admin inspection endpoint.
type DeadLetterSource interface {
	DeadLettered() []queue.Job
}

// API holds the collaborators every handler needs.
type API struct {
	repo        domain.Repository
	issuer      *auth.LocalIssuer
	hub         *room.Hub
	deadLetters DeadLetterSource
}

func New(repo domain.Repository, issuer *auth.LocalIssuer, hub *room.Hub, deadLetters DeadLetterSource) *API {
	return &API{repo: repo, issuer: issuer, hub: hub, deadLetters: deadLetters}
}

// RegisterRoutes attaches every route from the HTTP surface to engine. auth
// middleware is assumed already applied to the authed group by the caller;
// registerLimit, loginLimit, roomCreateLimit and execLimit are the per-route
// rate-limit buckets from §4.5 that only apply to their one route each (gin
// panics on a duplicate method+path registration, so these must be attached
// here rather than declared again by the caller before this call).
func (a *API) RegisterRoutes(public, authed gin.IRouter, registerLimit, loginLimit, roomCreateLimit, execLimit gin.HandlerFunc) {
	public.POST("/api/auth/register", registerLimit, a.register)
	public.POST("/api/auth/login", loginLimit, a.login)

	authed.GET("/api/rooms", a.listRooms)
	authed.POST("/api/rooms", roomCreateLimit, a.createRoom)
	authed.GET("/api/rooms/:id", a.getRoom)
	authed.PUT("/api/rooms/:id", a.updateRoom)
	authed.POST("/api/rooms/:id/join", a.joinRoom)
	authed.POST("/api/rooms/:id/leave", a.leaveRoom)
	authed.POST("/api/code/execute", execLimit, a.executeCode)
	authed.GET("/api/users/activity", a.userActivity)
	authed.GET("/api/admin/executions/dead-letter", a.deadLetteredExecutions)
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"success": false, "error": message, "code": code})
}

func currentUserID(c *gin.Context) (string, bool) {
	claims, ok := c.Get(middleware.ClaimsContextKey)
	if !ok {
		return "", false
	}
	cc, ok := claims.(*auth.CustomClaims)
	if !ok {
		return "", false
	}
	return cc.Subject, true
}

type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"displayName" binding:"required"`
}

func (a *API) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "validation", err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to hash password")
		return
	}

	user := &domain.User{
		ID: uuid.NewString(), Email: req.Email, DisplayName: req.DisplayName,
		PasswordHash: hash, CreatedAt: time.Now(),
	}
	if err := a.repo.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			fail(c, http.StatusConflict, "conflict", "account already exists")
			return
		}
		logging.Error(c.Request.Context(), "failed to create user", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "failed to create account")
		return
	}

	token, err := a.issuer.IssueToken(user.ID, user.DisplayName, user.Email)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}
	ok(c, http.StatusCreated, gin.H{"token": token, "userId": user.ID})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (a *API) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "validation", err.Error())
		return
	}

	user, err := a.repo.FindUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		fail(c, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		fail(c, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	token, err := a.issuer.IssueToken(user.ID, user.DisplayName, user.Email)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}
	ok(c, http.StatusOK, gin.H{"token": token, "userId": user.ID})
}

func (a *API) listRooms(c *gin.Context) {
	rooms, err := a.repo.ListRooms(c.Request.Context(), domain.RoomFilter{VisibilityPublic: true, Limit: 50})
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to list rooms")
		return
	}
	ok(c, http.StatusOK, rooms)
}

type createRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Password    string `json:"password"`
	MaxCapacity int    `json:"maxCapacity"`
	Language    string `json:"language"`
}

func (a *API) createRoom(c *gin.Context) {
	userID, authed := currentUserID(c)
	if !authed {
		fail(c, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "validation", err.Error())
		return
	}

	language := domain.Language(req.Language)
	if language == "" {
		language = domain.LanguagePython
	}
	if !domain.SupportedLanguages[language] {
		fail(c, http.StatusBadRequest, "validation", "unsupported language")
		return
	}

	visibility := domain.VisibilityPublic
	if req.Visibility == string(domain.VisibilityPrivate) {
		visibility = domain.VisibilityPrivate
	}

	var passwordHash string
	if visibility == domain.VisibilityPrivate {
		if req.Password == "" {
			fail(c, http.StatusBadRequest, "validation", "password required for a private room")
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			fail(c, http.StatusInternalServerError, "internal", "failed to hash room password")
			return
		}
		passwordHash = hash
	}

	maxCapacity := req.MaxCapacity
	if maxCapacity <= 0 {
		maxCapacity = 10
	}

	now := time.Now()
	room := &domain.Room{
		ID: uuid.NewString(), Name: req.Name, Description: req.Description,
		Visibility: visibility, PasswordHash: passwordHash, MaxCapacity: maxCapacity,
		Language: language, OwnerUserID: userID, CreatedAt: now, UpdatedAt: now,
	}
	owner := &domain.Membership{UserID: userID, RoomID: room.ID, Role: domain.RoleOwner, JoinedAt: now}

	if err := a.repo.CreateRoom(c.Request.Context(), room, owner); err != nil {
		logging.Error(c.Request.Context(), "failed to create room", zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal", "failed to create room")
		return
	}
	ok(c, http.StatusCreated, room)
}

func (a *API) getRoom(c *gin.Context) {
	room, err := a.repo.FindRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "room not found")
		return
	}
	ok(c, http.StatusOK, room)
}

type updateRoomRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MaxCapacity *int    `json:"maxCapacity"`
}

func (a *API) updateRoom(c *gin.Context) {
	userID, authed := currentUserID(c)
	if !authed {
		fail(c, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	room, err := a.repo.FindRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "room not found")
		return
	}

	membership, err := a.repo.FindMembership(c.Request.Context(), room.ID, userID)
	if err != nil || (membership.Role != domain.RoleOwner && membership.Role != domain.RoleAdmin) {
		fail(c, http.StatusForbidden, "unauthorized", "only the owner or an admin may update this room")
		return
	}

	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Name != nil {
		room.Name = *req.Name
	}
	if req.Description != nil {
		room.Description = *req.Description
	}
	if req.MaxCapacity != nil && *req.MaxCapacity > 0 {
		room.MaxCapacity = *req.MaxCapacity
	}
	room.UpdatedAt = time.Now()

	if err := a.repo.UpdateRoom(c.Request.Context(), room); err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to update room")
		return
	}
	ok(c, http.StatusOK, room)
}

type joinRoomRequest struct {
	Password string `json:"password"`
}

// joinRoom records membership via the repository for clients that join over
// plain HTTP before opening a WebSocket; the WebSocket gateway performs its
// own authoritative Join/password check per connection.
func (a *API) joinRoom(c *gin.Context) {
	userID, authed := currentUserID(c)
	if !authed {
		fail(c, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	room, err := a.repo.FindRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "not_found", "room not found")
		return
	}

	var req joinRoomRequest
	_ = c.ShouldBindJSON(&req)

	if room.Visibility == domain.VisibilityPrivate {
		if err := auth.VerifyPassword(room.PasswordHash, req.Password); err != nil {
			fail(c, http.StatusForbidden, "unauthorized", "incorrect room password")
			return
		}
	}

	if err := a.repo.UpsertMembership(c.Request.Context(), &domain.Membership{
		UserID: userID, RoomID: room.ID, Role: domain.RoleMember, JoinedAt: time.Now(),
	}); err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to join room")
		return
	}
	ok(c, http.StatusOK, room)
}

func (a *API) leaveRoom(c *gin.Context) {
	userID, authed := currentUserID(c)
	if !authed {
		fail(c, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if err := a.repo.DeleteMembership(c.Request.Context(), c.Param("id"), userID); err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to leave room")
		return
	}
	ok(c, http.StatusOK, gin.H{"left": true})
}

func (a *API) userActivity(c *gin.Context) {
	userID, authed := currentUserID(c)
	if !authed {
		fail(c, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	roomsOwned, messagesSent, executionsRun, err := a.repo.UserActivityCounts(c.Request.Context(), userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "failed to aggregate activity")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"roomsOwned":    roomsOwned,
		"messagesSent":  messagesSent,
		"executionsRun": executionsRun,
	})
}

type executeCodeRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

// executeCode is the plain-HTTP counterpart to the code:execute WebSocket
// event (internal/room/dispatch.go): it enqueues a job against the caller's
// already-connected room without needing an open socket to issue the
// request over.
func (a *API) executeCode(c *gin.Context) {
	userID, authed := currentUserID(c)
	if !authed {
		fail(c, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var req executeCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "validation", err.Error())
		return
	}

	executionID, err := a.hub.SubmitExecution(c.Request.Context(), req.RoomID, userID)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomNotFound):
			fail(c, http.StatusNotFound, "not_found", "room is not active, join via websocket first")
		case errors.Is(err, room.ErrNotMember):
			fail(c, http.StatusForbidden, "unauthorized", "not a connected member of this room")
		case errors.Is(err, room.ErrExecutionBusy):
			fail(c, http.StatusConflict, "busy", "an execution is already running in this room")
		default:
			logging.Error(c.Request.Context(), "failed to submit execution", zap.Error(err))
			fail(c, http.StatusInternalServerError, "internal", "failed to submit execution")
		}
		return
	}
	ok(c, http.StatusAccepted, gin.H{"executionId": executionID})
}

// deadLetteredExecutions surfaces the job queue's most recent
// retry-exhausted jobs for operator visibility.
func (a *API) deadLetteredExecutions(c *gin.Context) {
	if a.deadLetters == nil {
		ok(c, http.StatusOK, gin.H{"jobs": []queue.Job{}})
		return
	}
	ok(c, http.StatusOK, gin.H{"jobs": a.deadLetters.DeadLettered()})
}
