package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfhub/shelfhub/internal/config"
	"github.com/shelfhub/shelfhub/internal/domain/user"
	"github.com/shelfhub/shelfhub/internal/http/middlewares"
	"github.com/shelfhub/shelfhub/internal/queue/redisclient"
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
	"github.com/shelfhub/shelfhub/internal/security"
	"github.com/shelfhub/shelfhub/internal/utils"
)

const statsCacheTTL = 30 * time.Second

type UsersRepository interface {
	Create(ctx context.Context, req user.CreateUserRequest, passwordHash string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error)
	Update(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error)
	UpdateRole(ctx context.Context, id string, role user.Role) error
	UpdateStatus(ctx context.Context, id string, status user.Status) error
	SoftDelete(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
	Stats(ctx context.Context) (user.Stats, error)
}

// StatsCache is the slice of the redis client the handler needs; nil-able so
// the service runs without redis.
type StatsCache interface {
	GetJSON(ctx context.Context, key string, out any) error
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SessionRevoker ends every live refresh session for a member.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

type UsersHandler struct {
	repo     UsersRepository
	cache    StatsCache
	sessions SessionRevoker
}

func NewUsersHandler(repo UsersRepository, cache StatsCache, sessions SessionRevoker) *UsersHandler {
	return &UsersHandler{repo: repo, cache: cache, sessions: sessions}
}

// POST /admin/users
func (h *UsersHandler) Create(ctx *gin.Context) {
	var req user.CreateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	u, err := h.repo.Create(cctx, req, hash)

	if err != nil {
		if errors.Is(err, postgres.ErrEmailAlreadyUsed) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	h.invalidateStats(cctx)

	ctx.JSON(http.StatusCreated, u)
}

// GET /admin/users?query=&role=&status=&limit=&offset=
func (h *UsersHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)

	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	offset := parseIntDefault(ctx.Query("offset"), 0)

	if offset < 0 {
		RespondBadRequest(ctx, "offset must not be negative", nil)
		return
	}

	filter := user.ListFilter{Limit: limit, Offset: offset}

	if q := ctx.Query("query"); q != "" {
		filter.Query = &q
	}

	if roleStr := ctx.Query("role"); roleStr != "" {
		role := user.Role(roleStr)

		if !role.IsValid() {
			RespondBadRequest(ctx, "unknown role filter", nil)
			return
		}
		filter.Role = &role
	}

	if statusStr := ctx.Query("status"); statusStr != "" {
		status := user.Status(statusStr)

		// inactive rows never appear in listings, so filtering on them
		// is a caller mistake, not an empty page
		if !status.IsValid() || status == user.StatusInactive {
			RespondBadRequest(ctx, "unknown status filter", nil)
			return
		}
		filter.Status = &status
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	users, total, err := h.repo.List(cctx, filter)

	if err != nil {
		RespondInternal(ctx, "Could not list users")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"items":  users,
		"count":  len(users),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GET /admin/users/:id
func (h *UsersHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not fetch user")
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// PATCH /admin/users/:id
func (h *UsersHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	var req user.UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.IsEmpty() {
		RespondBadRequest(ctx, "at least one field must be provided", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	u, err := h.repo.Update(cctx, id, req)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		case errors.Is(err, postgres.ErrEmailAlreadyUsed):
			RespondConflict(ctx, "email_taken", "Email is already in use.")
		case errors.Is(err, postgres.ErrNoFields):
			RespondBadRequest(ctx, "at least one field must be provided", nil)
		default:
			RespondInternal(ctx, "Could not update user")
		}
		return
	}

	ctx.JSON(http.StatusOK, u)
}

type updateRoleRequest struct {
	Role user.Role `json:"role" binding:"required,oneof=student faculty librarian admin"`
}

// PUT /admin/users/:id/role
func (h *UsersHandler) UpdateRole(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	var req updateRoleRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// an admin stripping their own admin role locks everyone out
	if actingID, _ := middlewares.UserIDFromContext(ctx); actingID == id && req.Role != user.RoleAdmin {
		RespondConflict(ctx, "self_demotion", "You cannot remove your own admin role.")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.UpdateRole(cctx, id, req.Role); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not update role")
		return
	}

	h.invalidateStats(cctx)

	ctx.JSON(http.StatusOK, gin.H{"id": id, "role": req.Role})
}

type updateStatusRequest struct {
	Status user.Status `json:"status" binding:"required,oneof=active suspended"`
}

// PUT /admin/users/:id/status
// Only active<->suspended flips; inactive is reached through DELETE.
func (h *UsersHandler) UpdateStatus(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	var req updateStatusRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if actingID, _ := middlewares.UserIDFromContext(ctx); actingID == id && req.Status == user.StatusSuspended {
		RespondConflict(ctx, "self_suspension", "You cannot suspend your own account.")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.UpdateStatus(cctx, id, req.Status); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not update status")
		return
	}

	// a suspended member must not keep renewing an existing session
	if req.Status == user.StatusSuspended {
		h.revokeSessions(cctx, id)
	}

	h.invalidateStats(cctx)

	ctx.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

// DELETE /admin/users/:id
// Delete is always soft: the row stays, status flips to inactive.
func (h *UsersHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	if actingID, _ := middlewares.UserIDFromContext(ctx); actingID == id {
		RespondConflict(ctx, "self_delete", "You cannot delete your own account.")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.SoftDelete(cctx, id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not delete user")
		return
	}

	h.revokeSessions(cctx, id)
	h.invalidateStats(cctx)

	ctx.Status(http.StatusNoContent)
}

// GET /admin/users/stats
func (h *UsersHandler) Stats(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if h.cache != nil {
		var cached user.Stats

		err := h.cache.GetJSON(cctx, utils.UserStatsCacheKey, &cached)

		if err == nil {
			ctx.JSON(http.StatusOK, cached)
			return
		}

		if !errors.Is(err, redisclient.ErrCacheMiss) {
			slog.Default().WarnContext(cctx, "stats cache read failed", "error", err)
		}
	}

	stats, err := h.repo.Stats(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not compute stats")
		return
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(cctx, utils.UserStatsCacheKey, stats, statsCacheTTL); err != nil {
			slog.Default().WarnContext(cctx, "stats cache write failed", "error", err)
		}
	}

	ctx.JSON(http.StatusOK, stats)
}

// PATCH /users/me
// Same patch shape as the admin update, but the id always comes from the
// session and email changes are not allowed here.
func (h *UsersHandler) UpdateMe(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var req user.UpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.Email != nil {
		RespondForbidden(ctx, "Email changes go through the library desk.")
		return
	}

	if req.IsEmpty() {
		RespondBadRequest(ctx, "at least one field must be provided", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	u, err := h.repo.Update(cctx, userID, req)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		case errors.Is(err, postgres.ErrNoFields):
			RespondBadRequest(ctx, "at least one field must be provided", nil)
		default:
			RespondInternal(ctx, "Could not update profile")
		}
		return
	}

	ctx.JSON(http.StatusOK, u)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8"`
}

// PUT /users/me/password
func (h *UsersHandler) ChangePassword(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var req changePasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	u, err := h.repo.GetByID(cctx, userID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not change password")
		return
	}

	// the stored hash is untouched unless the current password checks out
	if err := security.CheckPassword(u.PasswordHash, req.CurrentPassword); err != nil {
		RespondUnAuthorized(ctx, "wrong_password", "Current password is incorrect.")
		return
	}

	newHash, err := security.HashPassword(req.NewPassword)

	if err != nil {
		RespondInternal(ctx, "Could not change password")
		return
	}

	if err := h.repo.UpdatePasswordHash(cctx, userID, newHash); err != nil {
		RespondInternal(ctx, "Could not change password")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// revokeSessions is best-effort: the status row already changed, and login
// plus refresh both re-check status, so a failure here only delays logout.
func (h *UsersHandler) revokeSessions(ctx context.Context, userID string) {
	if h.sessions == nil {
		return
	}

	if err := h.sessions.RevokeAllForUser(ctx, userID); err != nil {
		slog.Default().WarnContext(ctx, "session revocation failed", "user", userID, "error", err)
	}
}

func (h *UsersHandler) invalidateStats(ctx context.Context) {
	if h.cache == nil {
		return
	}

	if err := h.cache.Delete(ctx, utils.UserStatsCacheKey); err != nil {
		slog.Default().WarnContext(ctx, "stats cache invalidation failed", "error", err)
	}
}
