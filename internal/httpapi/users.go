package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/httputil"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

type userResponse struct {
	UserID     uuid.UUID `json:"user_id"`
	Username   string    `json:"username"`
	IsDeleted  bool      `json:"is_deleted"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

func newUserResponse(u cache.User) userResponse {
	return userResponse{
		UserID: u.UserID, Username: u.Username, IsDeleted: u.IsDeleted,
		CreatedAt: u.CreatedAt, ModifiedAt: u.ModifiedAt,
	}
}

type createUserRequest struct {
	Username string `json:"username"`
}

// CreateUser handles the user-create mutation endpoint. Like CreateConnection, the id is server-generated so the
// cache add can only ever return Ok.
func (h *Handler) CreateUser(c fiber.Ctx) error {
	var req createUserRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid json: "+err.Error())
	}
	if req.Username == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "username is required")
	}

	now := time.Now()
	u := cache.User{UserID: uuid.New(), Username: req.Username, CreatedAt: now, ModifiedAt: now}

	if ok, respErr := h.enqueue(c, syncpipeline.NewInsertUser(u)); !ok {
		return respErr
	}

	status := h.cache.AddUser(u, false)
	if !status.IsOk() {
		h.log.Error().Str("status", status.String()).Str("user_id", u.UserID.String()).
			Msg("freshly generated user id was not accepted as new")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return httputil.Respond(c, fiber.StatusOK, "created", newUserResponse(u))
}

// DeleteUser handles the user-delete mutation endpoint: a soft-delete that flips User.IsDeleted (§3's "Soft-delete
// only").
func (h *Handler) DeleteUser(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "id must be a uuid")
	}

	u, ok := h.cache.GetUser(id)
	if !ok {
		return httputil.Fail(c, fiber.StatusNotFound, "user not found")
	}
	if u.IsDeleted {
		return httputil.Respond(c, fiber.StatusOK, "already deleted", newUserResponse(u))
	}

	if enqOK, respErr := h.enqueue(c, syncpipeline.NewDeleteUser(id)); !enqOK {
		return respErr
	}

	u.IsDeleted = true
	u.ModifiedAt = time.Now()
	status := h.cache.AddUser(u, false)
	if !status.IsUpdated() {
		h.log.Error().Str("status", status.String()).Str("user_id", id.String()).Msg("delete raced with a concurrent mutation")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return httputil.Respond(c, fiber.StatusOK, "deleted", newUserResponse(u))
}
