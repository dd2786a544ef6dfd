package httputil

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/ponyfleet/ponyd/internal/ponyerr"
)

// ResponseMessage is the envelope connection/node mutation endpoints return (§6).
type ResponseMessage[T any] struct {
	Status   int    `json:"status"`
	Message  string `json:"message"`
	Response T      `json:"response"`
}

// Ok writes a 200 ResponseMessage carrying response.
func Ok[T any](c fiber.Ctx, message string, response T) error {
	return Respond(c, http.StatusOK, message, response)
}

// Respond writes a ResponseMessage at the given status.
func Respond[T any](c fiber.Ctx, status int, message string, response T) error {
	return c.Status(status).JSON(ResponseMessage[T]{Status: status, Message: message, Response: response})
}

// Fail writes a ResponseMessage with a nil response at the given status.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ResponseMessage[any]{Status: status, Message: message})
}

// Health is the GET /healthcheck handler: always 200 with {status, message}.
func Health(c fiber.Ctx) error {
	return Fail(c, http.StatusOK, "ok")
}

// ErrorHandler maps ponyerr.Kind and the boundary sentinels to HTTP status codes (§7): Conflict→409,
// NotFound→404, BadRequest→400, anything else→500.
func ErrorHandler(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return Fail(c, fe.Code, fe.Message)
	}

	switch {
	case errors.Is(err, ponyerr.ErrNotFound):
		return Fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ponyerr.ErrBadRequest):
		return Fail(c, http.StatusBadRequest, err.Error())
	}

	if kind, ok := ponyerr.KindOf(err); ok && kind == ponyerr.Conflict {
		return Fail(c, http.StatusConflict, err.Error())
	}

	return Fail(c, http.StatusInternalServerError, "internal error")
}
