package server

import "github.com/gofiber/fiber/v3"

const (
	messageOK       = "ok"
	messageNotFound = "not found"
	messageInvalid  = "bad request"
	messageInternal = "internal server error"
)

// Envelope wraps every response body.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func success(c fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(Envelope{Status: fiber.StatusOK, Message: messageOK, Data: data})
}

func failure(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Envelope{Status: status, Message: message, Data: nil})
}
