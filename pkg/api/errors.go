package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders errors that escape a handler as {"error": "..."}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}
