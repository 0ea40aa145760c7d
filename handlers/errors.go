// handlers/errors.go
package handlers

import (
	"errors"

	"match-escrow-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientFunds):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrAuthorizationDenied):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrCommitFailure):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respondError renders err as {"error": msg} with the status of its class.
func respondError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		msg = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
