package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/coordinator"
	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/messages"
	"github.com/ViniZap4/ytnotes-server/store"
)

// statusTable is consulted before domain.IsValidation, so a validation
// error listed here keeps its own status.
var statusTable = []struct {
	err    error
	status int
}{
	{messages.ErrMalformed, fiber.StatusBadRequest},
	{domain.ErrFolderNotFound, fiber.StatusNotFound},
	{domain.ErrNoteNotFound, fiber.StatusNotFound},
	{domain.ErrFolderExists, fiber.StatusConflict},
	{store.ErrVersionConflict, fiber.StatusConflict},
	{coordinator.ErrCaptureInProgress, fiber.StatusConflict},
	{domain.ErrNoVideoFound, fiber.StatusUnprocessableEntity},
	{host.ErrNoActiveTab, fiber.StatusUnprocessableEntity},
	{host.ErrInjectionFailed, fiber.StatusUnprocessableEntity},
	{coordinator.ErrNotYouTube, fiber.StatusUnprocessableEntity},
	{host.ErrBridgeUnavailable, fiber.StatusServiceUnavailable},
	{context.DeadlineExceeded, fiber.StatusGatewayTimeout},
}

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	for _, row := range statusTable {
		if errors.Is(err, row.err) {
			return row.status
		}
	}
	if domain.IsValidation(err) {
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func errorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusFor(err)
		if status >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
}
