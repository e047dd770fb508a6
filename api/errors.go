package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/accord/pkg/errs"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  errs.Kind `json:"kind,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return fiber.StatusBadRequest
	case errs.KindUnauthorized:
		return fiber.StatusForbidden
	case errs.KindNotFound:
		return fiber.StatusNotFound
	case errs.KindStateConflict, errs.KindDuplicate:
		return fiber.StatusConflict
	case errs.KindSignatureVerification:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorResponse{Error: fe.Message})
		}

		status := StatusFor(err)
		if status == fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
			return c.Status(status).JSON(ErrorResponse{Error: "internal error"})
		}
		return c.Status(status).JSON(ErrorResponse{Error: err.Error(), Kind: errs.KindOf(err)})
	}
}

// bind decodes the JSON body into v.
func bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return errs.Wrap(errs.KindValidation, err, "invalid request body")
	}
	return nil
}
