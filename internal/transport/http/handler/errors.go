package handler

import (
	"errors"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/mpesa"
	"github.com/gofiber/fiber/v2"
)

// mapDomainError translates service errors into HTTP responses. Anything not
// recognized here is a 500 with a generic message so internals never leak.
func mapDomainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrAttemptNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrInvalidPhoneNumber),
		errors.Is(err, domain.ErrAmountMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrPaymentInProgress),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrOrderNotCancellable),
		errors.Is(err, domain.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, mpesa.ErrGatewayUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payment gateway temporarily unavailable"})

	case errors.Is(err, mpesa.ErrGatewayAuth):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment gateway rejected our credentials"})
	}

	// A gateway business rejection is the caller's problem (bad phone, limits),
	// unlike the transport failures above.
	var initErr *mpesa.InitiationError
	if errors.As(err, &initErr) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": initErr.Error()})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
