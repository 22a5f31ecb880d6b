package handler

import (
	"strconv"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/mpesa"
	"github.com/JOMO418/furniture-hub-backend/internal/service"
	"github.com/JOMO418/furniture-hub-backend/internal/transport/http/middleware"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	"github.com/JOMO418/furniture-hub-backend/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	payments service.PaymentService
	logger   *zap.Logger
	validate *validator.Validate
}

func NewPaymentHandler(payments service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger,
		validate: validator.New(),
	}
}

type initiatePaymentInput struct {
	Phone  string `json:"phone" validate:"required,min=9,max=15"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

type attemptResponse struct {
	OrderID           int64      `json:"order_id"`
	CheckoutRequestID string     `json:"checkout_request_id"`
	Phone             string     `json:"phone"`
	Amount            int64      `json:"amount"`
	Status            string     `json:"status"`
	ResultDesc        string     `json:"result_desc,omitempty"`
	Receipt           string     `json:"receipt,omitempty"`
	InitiatedAt       time.Time  `json:"initiated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func toAttemptResponse(a *domain.PaymentAttempt) attemptResponse {
	return attemptResponse{
		OrderID:           a.OrderID,
		CheckoutRequestID: a.CheckoutRequestID,
		Phone:             a.Phone,
		Amount:            a.Amount,
		Status:            string(a.Status),
		ResultDesc:        a.ResultDesc,
		Receipt:           a.Receipt,
		InitiatedAt:       a.InitiatedAt,
		CompletedAt:       a.CompletedAt,
	}
}

func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	orderID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	input := new(initiatePaymentInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	if err := h.validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"errors": utils.FormatValidationError(err),
		})
	}

	actor, ok := middleware.ActorFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user"})
	}

	attempt, err := h.payments.InitiatePayment(c.UserContext(), actor, orderID, input.Phone, input.Amount)
	if err != nil {
		h.logger.Warn(
			"initiate payment failed",
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)

		return mapDomainError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toAttemptResponse(attempt))
}

func (h *PaymentHandler) Status(c *fiber.Ctx) error {
	orderID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	actor, ok := middleware.ActorFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user"})
	}

	attempt, err := h.payments.QueryPaymentStatus(c.UserContext(), actor, orderID)
	if err != nil {
		return mapDomainError(c, err)
	}

	return c.JSON(toAttemptResponse(attempt))
}

// Callback receives the gateway webhook. The response is always 200 with the
// acknowledgement body the gateway expects: a non-200 only makes the gateway
// retry a request we have already made idempotent, and an error body would
// leak internals to an external caller.
func (h *PaymentHandler) Callback(c *fiber.Ctx) error {
	ack := fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"}

	var envelope mpesa.CallbackEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"Unparseable payment callback",
			zap.Error(err),
		)

		return c.JSON(ack)
	}

	outcome := envelope.Outcome()
	if outcome.CheckoutRequestID == "" {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"Payment callback without checkout request id",
		)

		return c.JSON(ack)
	}

	if err := h.payments.Reconcile(c.UserContext(), outcome); err != nil {
		mylogger.Error(
			c.UserContext(),
			h.logger,
			"Failed to reconcile payment callback",
			zap.String("checkout_request_id", outcome.CheckoutRequestID),
			zap.Error(err),
		)
	}

	return c.JSON(ack)
}
