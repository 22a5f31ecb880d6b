package handler

import (
	"strconv"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/service"
	"github.com/JOMO418/furniture-hub-backend/internal/transport/http/middleware"
	"github.com/JOMO418/furniture-hub-backend/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orders   service.OrderService
	logger   *zap.Logger
	validate *validator.Validate
}

func NewOrderHandler(orders service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		logger:   logger,
		validate: validator.New(),
	}
}

type createOrderItemInput struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int32 `json:"quantity" validate:"required,gt=0"`
}

type createOrderInput struct {
	CustomerName    string                 `json:"customer_name" validate:"required,min=2,max=100"`
	CustomerEmail   string                 `json:"customer_email" validate:"required,email"`
	CustomerPhone   string                 `json:"customer_phone" validate:"required"`
	DeliveryAddress string                 `json:"delivery_address" validate:"required,max=500"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,oneof=mpesa card cash_on_delivery"`
	Notes           string                 `json:"notes" validate:"max=1000"`
	Items           []createOrderItemInput `json:"items" validate:"required,min=1,dive"`
}

type orderItemResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int32  `json:"quantity"`
	ImageURL  string `json:"image_url"`
}

type statusEventResponse struct {
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

type orderResponse struct {
	ID              int64                 `json:"id"`
	OrderNumber     string                `json:"order_number"`
	CustomerName    string                `json:"customer_name,omitempty"`
	DeliveryAddress string                `json:"delivery_address,omitempty"`
	Subtotal        int64                 `json:"subtotal"`
	DeliveryFee     int64                 `json:"delivery_fee"`
	Total           int64                 `json:"total"`
	PaymentMethod   string                `json:"payment_method"`
	PaymentStatus   string                `json:"payment_status"`
	OrderStatus     string                `json:"order_status"`
	MpesaReceipt    string                `json:"mpesa_receipt,omitempty"`
	Items           []orderItemResponse   `json:"items,omitempty"`
	StatusHistory   []statusEventResponse `json:"status_history,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	res := orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerName:    o.CustomerName,
		DeliveryAddress: o.DeliveryAddress,
		Subtotal:        o.Subtotal,
		DeliveryFee:     o.DeliveryFee,
		Total:           o.Total,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		OrderStatus:     string(o.OrderStatus),
		MpesaReceipt:    o.Payment.MpesaReceiptNumber,
		CreatedAt:       o.CreatedAt,
	}

	for _, item := range o.Items {
		res.Items = append(res.Items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			ImageURL:  item.ImageURL,
		})
	}

	for _, e := range o.StatusHistory {
		res.StatusHistory = append(res.StatusHistory, statusEventResponse{
			Status:    string(e.Status),
			Note:      e.Note,
			Actor:     e.Actor,
			CreatedAt: e.CreatedAt,
		})
	}

	return res
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	input := new(createOrderInput)

	if err := c.BodyParser(input); err != nil {
		h.logger.Warn(
			"failed to parse body in create order",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
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

	items := make([]service.CreateOrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, service.CreateOrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(c.UserContext(), &service.CreateOrderInput{
		UserID:          actor.UserID,
		CustomerName:    input.CustomerName,
		CustomerEmail:   input.CustomerEmail,
		CustomerPhone:   input.CustomerPhone,
		DeliveryAddress: input.DeliveryAddress,
		PaymentMethod:   domain.PaymentMethod(input.PaymentMethod),
		Notes:           input.Notes,
		Items:           items,
	})
	if err != nil {
		h.logger.Warn(
			"create order failed",
			zap.Int64("user_id", actor.UserID),
			zap.Error(err),
		)

		return mapDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(toOrderResponse(order))
}

func (h *OrderHandler) FindByID(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	actor, ok := middleware.ActorFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user"})
	}

	order, err := h.orders.GetOrder(c.UserContext(), actor, id)
	if err != nil {
		return mapDomainError(c, err)
	}

	return c.JSON(toOrderResponse(order))
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user"})
	}

	limit := int64(c.QueryInt("limit", 20))
	offset := int64(c.QueryInt("offset", 0))

	orders, err := h.orders.ListOrders(c.UserContext(), actor, limit, offset)
	if err != nil {
		h.logger.Warn(
			"list orders failed",
			zap.Int64("user_id", actor.UserID),
			zap.Error(err),
		)

		return mapDomainError(c, err)
	}

	items := make([]orderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, toOrderResponse(&orders[i]))
	}

	return c.JSON(fiber.Map{"orders": items})
}

type updateStatusInput struct {
	Status string `json:"status" validate:"required,oneof=confirmed processing shipped delivered"`
	Note   string `json:"note" validate:"max=500"`
}

func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	input := new(updateStatusInput)
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

	err = h.orders.UpdateStatus(c.UserContext(), actor, id, domain.OrderStatus(input.Status), input.Note)
	if err != nil {
		h.logger.Warn(
			"update order status failed",
			zap.Int64("order_id", id),
			zap.String("status", input.Status),
			zap.Error(err),
		)

		return mapDomainError(c, err)
	}

	return c.JSON(fiber.Map{"status": "success"})
}

type cancelOrderInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid order id"})
	}

	input := new(cancelOrderInput)
	if err := c.BodyParser(input); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "error parsing body"})
	}

	actor, ok := middleware.ActorFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user"})
	}

	reason := input.Reason
	if reason == "" {
		reason = "cancelled by customer"
	}

	if err := h.orders.CancelOrder(c.UserContext(), actor, id, reason); err != nil {
		h.logger.Warn(
			"cancel order failed",
			zap.Int64("order_id", id),
			zap.Error(err),
		)

		return mapDomainError(c, err)
	}

	return c.JSON(fiber.Map{"status": "success"})
}
