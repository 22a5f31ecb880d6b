package http

import (
	"github.com/JOMO418/furniture-hub-backend/internal/transport/http/handler"
	"github.com/JOMO418/furniture-hub-backend/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Product *handler.ProductHandler
	Order   *handler.OrderHandler
	Payment *handler.PaymentHandler
}

func RegisterRoutes(app *fiber.App, h *Handlers, accessSecret string) {
	// Catalog browsing and the gateway webhook are public.
	app.Get("/products", h.Product.ListProducts)
	app.Get("/products/:id", h.Product.FindByID)
	app.Post("/mpesa/callback", h.Payment.Callback)

	api := app.Group("/api", middleware.NewAuthMiddleware(accessSecret))

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("", h.Order.List)
	order.Get("/:id", h.Order.FindByID)
	order.Post("/:id/cancel", h.Order.Cancel)
	order.Patch("/:id/status", middleware.NewAdminMiddleware(), h.Order.UpdateStatus)

	order.Post("/:id/payments", h.Payment.Initiate)
	order.Get("/:id/payments/status", h.Payment.Status)
}
