package handler

import (
	"strconv"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/service"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ProductHandler struct {
	catalog service.CatalogService
	logger  *zap.Logger
}

func NewProductHandler(catalog service.CatalogService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		logger:  logger,
	}
}

type productResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          int64  `json:"price"`
	SalePrice      *int64 `json:"sale_price,omitempty"`
	EffectivePrice int64  `json:"effective_price"`
	Stock          int64  `json:"stock"`
	ImageURL       string `json:"image_url"`
	Category       string `json:"category"`
}

func toProductResponse(p *domain.Product) productResponse {
	return productResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Price:          p.Price,
		SalePrice:      p.SalePrice,
		EffectivePrice: p.EffectivePrice(),
		Stock:          p.Stock,
		ImageURL:       p.ImageURL,
		Category:       p.Category,
	}
}

func (h *ProductHandler) FindByID(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid product id"})
	}

	product, err := h.catalog.GetProduct(c.UserContext(), id)
	if err != nil {
		h.logger.Warn(
			"get product failed",
			zap.Int64("product_id", id),
			zap.Error(err),
		)

		return mapDomainError(c, err)
	}

	return c.JSON(toProductResponse(product))
}

func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 20))
	offset := int64(c.QueryInt("offset", 0))
	category := c.Query("category")

	products, total, err := h.catalog.ListProducts(c.UserContext(), limit, offset, category)
	if err != nil {
		h.logger.Warn(
			"list products failed",
			zap.Error(err),
		)

		return mapDomainError(c, err)
	}

	items := make([]productResponse, 0, len(products))
	for i := range products {
		items = append(items, toProductResponse(&products[i]))
	}

	return c.JSON(fiber.Map{
		"products": items,
		"total":    total,
	})
}
