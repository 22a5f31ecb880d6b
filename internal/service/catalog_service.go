package service

import (
	"context"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CatalogService interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, limit, offset int64, category string) ([]domain.Product, int64, error)
}

type catalogService struct {
	logger      *zap.Logger
	productRepo repository.ProductRepository
	tracer      trace.Tracer
}

func NewCatalogService(logger *zap.Logger, productRepo repository.ProductRepository) CatalogService {
	return &catalogService{
		logger:      logger,
		productRepo: productRepo,
		tracer:      otel.Tracer("catalog_service"),
	}
}

func (s *catalogService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.GetProduct")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", id),
	)

	return s.productRepo.GetByID(ctx, id)
}

func (s *catalogService) ListProducts(ctx context.Context, limit, offset int64, category string) ([]domain.Product, int64, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.ListProducts")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.productRepo.List(ctx, limit, offset, category)
}
