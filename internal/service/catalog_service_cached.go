package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/redis/go-redis/v9"
)

// cachedCatalogService caches single-product reads. Stock counts in cached
// entries can lag by up to the TTL; reservation always goes to the database,
// so a stale count can never oversell.
type cachedCatalogService struct {
	next        CatalogService
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewCachedCatalogService(next CatalogService, redisClient *redis.Client) CatalogService {
	return &cachedCatalogService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    time.Minute * 10,
	}
}

func (s *cachedCatalogService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	key := fmt.Sprintf("product:%d", id)

	val, err := s.redisClient.Get(ctx, key).Result()
	if err == nil {
		var product domain.Product
		if err := json.Unmarshal([]byte(val), &product); err == nil {
			return &product, nil
		}
	}

	product, err := s.next.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(product); err == nil {
		s.redisClient.Set(ctx, key, data, s.cacheTTL)
	}

	return product, nil
}

func (s *cachedCatalogService) ListProducts(ctx context.Context, limit, offset int64, category string) ([]domain.Product, int64, error) {
	return s.next.ListProducts(ctx, limit, offset, category)
}
