package service

import (
	"context"

	"storefront-core/internal/redisclient"
	"storefront-core/internal/store"
	"storefront-core/internal/util"

	"go.uber.org/zap"
)

// StockService answers availability reads for product pages, redis-cached
// with a short TTL. Writes never go through here; the database row is
// authoritative and the cache is refreshed on miss.
type StockService struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewStockService creates a new stock service
func NewStockService(store *store.Store, redis *redisclient.Client) *StockService {
	return &StockService{store: store, redis: redis, logger: util.GetLogger()}
}

// AvailableQuantity returns the variant's available quantity, serving from
// cache when fresh.
func (ss *StockService) AvailableQuantity(ctx context.Context, variantID int64) (int, error) {
	if available, ok, err := ss.redis.GetCachedStock(ctx, variantID); err != nil {
		ss.logger.Warn("Stock cache read failed", zap.Error(err))
	} else if ok {
		return available, nil
	}

	variant, err := ss.store.GetVariantByID(ctx, variantID)
	if err != nil {
		return 0, err
	}

	if err := ss.redis.CacheAvailableStock(ctx, variantID, variant.AvailableQuantity); err != nil {
		ss.logger.Warn("Stock cache write failed", zap.Error(err))
	}
	return variant.AvailableQuantity, nil
}
