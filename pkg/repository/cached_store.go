package repository

import (
	"context"
	"errors"

	"github.com/example/orderflow/pkg/models"
	"go.uber.org/zap"
)

// OrderCache holds order aggregates by id.
type OrderCache interface {
	Put(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id int64) (*models.Order, error)
	Invalidate(ctx context.Context, id int64) error
}

// CachedOrderStore reads single orders through the cache and drops the cached
// copy on every write. Cache errors are logged and never fail the call.
// Load and UpdateStatus always go to the database.
type CachedOrderStore struct {
	*OrderStore
	cache  OrderCache
	logger *zap.Logger
}

func NewCachedOrderStore(store *OrderStore, cache OrderCache, logger *zap.Logger) *CachedOrderStore {
	return &CachedOrderStore{
		OrderStore: store,
		cache:      cache,
		logger:     logger,
	}
}

func (s *CachedOrderStore) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	order, err := s.cache.Get(ctx, id)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Order cache read failed", zap.Int64("order_id", id), zap.Error(err))
	}

	order, err = s.OrderStore.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, order); err != nil {
		s.logger.Warn("Order cache write failed", zap.Int64("order_id", id), zap.Error(err))
	}
	return order, nil
}

func (s *CachedOrderStore) Save(ctx context.Context, order *models.Order) error {
	isNew := order.ID == 0
	if err := s.OrderStore.Save(ctx, order); err != nil {
		return err
	}
	if !isNew {
		s.invalidate(ctx, order.ID)
	}
	return nil
}

func (s *CachedOrderStore) UpdateStatus(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	err := s.OrderStore.UpdateStatus(ctx, order, from)
	// a conflict means the cached copy may be stale as well
	s.invalidate(ctx, order.ID)
	return err
}

func (s *CachedOrderStore) Delete(ctx context.Context, id int64) error {
	if err := s.OrderStore.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedOrderStore) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("Order cache invalidation failed", zap.Int64("order_id", id), zap.Error(err))
	}
}
