package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/orderflow/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// OrderStore persists order aggregates. Reads are point-in-time snapshots;
// no row locking is taken.
type OrderStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewOrderStore(db *gorm.DB, logger *zap.Logger) *OrderStore {
	return &OrderStore{
		db:     db,
		logger: logger,
	}
}

func (s *OrderStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.Order{}, &models.OrderItem{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Save inserts a new order together with its items, assigning the id and
// creation time. An order that already has an id is updated in place; its
// items are never rewritten.
func (s *OrderStore) Save(ctx context.Context, order *models.Order) error {
	db := s.db.WithContext(ctx)

	if order.ID == 0 {
		if err := db.Create(order).Error; err != nil {
			s.logger.Error("Failed to create order", zap.Int64("user_id", order.UserID), zap.Error(err))
			return fmt.Errorf("failed to create order: %w", err)
		}
		return nil
	}

	if err := db.Omit(clause.Associations).Save(order).Error; err != nil {
		s.logger.Error("Failed to update order", zap.Int64("order_id", order.ID), zap.Error(err))
		return fmt.Errorf("failed to update order %d: %w", order.ID, err)
	}
	return nil
}

// UpdateStatus writes order.Status only while the stored status is still
// from. Any other stored status leaves the row alone and returns
// ErrStatusConflict.
func (s *OrderStore) UpdateStatus(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, from).
		UpdateColumns(map[string]interface{}{
			"status":     order.Status,
			"updated_at": now,
		})
	if res.Error != nil {
		s.logger.Error("Failed to update order status", zap.Int64("order_id", order.ID), zap.Error(res.Error))
		return fmt.Errorf("failed to update order %d status: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %d is no longer %s: %w", order.ID, from, ErrStatusConflict)
	}
	order.UpdatedAt = now
	return nil
}

func (s *OrderStore) withItems(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("order_items.id")
	})
}

func (s *OrderStore) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := s.withItems(ctx).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &order, nil
}

// Load reads the order from the database. Callers about to change an order
// use it instead of FindByID so a cached copy never drives a write.
func (s *OrderStore) Load(ctx context.Context, id int64) (*models.Order, error) {
	return s.FindByID(ctx, id)
}

func (s *OrderStore) FindAll(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := s.withItems(ctx).Order("id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderStore) FindByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	if err := s.withItems(ctx).Where("user_id = ?", userID).Order("id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders for user %d: %w", userID, err)
	}
	return orders, nil
}

func (s *OrderStore) FindByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	if err := s.withItems(ctx).Where("status = ?", status).Order("id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders with status %s: %w", status, err)
	}
	return orders, nil
}

func (s *OrderStore) CountByStatus(ctx context.Context, status models.OrderStatus) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count orders with status %s: %w", status, err)
	}
	return count, nil
}

// SumTotalAmountCreatedToday adds up the totals of orders created since local
// midnight.
func (s *OrderStore) SumTotalAmountCreatedToday(ctx context.Context) (decimal.Decimal, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var total decimal.Decimal
	row := s.db.WithContext(ctx).Model(&models.Order{}).
		Select("COALESCE(SUM(total_amount), 0)").
		Where("created_at >= ?", midnight).
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum today's order totals: %w", err)
	}
	return total, nil
}

// ExistsItemWithProductID reports whether any order, whatever its status,
// contains the product.
func (s *OrderStore) ExistsItemWithProductID(ctx context.Context, productID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.OrderItem{}).
		Where("product_id = ?", productID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up product %d in orders: %w", productID, err)
	}
	return count > 0, nil
}

// Delete removes the order and every item it owns.
func (s *OrderStore) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Select("Items").Delete(&models.Order{ID: id})
	if res.Error != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
