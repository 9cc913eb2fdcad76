package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/orderflow/pkg/config"
	"github.com/example/orderflow/pkg/models"
	"github.com/example/orderflow/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store persists order aggregates.
type Store interface {
	Save(ctx context.Context, order *models.Order) error
	// UpdateStatus must fail with repository.ErrStatusConflict unless the
	// stored status is still from.
	UpdateStatus(ctx context.Context, order *models.Order, from models.OrderStatus) error
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	// Load reads past any cache.
	Load(ctx context.Context, id int64) (*models.Order, error)
	FindAll(ctx context.Context) ([]models.Order, error)
	FindByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	FindByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	ExistsItemWithProductID(ctx context.Context, productID int64) (bool, error)
}

type UserValidator interface {
	IsUserActive(ctx context.Context, userID int64) (bool, error)
}

type StockReserver interface {
	GetProduct(ctx context.Context, productID int64) (*models.ProductSnapshot, error)
	UpdateStock(ctx context.Context, productID int64, quantity int, op models.StockOperation) error
}

// Events receives lifecycle notifications. Implementations must not block
// and cannot fail the operation that emitted them.
type Events interface {
	OrderCreated(order *models.Order)
	StatusChanged(order *models.Order, from models.OrderStatus)
}

type noopEvents struct{}

func (noopEvents) OrderCreated(*models.Order) {}
func (noopEvents) StatusChanged(*models.Order, models.OrderStatus) {}

type ItemRequest struct {
	ProductID int64
	Quantity  int
}

type CreateOrderRequest struct {
	UserID          int64
	ShippingAddress string
	Items           []ItemRequest
}

// Service runs the order lifecycle against the store and the user and
// product services.
type Service struct {
	store    Store
	users    UserValidator
	products StockReserver
	events   Events
	config   config.OrdersConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewService accepts a nil events sink.
func NewService(store Store, users UserValidator, products StockReserver, events Events, cfg config.OrdersConfig, logger *zap.Logger) *Service {
	if events == nil {
		events = noopEvents{}
	}
	return &Service{
		store:    store,
		users:    users,
		products: products,
		events:   events,
		config:   cfg,
		logger:   logger.Named("orders"),
		now:      time.Now,
	}
}

type reservation struct {
	productID int64
	quantity  int
}

// CreateOrder validates the user, reserves stock item by item and persists
// a PENDING order. The first failing item stops the loop; reservations
// already made are only released when compensation is enabled.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	// once stock is reserved the order must still be written even if the
	// caller went away; the client timeout still bounds every remote call
	remote := context.WithoutCancel(ctx)

	log := s.logger.With(zap.Int64("user_id", req.UserID))
	log.Info("Creating order", zap.Int("items", len(req.Items)))

	active, err := s.users.IsUserActive(remote, req.UserID)
	if err != nil {
		return nil, newError(ErrServiceUnavailable, err, "could not validate user %d", req.UserID)
	}
	if !active {
		log.Warn("Order rejected: user inactive or nonexistent")
		return nil, newError(ErrInvalidRequest, nil, "user %d is inactive or does not exist", req.UserID)
	}

	order := &models.Order{
		UserID:          req.UserID,
		OrderDate:       s.now(),
		Status:          models.StatusPending,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		TotalAmount:     decimal.Zero,
	}

	var reserved []reservation
	for _, item := range req.Items {
		line, err := s.reserveItem(remote, item)
		if err != nil {
			log.Warn("Order rejected", zap.Int64("product_id", item.ProductID), zap.Error(err))
			s.release(remote, reserved)
			return nil, err
		}
		reserved = append(reserved, reservation{productID: item.ProductID, quantity: item.Quantity})
		order.AddItem(line)
	}

	if err := s.store.Save(remote, order); err != nil {
		log.Error("Failed to persist order", zap.Error(err))
		s.release(remote, reserved)
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	log.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)))
	s.events.OrderCreated(order)
	return order, nil
}

func validateCreate(req CreateOrderRequest) error {
	if req.UserID <= 0 {
		return newError(ErrInvalidRequest, nil, "userId must be positive")
	}
	if strings.TrimSpace(req.ShippingAddress) == "" {
		return newError(ErrInvalidRequest, nil, "shipping address is required")
	}
	if len(req.Items) == 0 {
		return newError(ErrInvalidRequest, nil, "order must contain at least one item")
	}
	for i, item := range req.Items {
		if item.ProductID <= 0 {
			return newError(ErrInvalidRequest, nil, "items[%d]: productId must be positive", i)
		}
		if item.Quantity <= 0 {
			return newError(ErrInvalidRequest, nil, "items[%d]: quantity must be positive", i)
		}
	}
	return nil
}

// reserveItem checks the product and subtracts the quantity from its stock,
// returning the order line built from the snapshot it read.
func (s *Service) reserveItem(ctx context.Context, item ItemRequest) (models.OrderItem, error) {
	product, err := s.products.GetProduct(ctx, item.ProductID)
	if err != nil {
		return models.OrderItem{}, newError(ErrServiceUnavailable, err, "could not fetch product %d", item.ProductID)
	}
	if product == nil || !product.Active {
		return models.OrderItem{}, newError(ErrNotFound, nil, "product %d not found or inactive", item.ProductID)
	}
	if product.Stock == 0 {
		return models.OrderItem{}, newError(ErrInvalidRequest, nil, "product %s is out of stock", product.Name)
	}
	if product.Stock < item.Quantity {
		return models.OrderItem{}, newError(ErrInvalidRequest, nil,
			"insufficient stock for product %s: requested %d, available %d",
			product.Name, item.Quantity, product.Stock)
	}

	if err := s.products.UpdateStock(ctx, item.ProductID, item.Quantity, models.StockSubtract); err != nil {
		return models.OrderItem{}, newError(ErrServiceUnavailable, err, "could not update stock for product %s", product.Name)
	}

	return models.OrderItem{
		ProductID:   item.ProductID,
		ProductName: product.Name,
		Quantity:    item.Quantity,
		UnitPrice:   product.Price,
	}, nil
}

// release gives reserved stock back, newest first. It only runs when
// compensation is enabled and never changes the outcome of the request.
func (s *Service) release(ctx context.Context, reserved []reservation) {
	if len(reserved) == 0 {
		return
	}
	if !s.config.CompensateReservations {
		for _, r := range reserved {
			s.logger.Warn("Reserved stock not released",
				zap.Int64("product_id", r.productID),
				zap.Int("quantity", r.quantity))
		}
		return
	}

	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := s.products.UpdateStock(ctx, r.productID, r.quantity, models.StockAdd); err != nil {
			s.logger.Error("Failed to release reserved stock",
				zap.Int64("product_id", r.productID),
				zap.Int("quantity", r.quantity),
				zap.Error(err))
			continue
		}
		s.logger.Info("Reserved stock released",
			zap.Int64("product_id", r.productID),
			zap.Int("quantity", r.quantity))
	}
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.find(ctx, id, s.store.FindByID)
}

func (s *Service) find(ctx context.Context, id int64, read func(context.Context, int64) (*models.Order, error)) (*models.Order, error) {
	order, err := read(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, newError(ErrNotFound, nil, "order %d not found", id)
		}
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return order, nil
}

// transition persists order.Status if nobody changed it since it was from.
func (s *Service) transition(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	err := s.store.UpdateStatus(ctx, order, from)
	if errors.Is(err, repository.ErrStatusConflict) {
		return newError(ErrInvalidOrderState, err, "order %d changed while being updated", order.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, err)
	}
	return nil
}

func (s *Service) ListOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders of user %d: %w", userID, err)
	}
	return orders, nil
}

func (s *Service) ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	if !status.Valid() {
		return nil, newError(ErrInvalidRequest, nil, "unknown order status %q", status)
	}
	orders, err := s.store.FindByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s orders: %w", status, err)
	}
	return orders, nil
}

// UpdateStatus moves a modifiable order to status. Setting the current
// status again changes nothing.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, newError(ErrInvalidRequest, nil, "unknown order status %q", status)
	}

	order, err := s.find(ctx, id, s.store.Load)
	if err != nil {
		return nil, err
	}
	if !order.IsModifiable() {
		return nil, newError(ErrInvalidOrderState, nil, "order %d is %s and can no longer be modified", id, order.Status)
	}
	if order.Status == status {
		return order, nil
	}

	from := order.Status
	order.Status = status
	if err := s.transition(ctx, order, from); err != nil {
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.Int64("order_id", id),
		zap.String("from", from.String()),
		zap.String("to", status.String()))
	s.events.StatusChanged(order, from)
	return order, nil
}

// CancelOrder cancels a modifiable order. Cancelling an already cancelled
// order succeeds without doing anything. Reserved stock is not returned.
func (s *Service) CancelOrder(ctx context.Context, id int64) error {
	order, err := s.find(ctx, id, s.store.Load)
	if err != nil {
		return err
	}
	if order.Status == models.StatusCancelled {
		return nil
	}
	if !order.IsModifiable() {
		return newError(ErrInvalidOrderState, nil, "order %d is %s and cannot be cancelled", id, order.Status)
	}

	from := order.Status
	order.Status = models.StatusCancelled
	if err := s.transition(ctx, order, from); err != nil {
		return err
	}

	s.logger.Info("Order cancelled", zap.Int64("order_id", id), zap.String("from", from.String()))
	s.events.StatusChanged(order, from)
	return nil
}

// IsProductUsed reports whether any order, whatever its status, has a line
// for the product.
func (s *Service) IsProductUsed(ctx context.Context, productID int64) (bool, error) {
	used, err := s.store.ExistsItemWithProductID(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("failed to check product %d usage: %w", productID, err)
	}
	return used, nil
}
