package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/example/orderflow/pkg/config"
	"github.com/example/orderflow/pkg/models"
	"github.com/example/orderflow/pkg/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) IsUserActive(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type mockProducts struct{ mock.Mock }

func (m *mockProducts) GetProduct(ctx context.Context, productID int64) (*models.ProductSnapshot, error) {
	args := m.Called(ctx, productID)
	product, _ := args.Get(0).(*models.ProductSnapshot)
	return product, args.Error(1)
}

func (m *mockProducts) UpdateStock(ctx context.Context, productID int64, quantity int, op models.StockOperation) error {
	return m.Called(ctx, productID, quantity, op).Error(0)
}

// memStore keeps copies so callers cannot mutate stored orders in place.
type memStore struct {
	mu      sync.Mutex
	orders  map[int64]models.Order
	nextID  int64
	saves   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{orders: map[int64]models.Order{}}
}

func (s *memStore) Save(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if order.ID == 0 {
		if len(order.Items) == 0 {
			return models.ErrEmptyOrder
		}
		s.nextID++
		order.ID = s.nextID
	}
	s.saves++
	stored := *order
	stored.Items = append([]models.OrderItem(nil), order.Items...)
	s.orders[order.ID] = stored
	return nil
}

func (s *memStore) FindByID(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return &o, nil
}

func (s *memStore) Load(ctx context.Context, id int64) (*models.Order, error) {
	return s.FindByID(ctx, id)
}

func (s *memStore) UpdateStatus(_ context.Context, order *models.Order, from models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, ok := s.orders[order.ID]
	if !ok || stored.Status != from {
		return repository.ErrStatusConflict
	}
	s.saves++
	stored.Status = order.Status
	s.orders[order.ID] = stored
	return nil
}

func (s *memStore) filter(keep func(models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for id := int64(1); id <= s.nextID; id++ {
		if o, ok := s.orders[id]; ok && keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (s *memStore) FindAll(context.Context) ([]models.Order, error) {
	return s.filter(func(models.Order) bool { return true }), nil
}

func (s *memStore) FindByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool { return o.UserID == userID }), nil
}

func (s *memStore) FindByStatus(_ context.Context, status models.OrderStatus) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool { return o.Status == status }), nil
}

func (s *memStore) ExistsItemWithProductID(_ context.Context, productID int64) (bool, error) {
	found := s.filter(func(o models.Order) bool {
		for _, item := range o.Items {
			if item.ProductID == productID {
				return true
			}
		}
		return false
	})
	return len(found) > 0, nil
}

func (s *memStore) put(status models.OrderStatus) *models.Order {
	o := &models.Order{UserID: 1, Status: status, ShippingAddress: "addr"}
	o.AddItem(models.OrderItem{ProductID: 10, ProductName: "p", Quantity: 1, UnitPrice: decimal.NewFromInt(5)})
	if err := s.Save(context.Background(), o); err != nil {
		panic(err)
	}
	s.saves = 0
	return o
}

type recordedEvents struct {
	created []int64
	changes []string
}

func (e *recordedEvents) OrderCreated(order *models.Order) {
	e.created = append(e.created, order.ID)
}

func (e *recordedEvents) StatusChanged(order *models.Order, from models.OrderStatus) {
	e.changes = append(e.changes, fmt.Sprintf("%d:%s->%s", order.ID, from, order.Status))
}

type fixture struct {
	svc      *Service
	store    *memStore
	users    *mockUsers
	products *mockProducts
	events   *recordedEvents
}

func newFixture(t *testing.T, cfg config.OrdersConfig) *fixture {
	f := &fixture{
		store:    newMemStore(),
		users:    &mockUsers{},
		products: &mockProducts{},
		events:   &recordedEvents{},
	}
	f.svc = NewService(f.store, f.users, f.products, f.events, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() {
		f.users.AssertExpectations(t)
		f.products.AssertExpectations(t)
	})
	return f
}

func product(id int64, price string, stock int) *models.ProductSnapshot {
	return &models.ProductSnapshot{
		ID:     id,
		Name:   fmt.Sprintf("product-%d", id),
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}
}

func createReq(items ...ItemRequest) CreateOrderRequest {
	return CreateOrderRequest{UserID: 1, ShippingAddress: "12 Main St", Items: items}
}

func TestCreateOrder_SingleItem(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(10)).Return(product(10, "50.00", 10), nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(10), 2, models.StockSubtract).Return(nil).Once()

	order, err := f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 10, Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("100.00")), order.TotalAmount.String())
	require.Len(t, order.Items, 1)
	assert.Equal(t, "product-10", order.Items[0].ProductName)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("50.00")))
	assert.True(t, order.Items[0].Subtotal.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, []int64{order.ID}, f.events.created)

	stored, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(order.TotalAmount))
}

// The total is the exact decimal sum of unit price times quantity over any
// mix of lines.
func TestCreateOrder_TotalIsSumOfSubtotals(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		f := newFixture(t, config.OrdersConfig{})
		f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil)

		n := 1 + rng.Intn(5)
		var items []ItemRequest
		want := decimal.Zero
		for i := 0; i < n; i++ {
			id := int64(100 + i)
			price := decimal.New(int64(1+rng.Intn(100000)), -2)
			qty := 1 + rng.Intn(10)
			want = want.Add(price.Mul(decimal.NewFromInt(int64(qty))))

			f.products.On("GetProduct", mock.Anything, id).
				Return(&models.ProductSnapshot{ID: id, Name: "p", Price: price, Stock: 10, Active: true}, nil)
			f.products.On("UpdateStock", mock.Anything, id, qty, models.StockSubtract).Return(nil)
			items = append(items, ItemRequest{ProductID: id, Quantity: qty})
		}

		order, err := f.svc.CreateOrder(context.Background(), createReq(items...))
		require.NoError(t, err)
		assert.True(t, order.TotalAmount.Equal(want), "run %d: got %s want %s", run, order.TotalAmount, want)

		sum := decimal.Zero
		for _, item := range order.Items {
			assert.True(t, item.Subtotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))))
			sum = sum.Add(item.Subtotal)
		}
		assert.True(t, sum.Equal(order.TotalAmount))
	}
}

func TestCreateOrder_InactiveUserMakesNoStockCalls(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(false, nil).Once()

	_, err := f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 10, Quantity: 1}))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	f.products.AssertNotCalled(t, "GetProduct", mock.Anything, mock.Anything)
	f.products.AssertNotCalled(t, "UpdateStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.store.saves)
}

func TestCreateOrder_UserServiceDown(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(false, errors.New("connection refused")).Once()

	_, err := f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 10, Quantity: 1}))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Zero(t, f.store.saves)
}

func TestCreateOrder_InvalidRequests(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})

	cases := map[string]CreateOrderRequest{
		"no items":      {UserID: 1, ShippingAddress: "addr"},
		"blank address": {UserID: 1, ShippingAddress: "  ", Items: []ItemRequest{{ProductID: 1, Quantity: 1}}},
		"zero quantity": {UserID: 1, ShippingAddress: "addr", Items: []ItemRequest{{ProductID: 1, Quantity: 0}}},
		"bad product":   {UserID: 1, ShippingAddress: "addr", Items: []ItemRequest{{ProductID: 0, Quantity: 1}}},
		"bad user":      {UserID: 0, ShippingAddress: "addr", Items: []ItemRequest{{ProductID: 1, Quantity: 1}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	f.users.AssertNotCalled(t, "IsUserActive", mock.Anything, mock.Anything)
}

func TestCreateOrder_ZeroStockStopsAtFailingItem(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(10)).Return(product(10, "1.00", 5), nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(10), 1, models.StockSubtract).Return(nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(11)).Return(product(11, "1.00", 0), nil).Once()

	_, err := f.svc.CreateOrder(context.Background(), createReq(
		ItemRequest{ProductID: 10, Quantity: 1},
		ItemRequest{ProductID: 11, Quantity: 1},
		ItemRequest{ProductID: 12, Quantity: 1},
	))
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, Message(err), "out of stock")

	f.products.AssertNotCalled(t, "UpdateStock", mock.Anything, int64(11), mock.Anything, mock.Anything)
	f.products.AssertNotCalled(t, "GetProduct", mock.Anything, int64(12))
	// compensation is off: the first reservation stays taken
	f.products.AssertNotCalled(t, "UpdateStock", mock.Anything, int64(10), 1, models.StockAdd)
	assert.Zero(t, f.store.saves)
	assert.Empty(t, f.events.created)
}

func TestCreateOrder_InsufficientStockNamesBothQuantities(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(10)).Return(product(10, "3.00", 5), nil).Once()

	_, err := f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 10, Quantity: 10}))
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "insufficient stock")
	assert.Contains(t, err.Error(), "5")
	assert.Contains(t, err.Error(), "10")
	f.products.AssertNotCalled(t, "UpdateStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrder_ProductMissingOrInactive(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil).Twice()
	f.products.On("GetProduct", mock.Anything, int64(10)).Return(nil, nil).Once()
	inactive := product(11, "1.00", 3)
	inactive.Active = false
	f.products.On("GetProduct", mock.Anything, int64(11)).Return(inactive, nil).Once()

	_, err := f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 10, Quantity: 1}))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 11, Quantity: 1}))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOrder_ReservationFailure(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(10)).Return(product(10, "2.00", 5), nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(10), 1, models.StockSubtract).Return(errors.New("timeout")).Once()

	_, err := f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 10, Quantity: 1}))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Contains(t, Message(err), "could not update stock")

	all, _ := f.store.FindAll(context.Background())
	assert.Empty(t, all)
	assert.Empty(t, f.events.created)
}

func TestCreateOrder_CompensatesInReverseOrder(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{CompensateReservations: true})
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(10)).Return(product(10, "1.00", 5), nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(11)).Return(product(11, "1.00", 5), nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(12)).Return(product(12, "1.00", 5), nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(10), 1, models.StockSubtract).Return(nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(11), 2, models.StockSubtract).Return(nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(12), 3, models.StockSubtract).Return(errors.New("503")).Once()

	var released []int64
	f.products.On("UpdateStock", mock.Anything, mock.Anything, mock.Anything, models.StockAdd).
		Run(func(args mock.Arguments) { released = append(released, args.Get(1).(int64)) }).
		Return(nil).Twice()

	_, err := f.svc.CreateOrder(context.Background(), createReq(
		ItemRequest{ProductID: 10, Quantity: 1},
		ItemRequest{ProductID: 11, Quantity: 2},
		ItemRequest{ProductID: 12, Quantity: 3},
	))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, []int64{11, 10}, released)
}

func TestCreateOrder_StoreFailureIsNotAKind(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{CompensateReservations: true})
	f.store.saveErr = errors.New("disk full")
	f.users.On("IsUserActive", mock.Anything, int64(1)).Return(true, nil).Once()
	f.products.On("GetProduct", mock.Anything, int64(10)).Return(product(10, "1.00", 5), nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(10), 1, models.StockSubtract).Return(nil).Once()
	f.products.On("UpdateStock", mock.Anything, int64(10), 1, models.StockAdd).Return(nil).Once()

	_, err := f.svc.CreateOrder(context.Background(), createReq(ItemRequest{ProductID: 10, Quantity: 1}))
	require.Error(t, err)
	for _, kind := range []error{ErrNotFound, ErrInvalidRequest, ErrInvalidOrderState, ErrServiceUnavailable} {
		assert.NotErrorIs(t, err, kind)
	}
}

func TestCreateOrder_RemoteCallsOutliveCallerCancellation(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })

	f.users.On("IsUserActive", live, int64(1)).Return(true, nil).Once()
	f.products.On("GetProduct", live, int64(10)).Return(product(10, "1.00", 5), nil).Once()
	f.products.On("UpdateStock", live, int64(10), 1, models.StockSubtract).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil).Once()

	order, err := f.svc.CreateOrder(ctx, createReq(ItemRequest{ProductID: 10, Quantity: 1}))
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	order := f.store.put(models.StatusPending)

	got, err := f.svc.UpdateStatus(context.Background(), order.ID, models.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, got.Status)
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, []string{fmt.Sprintf("%d:PENDING->SHIPPED", order.ID)}, f.events.changes)

	// same status again is a no-op
	got, err = f.svc.UpdateStatus(context.Background(), order.ID, models.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, got.Status)
	assert.Equal(t, 1, f.store.saves)
	assert.Len(t, f.events.changes, 1)

	_, err = f.svc.UpdateStatus(context.Background(), 999, models.StatusShipped)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), order.ID, models.OrderStatus("LOST"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestTerminalOrdersNeverChange(t *testing.T) {
	for _, terminal := range []models.OrderStatus{models.StatusDelivered, models.StatusCancelled} {
		t.Run(terminal.String(), func(t *testing.T) {
			f := newFixture(t, config.OrdersConfig{})
			order := f.store.put(terminal)

			for _, target := range models.OrderStatuses {
				_, err := f.svc.UpdateStatus(context.Background(), order.ID, target)
				assert.ErrorIs(t, err, ErrInvalidOrderState, "%s -> %s", terminal, target)
			}

			err := f.svc.CancelOrder(context.Background(), order.ID)
			if terminal == models.StatusCancelled {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOrderState)
			}

			stored, err := f.svc.GetOrder(context.Background(), order.ID)
			require.NoError(t, err)
			assert.Equal(t, terminal, stored.Status)
			assert.Zero(t, f.store.saves)
			assert.Empty(t, f.events.changes)
		})
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	order := f.store.put(models.StatusConfirmed)

	require.NoError(t, f.svc.CancelOrder(context.Background(), order.ID))
	require.NoError(t, f.svc.CancelOrder(context.Background(), order.ID))

	stored, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Equal(t, 1, f.store.saves)
	assert.Equal(t, []string{fmt.Sprintf("%d:CONFIRMED->CANCELLED", order.ID)}, f.events.changes)

	assert.ErrorIs(t, f.svc.CancelOrder(context.Background(), 999), ErrNotFound)
}

func TestUpdateStatus_ConcurrentChangeIsRejected(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	order := f.store.put(models.StatusPending)

	// another writer cancels between our read and our write
	cancelled := *order
	cancelled.Status = models.StatusCancelled
	f.store.orders[order.ID] = cancelled

	order.Status = models.StatusShipped
	err := f.svc.transition(context.Background(), order, models.StatusPending)
	assert.ErrorIs(t, err, ErrInvalidOrderState)
	assert.Zero(t, f.store.saves)
	assert.Empty(t, f.events.changes)
}

func TestListsAndProductUsage(t *testing.T) {
	f := newFixture(t, config.OrdersConfig{})
	f.store.put(models.StatusPending)
	f.store.put(models.StatusCancelled)
	ctx := context.Background()

	all, err := f.svc.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byUser, err := f.svc.ListByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	cancelled, err := f.svc.ListByStatus(ctx, models.StatusCancelled)
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)

	_, err = f.svc.ListByStatus(ctx, models.OrderStatus("nope"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	used, err := f.svc.IsProductUsed(ctx, 10)
	require.NoError(t, err)
	assert.True(t, used)

	used, err = f.svc.IsProductUsed(ctx, 77)
	require.NoError(t, err)
	assert.False(t, used)
}
