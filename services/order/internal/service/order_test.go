package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/pkg/pagination"
	"github.com/shopline/commerce/services/order/internal/domain"
	"github.com/shopline/commerce/services/order/internal/event"
	"github.com/shopline/commerce/services/order/internal/repository"
)

// --- Mock Repositories ---

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) CreateWithItems(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}

func (m *mockOrderRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockPlacementRepository struct {
	mock.Mock
}

func (m *mockPlacementRepository) Create(ctx context.Context, p *domain.Placement) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPlacementRepository) Update(ctx context.Context, p *domain.Placement) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPlacementRepository) GetByID(ctx context.Context, id string) (*domain.Placement, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Placement), args.Error(1)
}

func (m *mockPlacementRepository) CreateStep(ctx context.Context, s *domain.PlacementStep) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockPlacementRepository) UpdateStep(ctx context.Context, s *domain.PlacementStep) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockPlacementRepository) ListStepsByStatus(ctx context.Context, status string, limit int) ([]domain.PlacementStep, error) {
	args := m.Called(ctx, status, limit)
	return args.Get(0).([]domain.PlacementStep), args.Error(1)
}

// --- Test Helpers ---

func newTestOrderService(repo *mockOrderRepository, placements *mockPlacementRepository) (*OrderService, *recordingPublisher) {
	producer, pub := newTestProducer()
	return NewOrderService(repo, placements, producer, newTestLogger()), pub
}

func sampleOrder(status string) *domain.Order {
	return &domain.Order{
		ID:          42,
		UserID:      "user-1",
		Status:      status,
		TotalAmount: 2500,
		Items: []domain.OrderItem{
			{ID: 1, OrderID: 42, ProductID: "p1", Name: "Widget", Price: 1250, Quantity: 2},
		},
	}
}

// --- GetOrder ---

func TestGetOrder_Success(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	repo.On("GetByID", mock.Anything, int64(42)).Return(sampleOrder(domain.OrderStatusPending), nil)

	order, err := svc.GetOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.ID)
	assert.Len(t, order.Items, 1)
	repo.AssertExpectations(t)
}

func TestGetOrder_NotFound(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	repo.On("GetByID", mock.Anything, int64(7)).Return(nil, apperrors.NotFound("order", "7"))

	order, err := svc.GetOrder(context.Background(), 7)
	assert.Nil(t, order)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

// --- ListOrders ---

func TestListOrders_FiltersByStatus(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	status := domain.OrderStatusShipped
	repo.On("List", mock.Anything, repository.OrderFilter{Status: &status, Page: 2, PerPage: 10}).
		Return([]domain.Order{*sampleOrder(status)}, 11, nil)

	orders, total, err := svc.ListOrders(context.Background(), status, pagination.Params{Page: 2, PerPage: 10})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, 11, total)
	repo.AssertExpectations(t)
}

func TestListOrders_NoStatusListsAll(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	repo.On("List", mock.Anything, repository.OrderFilter{Page: 1, PerPage: 20}).
		Return([]domain.Order{}, 0, nil)

	orders, total, err := svc.ListOrders(context.Background(), "", pagination.Params{Page: 1, PerPage: 20})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, total)
}

func TestListOrders_InvalidStatus(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	_, _, err := svc.ListOrders(context.Background(), "lost", pagination.Params{Page: 1, PerPage: 20})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStatus))
	assert.Contains(t, err.Error(), "pending")
	repo.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

// --- ListUserOrders ---

func TestListUserOrders_Success(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	userID := "user-1"
	repo.On("List", mock.Anything, repository.OrderFilter{UserID: &userID, Page: 1, PerPage: 20}).
		Return([]domain.Order{*sampleOrder(domain.OrderStatusPending)}, 1, nil)

	orders, total, err := svc.ListUserOrders(context.Background(), " user-1 ", pagination.Params{Page: 1, PerPage: 20})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, 1, total)
	repo.AssertExpectations(t)
}

func TestListUserOrders_MissingUser(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	_, _, err := svc.ListUserOrders(context.Background(), "", pagination.Params{Page: 1, PerPage: 20})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// --- UpdateOrderStatus ---

func TestUpdateOrderStatus_Success(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, pub := newTestOrderService(repo, new(mockPlacementRepository))

	repo.On("GetByID", mock.Anything, int64(42)).Return(sampleOrder(domain.OrderStatusPending), nil).Once()
	repo.On("UpdateStatus", mock.Anything, int64(42), domain.OrderStatusShipped).Return(nil)
	repo.On("GetByID", mock.Anything, int64(42)).Return(sampleOrder(domain.OrderStatusShipped), nil).Once()

	order, err := svc.UpdateOrderStatus(context.Background(), 42, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, order.Status)
	repo.AssertExpectations(t)

	changed := pub.byTopic(event.TopicOrderStatusChanged)
	require.Len(t, changed, 1)
	var data event.OrderStatusChangedData
	require.NoError(t, changed[0].UnmarshalData(&data))
	assert.Equal(t, int64(42), data.OrderID)
	assert.Equal(t, domain.OrderStatusPending, data.OldStatus)
	assert.Equal(t, domain.OrderStatusShipped, data.NewStatus)
}

func TestUpdateOrderStatus_AnyTransitionAllowed(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	repo.On("GetByID", mock.Anything, int64(42)).Return(sampleOrder(domain.OrderStatusDelivered), nil).Once()
	repo.On("UpdateStatus", mock.Anything, int64(42), domain.OrderStatusPending).Return(nil)
	repo.On("GetByID", mock.Anything, int64(42)).Return(sampleOrder(domain.OrderStatusPending), nil).Once()

	order, err := svc.UpdateOrderStatus(context.Background(), 42, domain.OrderStatusPending)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestUpdateOrderStatus_SameStatusPublishesNothing(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, pub := newTestOrderService(repo, new(mockPlacementRepository))

	repo.On("GetByID", mock.Anything, int64(42)).Return(sampleOrder(domain.OrderStatusShipped), nil)
	repo.On("UpdateStatus", mock.Anything, int64(42), domain.OrderStatusShipped).Return(nil)

	_, err := svc.UpdateOrderStatus(context.Background(), 42, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Empty(t, pub.byTopic(event.TopicOrderStatusChanged))
}

func TestUpdateOrderStatus_InvalidStatus(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, _ := newTestOrderService(repo, new(mockPlacementRepository))

	_, err := svc.UpdateOrderStatus(context.Background(), 42, "teleported")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStatus))
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	repo := new(mockOrderRepository)
	svc, pub := newTestOrderService(repo, new(mockPlacementRepository))

	repo.On("GetByID", mock.Anything, int64(9)).Return(nil, apperrors.NotFound("order", "9"))

	_, err := svc.UpdateOrderStatus(context.Background(), 9, domain.OrderStatusCancelled)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, pub.byTopic(event.TopicOrderStatusChanged))
}

// --- GetPlacement ---

func TestGetPlacement_Success(t *testing.T) {
	placements := new(mockPlacementRepository)
	svc, _ := newTestOrderService(new(mockOrderRepository), placements)

	p := domain.NewPlacement(testPlacementID, "user-1")
	p.Steps = []domain.PlacementStep{domain.NewStep(testPlacementID, 1, "p1", 2)}
	placements.On("GetByID", mock.Anything, testPlacementID).Return(p, nil)

	got, err := svc.GetPlacement(context.Background(), testPlacementID)
	require.NoError(t, err)
	assert.Equal(t, testPlacementID, got.ID)
	assert.Len(t, got.Steps, 1)
}

func TestGetPlacement_MalformedIDIsNotFound(t *testing.T) {
	placements := new(mockPlacementRepository)
	svc, _ := newTestOrderService(new(mockOrderRepository), placements)

	_, err := svc.GetPlacement(context.Background(), "not-a-uuid")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	placements.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
