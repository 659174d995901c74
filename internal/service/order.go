package service

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StatusUpdate struct {
	Status       model.OrderStatus
	Carrier      string
	ShipmentDate *time.Time
}

type OrderService interface {
	ListForUser(ctx context.Context, userID uint) ([]*model.Order, error)
	ListAll(ctx context.Context) ([]*model.Order, error)
	Get(ctx context.Context, orderID, userID uint, admin bool) (*model.Order, error)
	UpdateStatus(ctx context.Context, orderID uint, update StatusUpdate) (*model.Order, error)
}

type orderServiceImpl struct {
	orderRepo repository.OrderRepository
	tracker   *ShipmentTracker
	logger    *zap.Logger
}

func NewOrderService(orderRepo repository.OrderRepository, tracker *ShipmentTracker, logger *zap.Logger) OrderService {
	return &orderServiceImpl{
		orderRepo: orderRepo,
		tracker:   tracker,
		logger:    logger.Named("order"),
	}
}

func (s *orderServiceImpl) ListForUser(ctx context.Context, userID uint) ([]*model.Order, error) {
	return s.orderRepo.ListByUser(ctx, userID)
}

func (s *orderServiceImpl) ListAll(ctx context.Context) ([]*model.Order, error) {
	return s.orderRepo.ListAll(ctx)
}

// Get hides other customers' orders as not found.
func (s *orderServiceImpl) Get(ctx context.Context, orderID, userID uint, admin bool) (*model.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !admin && order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderServiceImpl) UpdateStatus(ctx context.Context, orderID uint, update StatusUpdate) (*model.Order, error) {
	if !update.Status.Valid() {
		return nil, fmt.Errorf("%q: %w", update.Status, ErrInvalidOrderStatus)
	}

	if err := s.orderRepo.UpdateStatus(ctx, orderID, update.Status, update.Carrier, update.ShipmentDate); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}

	s.logger.Info("order status updated", zap.Uint("order_id", order.ID), zap.String("status", string(order.Status)))
	s.tracker.Push(ctx, order)

	return order, nil
}
