package service

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type FinalizeResult struct {
	Order *model.Order
	// Duplicate is set when the payment had already been finalized.
	Duplicate bool
}

// OrderFinalizer turns a confirmed payment into an order, at most once per
// provider correlation id.
type OrderFinalizer interface {
	Finalize(ctx context.Context, pending *model.PendingCheckout, ref model.PaymentRef) (*FinalizeResult, error)
	Existing(ctx context.Context, ref model.PaymentRef) (*model.Order, error)
}

type orderFinalizerImpl struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	inventoryRepo repository.InventoryRepository
	cartRepo      repository.CartRepository
	checkoutRepo  repository.CheckoutRepository
	currency      string
	logger        *zap.Logger
}

func NewOrderFinalizer(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	inventoryRepo repository.InventoryRepository,
	cartRepo repository.CartRepository,
	checkoutRepo repository.CheckoutRepository,
	currency string,
	logger *zap.Logger,
) OrderFinalizer {
	return &orderFinalizerImpl{
		db:            db,
		orderRepo:     orderRepo,
		inventoryRepo: inventoryRepo,
		cartRepo:      cartRepo,
		checkoutRepo:  checkoutRepo,
		currency:      currency,
		logger:        logger,
	}
}

// Existing returns the order already finalized for ref, or nil.
func (s *orderFinalizerImpl) Existing(ctx context.Context, ref model.PaymentRef) (*model.Order, error) {
	order, err := s.orderRepo.FindByCorrelation(ctx, nil, ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order by correlation: %w", err)
	}
	return order, nil
}

func (s *orderFinalizerImpl) Finalize(ctx context.Context, pending *model.PendingCheckout, ref model.PaymentRef) (*FinalizeResult, error) {
	if ref.CorrelationID() == "" {
		return nil, fmt.Errorf("finalize %s payment: missing correlation id", ref.Method)
	}

	log := s.logger.With(
		zap.String("provider", string(ref.Method)),
		zap.String("correlation_id", ref.CorrelationID()),
		zap.String("invoice", pending.InvoiceNumber),
	)

	existing, err := s.Existing(ctx, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info("payment already finalized", zap.Uint("order_id", existing.ID))
		s.discard(ctx, pending.Token, log)
		return &FinalizeResult{Order: existing, Duplicate: true}, nil
	}

	snapshot := pending.Snapshot.Data()
	if len(snapshot.Items) == 0 {
		return nil, &ReconciliationError{Ref: ref, InvoiceNumber: pending.InvoiceNumber, Err: ErrEmptyCart}
	}

	order := &model.Order{
		UserID:         pending.UserID,
		CustomerEmail:  pending.Email,
		Subtotal:       snapshot.Summary.Subtotal.Round(2),
		TaxAmount:      snapshot.Summary.TaxAmount.Round(2),
		Total:          snapshot.Summary.Total.Round(2),
		RefundedAmount: decimal.Zero,
		Currency:       s.currency,
		InvoiceNumber:  pending.InvoiceNumber,
		Status:         model.OrderStatusOnHold,
	}
	ref.Apply(order)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order in db: %w", err)
		}

		items := make([]*model.OrderItem, 0, len(snapshot.Items))
		for _, item := range snapshot.Items {
			if err := s.inventoryRepo.Reserve(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("reserve stock: %w", err)
			}
			items = append(items, &model.OrderItem{
				OrderID:     order.ID,
				ProductID:   item.ProductID,
				ProductName: item.Name,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				LineTotal:   item.LineTotal.Round(2),
			})
		}

		if err := s.orderRepo.CreateOrderItems(ctx, tx, items); err != nil {
			return fmt.Errorf("store order items in db: %w", err)
		}
		order.Items = make([]model.OrderItem, len(items))
		for i, item := range items {
			order.Items[i] = *item
		}

		if err := s.cartRepo.Clear(ctx, tx, pending.UserID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		return s.checkoutRepo.Delete(ctx, tx, pending.Token)
	})

	if err != nil {
		// a concurrent webhook or success page won the race
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, findErr := s.Existing(ctx, ref)
			if findErr == nil && winner != nil {
				log.Info("payment finalized concurrently", zap.Uint("order_id", winner.ID))
				return &FinalizeResult{Order: winner, Duplicate: true}, nil
			}
		}

		log.Error("payment captured but order not created", zap.Error(err))
		if errors.Is(err, ErrInsufficientStock) {
			// terminal: retrying the same snapshot cannot succeed
			s.flag(ctx, pending, log)
		}
		return nil, &ReconciliationError{Ref: ref, InvoiceNumber: pending.InvoiceNumber, Err: err}
	}

	log.Info("order finalized", zap.Uint("order_id", order.ID), zap.String("total", order.Total.StringFixed(2)))
	return &FinalizeResult{Order: order}, nil
}

// flag keeps the checkout for manual reconciliation so provider retries stop
// at it instead of rebuilding the order.
func (s *orderFinalizerImpl) flag(ctx context.Context, pending *model.PendingCheckout, log *zap.Logger) {
	now := time.Now()
	if pending.Token == "" {
		pending.Token = uuid.NewString()
	}
	if pending.ExpiresAt.IsZero() {
		pending.ExpiresAt = now
	}
	if err := s.checkoutRepo.MarkFailed(ctx, pending, now); err != nil {
		log.Error("flag failed checkout", zap.Error(err))
	}
}

func (s *orderFinalizerImpl) discard(ctx context.Context, token string, log *zap.Logger) {
	if token == "" {
		return
	}
	if err := s.checkoutRepo.Delete(ctx, nil, token); err != nil {
		log.Warn("discard pending checkout", zap.Error(err))
	}
}
