package repository

import (
	"context"
	"fmt"
	"petshop-checkout/internal/model"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error
	FindByID(ctx context.Context, orderID uint) (*model.Order, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, orderID uint) (*model.Order, error)
	FindByCorrelation(ctx context.Context, tx *gorm.DB, ref model.PaymentRef) (*model.Order, error)
	FindByPaypalOrderID(ctx context.Context, paypalOrderID string) (*model.Order, error)
	ListByUser(ctx context.Context, userID uint) ([]*model.Order, error)
	ListAll(ctx context.Context) ([]*model.Order, error)
	UpdateStatus(ctx context.Context, orderID uint, status model.OrderStatus, carrier string, shipmentDate *time.Time) error
	AddRefundedAmount(ctx context.Context, tx *gorm.DB, orderID uint, amount decimal.Decimal) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Omit("Items").Create(order).Error
}

func (r *orderRepoImpl) CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID uint) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

// FindForUpdate reads the order under a row lock held until tx ends.
// SQLite has no row locks and ignores the clause.
func (r *orderRepoImpl) FindForUpdate(ctx context.Context, tx *gorm.DB, orderID uint) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func correlationColumn(method model.PaymentMethod) (string, error) {
	switch method {
	case model.PaymentMethodPaypal:
		return "paypal_capture_id", nil
	case model.PaymentMethodStripe:
		return "stripe_session_id", nil
	case model.PaymentMethodNets:
		return "nets_txn_ref", nil
	case model.PaymentMethodBraintree:
		return "braintree_transaction_id", nil
	}
	return "", fmt.Errorf("unknown payment method %q", method)
}

// FindByCorrelation looks an order up by the provider id it was finalized on.
// A nil tx reads outside any transaction.
func (r *orderRepoImpl) FindByCorrelation(ctx context.Context, tx *gorm.DB, ref model.PaymentRef) (*model.Order, error) {
	column, err := correlationColumn(ref.Method)
	if err != nil {
		return nil, err
	}
	id := ref.CorrelationID()
	if id == "" {
		return nil, gorm.ErrRecordNotFound
	}
	if tx == nil {
		tx = r.db
	}

	var order model.Order
	err = tx.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where(column+" = ?", id).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByPaypalOrderID(ctx context.Context, paypalOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("paypal_order_id = ?", paypalOrderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) ListByUser(ctx context.Context, userID uint) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) ListAll(ctx context.Context) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) UpdateStatus(ctx context.Context, orderID uint, status model.OrderStatus, carrier string, shipmentDate *time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if carrier != "" {
		updates["carrier"] = carrier
	}
	if shipmentDate != nil {
		updates["shipment_date"] = *shipmentDate
	}

	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// AddRefundedAmount increments in SQL so concurrent refunds cannot overwrite each other.
func (r *orderRepoImpl) AddRefundedAmount(ctx context.Context, tx *gorm.DB, orderID uint, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"refunded_amount": gorm.Expr("refunded_amount + ?", amount),
			"updated_at":      time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}
