package repository

import (
	"context"
	"petshop-checkout/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RefundRepository interface {
	Create(ctx context.Context, tx *gorm.DB, refund *model.Refund) error
	CreateItems(ctx context.Context, tx *gorm.DB, items []*model.RefundItem) error
	SumByOrder(ctx context.Context, tx *gorm.DB, orderID uint) (decimal.Decimal, error)
	RefundedQuantities(ctx context.Context, tx *gorm.DB, orderID uint) (map[uint]int, error)
	FindByID(ctx context.Context, refundID uint) (*model.Refund, error)
	ListByOrder(ctx context.Context, orderID uint) ([]*model.Refund, error)
	List(ctx context.Context) ([]*model.Refund, error)
	ListByUser(ctx context.Context, userID uint) ([]*model.Refund, error)
}

type refundRepoImpl struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepoImpl{
		db: db,
	}
}

func (r *refundRepoImpl) Create(ctx context.Context, tx *gorm.DB, refund *model.Refund) error {
	return tx.WithContext(ctx).Omit("Items").Create(refund).Error
}

func (r *refundRepoImpl) CreateItems(ctx context.Context, tx *gorm.DB, items []*model.RefundItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

// SumByOrder adds the amounts in decimal rather than SQL SUM, which some
// drivers return as a float. A nil tx reads outside any transaction.
func (r *refundRepoImpl) SumByOrder(ctx context.Context, tx *gorm.DB, orderID uint) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}

	var amounts []decimal.Decimal
	err := tx.WithContext(ctx).Model(&model.Refund{}).
		Where("order_id = ?", orderID).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}

	return total.Round(2), nil
}

func (r *refundRepoImpl) RefundedQuantities(ctx context.Context, tx *gorm.DB, orderID uint) (map[uint]int, error) {
	if tx == nil {
		tx = r.db
	}

	var rows []struct {
		ProductID uint
		Total     int
	}
	err := tx.WithContext(ctx).Model(&model.RefundItem{}).
		Select("product_id, COALESCE(SUM(quantity), 0) AS total").
		Where("order_id = ?", orderID).
		Group("product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	quantities := make(map[uint]int, len(rows))
	for _, row := range rows {
		quantities[row.ProductID] = row.Total
	}

	return quantities, nil
}

func (r *refundRepoImpl) FindByID(ctx context.Context, refundID uint) (*model.Refund, error) {
	var refund model.Refund
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", refundID).
		First(&refund).Error

	if err != nil {
		return nil, err
	}

	return &refund, nil
}

func (r *refundRepoImpl) ListByOrder(ctx context.Context, orderID uint) ([]*model.Refund, error) {
	var refunds []*model.Refund
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_id = ?", orderID).
		Order("id").
		Find(&refunds).Error

	if err != nil {
		return nil, err
	}

	return refunds, nil
}

func (r *refundRepoImpl) List(ctx context.Context) ([]*model.Refund, error) {
	var refunds []*model.Refund
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Find(&refunds).Error

	if err != nil {
		return nil, err
	}

	return refunds, nil
}

func (r *refundRepoImpl) ListByUser(ctx context.Context, userID uint) ([]*model.Refund, error) {
	var refunds []*model.Refund
	err := r.db.WithContext(ctx).
		Preload("Items").
		Joins("JOIN orders ON orders.id = refunds.order_id").
		Where("orders.user_id = ?", userID).
		Order("refunds.id DESC").
		Find(&refunds).Error

	if err != nil {
		return nil, err
	}

	return refunds, nil
}
