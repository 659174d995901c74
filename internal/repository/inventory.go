package repository

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/model"
	"time"

	"gorm.io/gorm"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type StockLine struct {
	ProductID uint
	Quantity  int
}

// InventoryRepository is the stock ledger on products.quantity.
type InventoryRepository interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID uint, quantity int) error
	Restock(ctx context.Context, lines []StockLine) error
	Available(ctx context.Context, productID uint) (int, error)
}

type inventoryRepoImpl struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepoImpl{
		db: db,
	}
}

// Reserve decrements stock in a single conditional UPDATE so concurrent buyers
// of the last unit cannot both succeed.
func (r *inventoryRepoImpl) Reserve(ctx context.Context, tx *gorm.DB, productID uint, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve product %d: quantity must be positive", productID)
	}

	result := tx.WithContext(ctx).Model(&model.Product{}).
		Where("id = ? AND quantity >= ?", productID, quantity).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity - ?", quantity),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
	}

	return nil
}

func (r *inventoryRepoImpl) Restock(ctx context.Context, lines []StockLine) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range lines {
			if line.Quantity <= 0 {
				continue
			}

			result := tx.Model(&model.Product{}).
				Where("id = ?", line.ProductID).
				Updates(map[string]interface{}{
					"quantity":   gorm.Expr("quantity + ?", line.Quantity),
					"updated_at": time.Now(),
				})
			if result.Error != nil {
				return fmt.Errorf("restock product %d: %w", line.ProductID, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("restock product %d: %w", line.ProductID, gorm.ErrRecordNotFound)
			}
		}
		return nil
	})
}

func (r *inventoryRepoImpl) Available(ctx context.Context, productID uint) (int, error) {
	var quantity int
	err := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", productID).
		Select("quantity").
		Row().
		Scan(&quantity)

	return quantity, err
}
