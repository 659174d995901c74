package service

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TaxRate is the GST applied to every subtotal.
var TaxRate = decimal.RequireFromString("0.09")

type CartService interface {
	Items(ctx context.Context, userID uint) ([]*model.CartItem, error)
	Add(ctx context.Context, userID, productID uint, quantity int) error
	Update(ctx context.Context, userID, productID uint, quantity int) error
	Remove(ctx context.Context, userID, productID uint) error
	Clear(ctx context.Context, userID uint) error
	Snapshot(ctx context.Context, userID uint) (*model.CartSnapshot, error)
}

type cartServiceImpl struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
}

func NewCartService(cartRepo repository.CartRepository, productRepo repository.ProductRepository) CartService {
	return &cartServiceImpl{
		cartRepo:    cartRepo,
		productRepo: productRepo,
	}
}

func (s *cartServiceImpl) Items(ctx context.Context, userID uint) ([]*model.CartItem, error) {
	return s.cartRepo.GetByUser(ctx, userID)
}

func (s *cartServiceImpl) Add(ctx context.Context, userID, productID uint, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	product, err := s.findProduct(ctx, productID)
	if err != nil {
		return err
	}

	inCart := 0
	existing, err := s.cartRepo.Get(ctx, userID, productID)
	switch {
	case err == nil:
		inCart = existing.Quantity
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("get cart item: %w", err)
	}

	if inCart+quantity > product.Quantity {
		return fmt.Errorf("only %d of %s in stock: %w", product.Quantity, product.Name, ErrInsufficientStock)
	}

	if err := s.cartRepo.Add(ctx, userID, productID, quantity); err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (s *cartServiceImpl) Update(ctx context.Context, userID, productID uint, quantity int) error {
	if quantity <= 0 {
		return s.Remove(ctx, userID, productID)
	}

	product, err := s.findProduct(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > product.Quantity {
		return fmt.Errorf("only %d of %s in stock: %w", product.Quantity, product.Name, ErrInsufficientStock)
	}

	if err := s.cartRepo.SetQuantity(ctx, userID, productID, quantity); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("update cart item: %w", err)
	}
	return nil
}

func (s *cartServiceImpl) Remove(ctx context.Context, userID, productID uint) error {
	if err := s.cartRepo.Remove(ctx, userID, productID); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

func (s *cartServiceImpl) Clear(ctx context.Context, userID uint) error {
	if err := s.cartRepo.Clear(ctx, nil, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Snapshot prices the cart from the live catalog.
func (s *cartServiceImpl) Snapshot(ctx context.Context, userID uint) (*model.CartSnapshot, error) {
	cartItems, err := s.cartRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	if len(cartItems) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]model.SnapshotItem, 0, len(cartItems))
	for _, cartItem := range cartItems {
		if cartItem.Product == nil {
			return nil, fmt.Errorf("product %d: %w", cartItem.ProductID, ErrProductNotFound)
		}
		items = append(items, model.SnapshotItem{
			ProductID: cartItem.ProductID,
			Name:      cartItem.Product.Name,
			UnitPrice: cartItem.Product.Price,
			Quantity:  cartItem.Quantity,
			LineTotal: cartItem.Product.Price.Mul(decimal.NewFromInt(int64(cartItem.Quantity))),
		})
	}

	return &model.CartSnapshot{
		Items:   items,
		Summary: Summarize(items),
	}, nil
}

func (s *cartServiceImpl) findProduct(ctx context.Context, productID uint) (*model.Product, error) {
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

// Summarize computes exact totals. Nothing is rounded here.
func Summarize(items []model.SnapshotItem) model.Summary {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	taxAmount := subtotal.Mul(TaxRate)

	return model.Summary{
		Subtotal:  subtotal,
		TaxRate:   TaxRate,
		TaxAmount: taxAmount,
		Total:     subtotal.Add(taxAmount),
	}
}
