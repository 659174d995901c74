package repository

import (
	"context"
	"petshop-checkout/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository interface {
	Seed(ctx context.Context) error
	List(ctx context.Context) ([]*model.Product, error)
	FindByID(ctx context.Context, productID uint) (*model.Product, error)
	FindMany(ctx context.Context, productIDs []uint) ([]*model.Product, error)
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

func (r *productRepoImpl) Seed(ctx context.Context) error {
	products := []model.Product{
		{ID: 1, Name: "Salmon Kibble 2kg", Category: "Dog Food", Price: decimal.RequireFromString("24.90"), Quantity: 40, Image: "kibble.png", Description: "Grain-free salmon kibble for adult dogs"},
		{ID: 2, Name: "Feather Teaser Wand", Category: "Cat Toys", Price: decimal.RequireFromString("6.50"), Quantity: 120, Image: "teaser.png", Description: "Interactive wand toy"},
		{ID: 3, Name: "Orthopedic Pet Bed", Category: "Beds", Price: decimal.RequireFromString("89.00"), Quantity: 8, Image: "bed.png", Description: "Memory foam bed, medium"},
		{ID: 4, Name: "Clumping Cat Litter 10L", Category: "Litter", Price: decimal.RequireFromString("15.20"), Quantity: 60, Image: "litter.png", Description: "Low-dust clumping litter"},
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error
}

func (r *productRepoImpl) List(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).Order("id").Find(&products).Error
	if err != nil {
		return nil, err
	}

	return products, nil
}

func (r *productRepoImpl) FindByID(ctx context.Context, productID uint) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&product).Error

	if err != nil {
		return nil, err
	}

	return &product, nil
}

func (r *productRepoImpl) FindMany(ctx context.Context, productIDs []uint) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).
		Where("id IN ?", productIDs).
		Find(&products).
		Error

	if err != nil {
		return nil, err
	}

	return products, nil
}
