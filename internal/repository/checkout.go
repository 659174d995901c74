package repository

import (
	"context"
	"petshop-checkout/internal/model"
	"time"

	"gorm.io/gorm"
)

type CheckoutRepository interface {
	Save(ctx context.Context, pending *model.PendingCheckout) error
	Get(ctx context.Context, token string) (*model.PendingCheckout, error)
	FindByProviderRef(ctx context.Context, method model.PaymentMethod, providerRef string) (*model.PendingCheckout, error)
	SetProviderRef(ctx context.Context, token, providerRef string) error
	Delete(ctx context.Context, tx *gorm.DB, token string) error
	MarkFailed(ctx context.Context, pending *model.PendingCheckout, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type checkoutRepoImpl struct {
	db *gorm.DB
}

func NewCheckoutRepository(db *gorm.DB) CheckoutRepository {
	return &checkoutRepoImpl{
		db: db,
	}
}

func (r *checkoutRepoImpl) Save(ctx context.Context, pending *model.PendingCheckout) error {
	return r.db.WithContext(ctx).Save(pending).Error
}

func (r *checkoutRepoImpl) Get(ctx context.Context, token string) (*model.PendingCheckout, error) {
	var pending model.PendingCheckout
	err := r.db.WithContext(ctx).
		Where("token = ?", token).
		First(&pending).Error

	if err != nil {
		return nil, err
	}

	return &pending, nil
}

func (r *checkoutRepoImpl) FindByProviderRef(ctx context.Context, method model.PaymentMethod, providerRef string) (*model.PendingCheckout, error) {
	var pending model.PendingCheckout
	err := r.db.WithContext(ctx).
		Where("payment_method = ? AND provider_ref = ?", method, providerRef).
		First(&pending).Error

	if err != nil {
		return nil, err
	}

	return &pending, nil
}

func (r *checkoutRepoImpl) SetProviderRef(ctx context.Context, token, providerRef string) error {
	result := r.db.WithContext(ctx).Model(&model.PendingCheckout{}).
		Where("token = ?", token).
		Updates(map[string]interface{}{
			"provider_ref": providerRef,
			"updated_at":   time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// Delete removes an open checkout. Rows flagged by MarkFailed are left alone.
func (r *checkoutRepoImpl) Delete(ctx context.Context, tx *gorm.DB, token string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("token = ? AND failed_at IS NULL", token).
		Delete(&model.PendingCheckout{}).Error
}

// MarkFailed stores the checkout flagged as failed, inserting it when it was
// never persisted.
func (r *checkoutRepoImpl) MarkFailed(ctx context.Context, pending *model.PendingCheckout, at time.Time) error {
	pending.FailedAt = &at
	return r.db.WithContext(ctx).Save(pending).Error
}

func (r *checkoutRepoImpl) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ? AND failed_at IS NULL", now).
		Delete(&model.PendingCheckout{})

	return result.RowsAffected, result.Error
}
