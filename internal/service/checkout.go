package service

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Customer struct {
	ID    uint
	Email string
}

type StartCheckout struct {
	Customer      Customer
	Method        model.PaymentMethod
	PreviousToken string
}

// CheckoutStore carries a priced cart across the provider redirect. Entries are
// addressed by a server-issued token and expire after a fixed TTL.
type CheckoutStore interface {
	Start(ctx context.Context, in StartCheckout) (*model.PendingCheckout, error)
	Get(ctx context.Context, token string, userID uint) (*model.PendingCheckout, error)
	FindByProviderRef(ctx context.Context, method model.PaymentMethod, providerRef string) (*model.PendingCheckout, error)
	AttachProviderRef(ctx context.Context, pending *model.PendingCheckout, providerRef string) error
	Discard(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context) (int64, error)
	RunJanitor(ctx context.Context, interval time.Duration)
}

type checkoutStoreImpl struct {
	checkoutRepo repository.CheckoutRepository
	cartService  CartService
	invoices     *InvoiceGenerator
	ttl          time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewCheckoutStore(
	checkoutRepo repository.CheckoutRepository,
	cartService CartService,
	invoices *InvoiceGenerator,
	ttl time.Duration,
	logger *zap.Logger,
) CheckoutStore {
	return &checkoutStoreImpl{
		checkoutRepo: checkoutRepo,
		cartService:  cartService,
		invoices:     invoices,
		ttl:          ttl,
		now:          time.Now,
		logger:       logger,
	}
}

func (s *checkoutStoreImpl) Start(ctx context.Context, in StartCheckout) (*model.PendingCheckout, error) {
	if in.Customer.ID == 0 {
		return nil, ErrAuthenticationRequired
	}

	snapshot, err := s.cartService.Snapshot(ctx, in.Customer.ID)
	if err != nil {
		return nil, err
	}

	// one checkout per browser session at a time
	if in.PreviousToken != "" {
		if err := s.checkoutRepo.Delete(ctx, nil, in.PreviousToken); err != nil {
			s.logger.Warn("discard previous checkout", zap.Error(err))
		}
	}

	now := s.now()
	pending := &model.PendingCheckout{
		Token:         uuid.NewString(),
		UserID:        in.Customer.ID,
		Email:         in.Customer.Email,
		PaymentMethod: in.Method,
		InvoiceNumber: s.invoices.Next(),
		Snapshot:      datatypes.NewJSONType(*snapshot),
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.checkoutRepo.Save(ctx, pending); err != nil {
		return nil, fmt.Errorf("save pending checkout: %w", err)
	}

	return pending, nil
}

func (s *checkoutStoreImpl) Get(ctx context.Context, token string, userID uint) (*model.PendingCheckout, error) {
	if token == "" {
		return nil, ErrPendingCheckoutExpired
	}

	pending, err := s.checkoutRepo.Get(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPendingCheckoutExpired
		}
		return nil, fmt.Errorf("get pending checkout: %w", err)
	}

	if pending.UserID != userID || pending.Failed() || pending.Expired(s.now()) {
		return nil, ErrPendingCheckoutExpired
	}

	return pending, nil
}

func (s *checkoutStoreImpl) FindByProviderRef(ctx context.Context, method model.PaymentMethod, providerRef string) (*model.PendingCheckout, error) {
	pending, err := s.checkoutRepo.FindByProviderRef(ctx, method, providerRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPendingCheckoutExpired
		}
		return nil, fmt.Errorf("find pending checkout: %w", err)
	}

	if pending.Failed() {
		return nil, fmt.Errorf("provider ref %s: %w", providerRef, ErrReconciliationRecorded)
	}

	// the provider has already taken the money, so expiry is not enforced here
	return pending, nil
}

func (s *checkoutStoreImpl) AttachProviderRef(ctx context.Context, pending *model.PendingCheckout, providerRef string) error {
	if err := s.checkoutRepo.SetProviderRef(ctx, pending.Token, providerRef); err != nil {
		return fmt.Errorf("attach provider ref: %w", err)
	}
	pending.ProviderRef = providerRef
	return nil
}

func (s *checkoutStoreImpl) Discard(ctx context.Context, token string) error {
	return s.checkoutRepo.Delete(ctx, nil, token)
}

func (s *checkoutStoreImpl) PurgeExpired(ctx context.Context) (int64, error) {
	return s.checkoutRepo.DeleteExpired(ctx, s.now())
}

// RunJanitor purges expired checkouts every interval until ctx is done.
func (s *checkoutStoreImpl) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.logger.Error("purge expired checkouts", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("purged expired checkouts", zap.Int64("count", n))
			}
		}
	}
}
