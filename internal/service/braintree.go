package service

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"

	"go.uber.org/zap"
)

type BraintreeService interface {
	Checkout(ctx context.Context, customer Customer, nonce string) (*FinalizeResult, error)
}

type braintreeServiceImpl struct {
	braintreeClient client.BraintreeClient
	checkouts       CheckoutStore
	finalizer       OrderFinalizer
	logger          *zap.Logger
}

func NewBraintreeService(
	braintreeClient client.BraintreeClient,
	checkouts CheckoutStore,
	finalizer OrderFinalizer,
	logger *zap.Logger,
) BraintreeService {
	return &braintreeServiceImpl{
		braintreeClient: braintreeClient,
		checkouts:       checkouts,
		finalizer:       finalizer,
		logger:          logger.Named("braintree"),
	}
}

// Checkout charges the nonce synchronously and finalizes on settlement.
func (s *braintreeServiceImpl) Checkout(ctx context.Context, customer Customer, nonce string) (*FinalizeResult, error) {
	if nonce == "" {
		return nil, fmt.Errorf("missing payment nonce: %w", ErrPaymentNotConfirmed)
	}

	pending, err := s.checkouts.Start(ctx, StartCheckout{
		Customer: customer,
		Method:   model.PaymentMethodBraintree,
	})
	if err != nil {
		return nil, err
	}

	total := pending.Snapshot.Data().Summary.Total.Round(2)
	sale, err := s.braintreeClient.Sale(ctx, nonce, total, pending.InvoiceNumber)
	if err != nil {
		s.discard(ctx, pending.Token)
		s.logger.Error("braintree sale", zap.String("invoice", pending.InvoiceNumber), zap.Error(err))

		var providerErr *client.ProviderError
		if errors.As(err, &providerErr) {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotConfirmed, providerErr.Message)
		}
		return nil, fmt.Errorf("braintree sale: %w: %w", ErrProviderUnavailable, err)
	}
	if !sale.Settled() {
		s.discard(ctx, pending.Token)
		return nil, fmt.Errorf("transaction status %s: %w", sale.Status, ErrPaymentNotConfirmed)
	}

	return s.finalizer.Finalize(ctx, pending, model.PaymentRef{
		Method:         model.PaymentMethodBraintree,
		BraintreeTxnID: sale.TransactionID,
	})
}

func (s *braintreeServiceImpl) discard(ctx context.Context, token string) {
	if err := s.checkouts.Discard(ctx, token); err != nil {
		s.logger.Warn("discard pending checkout", zap.Error(err))
	}
}
