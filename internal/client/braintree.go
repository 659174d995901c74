package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"petshop-checkout/internal/config"
	"time"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
)

type BraintreeClient interface {
	// Sale charges a client-side payment method nonce and submits it for settlement.
	Sale(ctx context.Context, nonce string, amount decimal.Decimal, orderRef string) (*BraintreeSale, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*RefundResult, error)
}

type BraintreeSale struct {
	TransactionID string
	Status        string
}

// Settled reports whether the sale captured funds.
func (s *BraintreeSale) Settled() bool {
	switch braintree.TransactionStatus(s.Status) {
	case braintree.TransactionStatusSubmittedForSettlement,
		braintree.TransactionStatusSettling,
		braintree.TransactionStatusSettled:
		return true
	}
	return false
}

type braintreeClientImpl struct {
	gateway *braintree.Braintree
}

func NewBraintreeClient(cfg *config.Braintree) BraintreeClient {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	gateway := braintree.New(
		env,
		cfg.MerchantID,
		cfg.PublicKey,
		cfg.PrivateKey,
	)

	return &braintreeClientImpl{
		gateway: gateway,
	}
}

func (c *braintreeClientImpl) Sale(ctx context.Context, nonce string, amount decimal.Decimal, orderRef string) (*BraintreeSale, error) {
	req := &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             toBraintreeDecimal(amount),
		PaymentMethodNonce: nonce,
		OrderId:            orderRef,
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: true,
		},
	}

	tx, err := c.gateway.Transaction().Create(ctx, req)
	if err != nil {
		return nil, braintreeError(err)
	}

	if tx.Status == braintree.TransactionStatusProcessorDeclined ||
		tx.Status == braintree.TransactionStatusGatewayRejected {
		return nil, &ProviderError{Provider: "braintree", StatusCode: 402, Message: tx.ProcessorResponseText}
	}

	return &BraintreeSale{
		TransactionID: tx.Id,
		Status:        string(tx.Status),
	}, nil
}

func (c *braintreeClientImpl) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*RefundResult, error) {
	tx, err := c.gateway.Transaction().Refund(ctx, transactionID, toBraintreeDecimal(amount))
	if err != nil {
		return nil, braintreeError(err)
	}

	createdAt := time.Now()
	if tx.CreatedAt != nil {
		createdAt = *tx.CreatedAt
	}

	raw, _ := json.Marshal(map[string]interface{}{
		"id":                      tx.Id,
		"status":                  tx.Status,
		"refunded_transaction_id": tx.RefundedTransactionId,
		"amount":                  amount.StringFixed(2),
	})

	return &RefundResult{
		ID:        tx.Id,
		Status:    string(tx.Status),
		CreatedAt: createdAt,
		Raw:       raw,
	}, nil
}

// braintree.NewDecimal takes an unscaled integer and a scale: 50.00 is NewDecimal(5000, 2).
func toBraintreeDecimal(amount decimal.Decimal) *braintree.Decimal {
	return braintree.NewDecimal(amount.Shift(2).Round(0).IntPart(), 2)
}

func braintreeError(err error) error {
	var apiErr *braintree.BraintreeError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "braintree", StatusCode: apiErr.StatusCode(), Message: apiErr.Error()}
	}
	return fmt.Errorf("braintree request: %w", err)
}
