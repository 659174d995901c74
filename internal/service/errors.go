package service

import (
	"errors"
	"fmt"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
)

var (
	ErrAuthenticationRequired     = errors.New("authentication required")
	ErrEmptyCart                  = errors.New("cart is empty")
	ErrInsufficientStock          = repository.ErrInsufficientStock
	ErrProductNotFound            = errors.New("product not found")
	ErrPendingCheckoutExpired     = errors.New("checkout session expired")
	ErrPaymentNotConfirmed        = errors.New("payment not confirmed")
	ErrPaymentTimeout             = errors.New("payment confirmation timed out")
	ErrProviderUnavailable        = errors.New("payment provider unavailable")
	ErrInvalidWebhookSignature    = errors.New("invalid webhook signature")
	ErrOrderNotFound              = errors.New("order not found")
	ErrRefundNotFound             = errors.New("refund not found")
	ErrInvalidOrderStatus         = errors.New("invalid order status")
	ErrInvalidRefundSelection     = errors.New("invalid refund selection")
	ErrNoRefundableBalance        = errors.New("no refundable balance")
	ErrRefundAmountExceedsBalance = errors.New("refund amount exceeds balance")
	ErrProviderRefundRejected     = errors.New("provider rejected refund")
	ErrUnsupportedPaymentMethod   = errors.New("unsupported payment method")
	ErrPersistenceFailure         = errors.New("persistence failure")
	ErrReconciliationRequired     = errors.New("payment captured but order not created")
	ErrReconciliationRecorded     = errors.New("checkout already flagged for reconciliation")
)

// PersistenceError means the provider already accepted the operation but a
// local write failed. Message is the operator-facing description.
type PersistenceError struct {
	Stage   string
	Message string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}

// ReconciliationError is a confirmed payment with no order behind it.
type ReconciliationError struct {
	Ref           model.PaymentRef
	InvoiceNumber string
	Err           error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%s payment %s (invoice %s) needs manual reconciliation: %v",
		e.Ref.Method, e.Ref.CorrelationID(), e.InvoiceNumber, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliationRequired
}
