package service

import (
	"context"
	"errors"
	"fmt"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/model"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NetsEvent is one message on the payment status stream.
type NetsEvent struct {
	Success bool   `json:"success,omitempty"`
	Pending bool   `json:"pending,omitempty"`
	Fail    bool   `json:"fail,omitempty"`
	Error   string `json:"error,omitempty"`
	OrderID uint   `json:"order_id,omitempty"`
}

type NetsService interface {
	RequestQR(ctx context.Context, customer Customer, previousToken string) (*CheckoutStarted, error)
	ConfirmPayment(ctx context.Context, token string, userID uint, txnRef string) (*FinalizeResult, error)
	// WatchPayment polls the transaction until it is paid, the poll budget
	// runs out or ctx is cancelled. Every poll result is passed to emit.
	WatchPayment(ctx context.Context, userID uint, txnRef string, emit func(NetsEvent) error) error
}

type netsServiceImpl struct {
	netsClient   client.NetsClient
	checkouts    CheckoutStore
	finalizer    OrderFinalizer
	currency     string
	pollInterval time.Duration
	maxPolls     int
	logger       *zap.Logger
}

func NewNetsService(
	netsClient client.NetsClient,
	checkouts CheckoutStore,
	finalizer OrderFinalizer,
	currency string,
	pollInterval time.Duration,
	maxPolls int,
	logger *zap.Logger,
) NetsService {
	return &netsServiceImpl{
		netsClient:   netsClient,
		checkouts:    checkouts,
		finalizer:    finalizer,
		currency:     currency,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		logger:       logger.Named("nets"),
	}
}

func (s *netsServiceImpl) RequestQR(ctx context.Context, customer Customer, previousToken string) (*CheckoutStarted, error) {
	pending, err := s.checkouts.Start(ctx, StartCheckout{
		Customer:      customer,
		Method:        model.PaymentMethodNets,
		PreviousToken: previousToken,
	})
	if err != nil {
		return nil, err
	}

	// totals come from the server-side snapshot, never from the browser
	total := pending.Snapshot.Data().Summary.Total.Round(2)
	qr, err := s.netsClient.RequestQR(ctx, "sandbox_nets|m|"+uuid.NewString(), total)
	if err != nil {
		s.logger.Error("request qr", zap.String("invoice", pending.InvoiceNumber), zap.Error(err))
		return nil, fmt.Errorf("nets request qr: %w: %w", ErrProviderUnavailable, err)
	}
	if !qr.Ok() {
		s.logger.Error("qr not issued", zap.String("response_code", qr.ResponseCode))
		return nil, fmt.Errorf("nets response code %s: %w", qr.ResponseCode, ErrProviderUnavailable)
	}

	if err := s.checkouts.AttachProviderRef(ctx, pending, qr.TxnRetrievalRef); err != nil {
		return nil, err
	}

	return &CheckoutStarted{
		Token: pending.Token,
		Response: &dto.CheckoutResponse{
			InvoiceNumber: pending.InvoiceNumber,
			Total:         total,
			Currency:      s.currency,
			QRCode:        qr.QRCode,
			TxnRef:        qr.TxnRetrievalRef,
		},
	}, nil
}

// ConfirmPayment re-verifies the transaction with NETS before finalizing.
func (s *netsServiceImpl) ConfirmPayment(ctx context.Context, token string, userID uint, txnRef string) (*FinalizeResult, error) {
	if txnRef == "" {
		return nil, fmt.Errorf("missing transaction reference: %w", ErrPaymentNotConfirmed)
	}

	ref := model.PaymentRef{Method: model.PaymentMethodNets, NetsTxnRef: txnRef}
	existing, err := s.finalizer.Existing(ctx, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.UserID == userID {
		return &FinalizeResult{Order: existing, Duplicate: true}, nil
	}

	pending, err := s.checkouts.Get(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	if pending.ProviderRef != txnRef {
		return nil, ErrPendingCheckoutExpired
	}

	status, err := s.netsClient.QueryStatus(ctx, txnRef, false)
	if err != nil {
		s.logger.Error("verify payment", zap.String("txn_ref", txnRef), zap.Error(err))
		return nil, fmt.Errorf("nets query status: %w: %w", ErrProviderUnavailable, err)
	}
	if !status.Paid() {
		return nil, ErrPaymentNotConfirmed
	}

	return s.finalizer.Finalize(ctx, pending, ref)
}

func (s *netsServiceImpl) WatchPayment(ctx context.Context, userID uint, txnRef string, emit func(NetsEvent) error) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for poll := 1; poll <= s.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		lastPoll := poll == s.maxPolls
		status, err := s.netsClient.QueryStatus(ctx, txnRef, lastPoll)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("poll payment status", zap.String("txn_ref", txnRef), zap.Error(err))
			return emit(NetsEvent{Fail: true, Error: err.Error()})
		}

		if status.Paid() {
			return s.finalizeWatched(ctx, userID, txnRef, emit)
		}

		if err := emit(NetsEvent{Pending: true}); err != nil {
			return err
		}
	}

	if err := emit(NetsEvent{Fail: true, Error: "Timeout"}); err != nil {
		return err
	}
	return ErrPaymentTimeout
}

func (s *netsServiceImpl) finalizeWatched(ctx context.Context, userID uint, txnRef string, emit func(NetsEvent) error) error {
	ref := model.PaymentRef{Method: model.PaymentMethodNets, NetsTxnRef: txnRef}

	pending, err := s.checkouts.FindByProviderRef(ctx, model.PaymentMethodNets, txnRef)
	if err != nil {
		// the success page may have finalized first
		existing, findErr := s.finalizer.Existing(ctx, ref)
		if findErr == nil && existing != nil {
			return emit(NetsEvent{Success: true, OrderID: existing.ID})
		}
		return emit(NetsEvent{Fail: true, Error: err.Error()})
	}
	if pending.UserID != userID {
		return emit(NetsEvent{Fail: true, Error: ErrPendingCheckoutExpired.Error()})
	}

	result, err := s.finalizer.Finalize(ctx, pending, ref)
	if err != nil {
		var reconErr *ReconciliationError
		if errors.As(err, &reconErr) {
			return emit(NetsEvent{Fail: true, Error: "Payment received but the order could not be created. Our team has been notified."})
		}
		return emit(NetsEvent{Fail: true, Error: err.Error()})
	}

	return emit(NetsEvent{Success: true, OrderID: result.Order.ID})
}
