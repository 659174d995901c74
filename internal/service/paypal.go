package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const paypalCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"

// CheckoutStarted carries the pending checkout token the caller must hand
// back on confirmation.
type CheckoutStarted struct {
	Token    string
	Response *dto.CheckoutResponse
}

type PaypalService interface {
	CreateOrder(ctx context.Context, customer Customer, previousToken string) (*CheckoutStarted, error)
	CaptureOrder(ctx context.Context, token string, userID uint, paypalOrderID string) (*FinalizeResult, error)
	HandleWebhook(ctx context.Context, headers http.Header, body []byte) error
}

type paypalServiceImpl struct {
	paypalClient     client.PaypalClient
	serviceBaseUrl   string
	currency         string
	checkouts        CheckoutStore
	finalizer        OrderFinalizer
	tracker          *ShipmentTracker
	orderRepo        repository.OrderRepository
	webhookEventRepo repository.WebhookEventRepository
	logger           *zap.Logger
}

func NewPaypalService(
	paypalClient client.PaypalClient,
	serviceBaseUrl string,
	currency string,
	checkouts CheckoutStore,
	finalizer OrderFinalizer,
	tracker *ShipmentTracker,
	orderRepo repository.OrderRepository,
	webhookEventRepo repository.WebhookEventRepository,
	logger *zap.Logger,
) PaypalService {
	return &paypalServiceImpl{
		paypalClient:     paypalClient,
		serviceBaseUrl:   serviceBaseUrl,
		currency:         currency,
		checkouts:        checkouts,
		finalizer:        finalizer,
		tracker:          tracker,
		orderRepo:        orderRepo,
		webhookEventRepo: webhookEventRepo,
		logger:           logger.Named("paypal"),
	}
}

func (s *paypalServiceImpl) CreateOrder(ctx context.Context, customer Customer, previousToken string) (*CheckoutStarted, error) {
	pending, err := s.checkouts.Start(ctx, StartCheckout{
		Customer:      customer,
		Method:        model.PaymentMethodPaypal,
		PreviousToken: previousToken,
	})
	if err != nil {
		return nil, err
	}

	total := pending.Snapshot.Data().Summary.Total.Round(2)
	resp, err := s.paypalClient.CreateOrder(ctx, client.CreateOrderRequest{
		Amount:        total,
		Currency:      s.currency,
		InvoiceNumber: pending.InvoiceNumber,
		ReturnURL:     s.serviceBaseUrl + "/api/paypal/success",
		CancelURL:     s.serviceBaseUrl + "/cart",
	})
	if err != nil {
		s.logger.Error("create paypal order", zap.String("invoice", pending.InvoiceNumber), zap.Error(err))
		return nil, fmt.Errorf("paypal api create order: %w: %w", ErrProviderUnavailable, err)
	}

	if err := s.checkouts.AttachProviderRef(ctx, pending, resp.OrderID); err != nil {
		return nil, err
	}

	return &CheckoutStarted{
		Token: pending.Token,
		Response: &dto.CheckoutResponse{
			InvoiceNumber: pending.InvoiceNumber,
			Total:         total,
			Currency:      s.currency,
			OrderID:       resp.OrderID,
			ApprovalURL:   resp.ApproveURL,
		},
	}, nil
}

// CaptureOrder captures an approved PayPal order and finalizes it. Reloading
// the success page after finalization returns the existing order.
func (s *paypalServiceImpl) CaptureOrder(ctx context.Context, token string, userID uint, paypalOrderID string) (*FinalizeResult, error) {
	if paypalOrderID == "" {
		return nil, fmt.Errorf("missing paypal order id: %w", ErrPaymentNotConfirmed)
	}

	existing, err := s.orderRepo.FindByPaypalOrderID(ctx, paypalOrderID)
	switch {
	case err == nil && existing.UserID == userID:
		return &FinalizeResult{Order: existing, Duplicate: true}, nil
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("find order by paypal order id: %w", err)
	}

	pending, err := s.checkouts.Get(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	if pending.ProviderRef != paypalOrderID {
		return nil, ErrPendingCheckoutExpired
	}

	capture, err := s.paypalClient.CaptureOrder(ctx, paypalOrderID)
	if err != nil {
		s.logger.Error("capture paypal order", zap.String("paypal_order_id", paypalOrderID), zap.Error(err))
		var providerErr *client.ProviderError
		if errors.As(err, &providerErr) {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotConfirmed, providerErr.Message)
		}
		return nil, fmt.Errorf("paypal api capture order: %w: %w", ErrProviderUnavailable, err)
	}
	if !capture.Completed() {
		s.logger.Warn("paypal capture not completed",
			zap.String("paypal_order_id", paypalOrderID),
			zap.String("status", capture.Status),
			zap.String("capture_status", capture.CaptureStatus),
		)
		return nil, ErrPaymentNotConfirmed
	}

	result, err := s.finalizer.Finalize(ctx, pending, model.PaymentRef{
		Method:          model.PaymentMethodPaypal,
		PaypalOrderID:   paypalOrderID,
		PaypalCaptureID: capture.CaptureID,
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		s.tracker.Push(ctx, result.Order)
	}

	return result, nil
}

func (s *paypalServiceImpl) HandleWebhook(ctx context.Context, headers http.Header, body []byte) error {
	verified, err := s.paypalClient.VerifyWebhookSignature(ctx, headers, body)
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}
	if !verified {
		return ErrInvalidWebhookSignature
	}

	var eventPayload model.PayPalWebhookEvent
	if err := json.Unmarshal(body, &eventPayload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	processed, err := s.webhookEventRepo.Exists(ctx, eventPayload.ID)
	if err != nil {
		return fmt.Errorf("check webhook event: %w", err)
	}
	if processed {
		s.logger.Info("webhook event already processed", zap.String("event_id", eventPayload.ID))
		return nil
	}

	switch eventPayload.EventType {
	case paypalCaptureCompleted:
		if err := s.handleCaptureCompleted(ctx, &eventPayload); err != nil {
			return err
		}
	default:
		s.logger.Debug("ignored webhook event", zap.String("event_type", eventPayload.EventType))
	}

	return s.webhookEventRepo.MarkProcessed(ctx, model.PaymentMethodPaypal, eventPayload.ID, eventPayload.EventType)
}

func (s *paypalServiceImpl) handleCaptureCompleted(ctx context.Context, event *model.PayPalWebhookEvent) error {
	orderID := event.Resource.SupplementaryData.RelatedIDs.OrderID
	captureID := event.Resource.ID
	if orderID == "" || captureID == "" {
		return fmt.Errorf("could not find order_id or capture id in webhook payload")
	}

	ref := model.PaymentRef{
		Method:          model.PaymentMethodPaypal,
		PaypalOrderID:   orderID,
		PaypalCaptureID: captureID,
	}

	existing, err := s.finalizer.Existing(ctx, ref)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	pending, err := s.checkouts.FindByProviderRef(ctx, model.PaymentMethodPaypal, orderID)
	if err != nil {
		if errors.Is(err, ErrPendingCheckoutExpired) {
			s.logger.Error("captured paypal order has no pending checkout",
				zap.String("paypal_order_id", orderID),
				zap.String("capture_id", captureID),
			)
			return nil
		}
		if errors.Is(err, ErrReconciliationRecorded) {
			s.logger.Warn("captured paypal order awaits manual reconciliation", zap.String("paypal_order_id", orderID))
			return nil
		}
		return err
	}

	result, err := s.finalizer.Finalize(ctx, pending, ref)
	if err != nil {
		return err
	}
	if !result.Duplicate {
		s.tracker.Push(ctx, result.Order)
	}

	return nil
}
