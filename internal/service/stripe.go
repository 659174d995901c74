package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	stripeMetaToken   = "checkout_token"
	stripeMetaUserID  = "user_id"
	stripeMetaInvoice = "invoice_number"
)

type StripeService interface {
	CreateSession(ctx context.Context, customer Customer, previousToken string) (*CheckoutStarted, error)
	ConfirmSession(ctx context.Context, sessionID string) (*FinalizeResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type stripeServiceImpl struct {
	stripeClient     client.StripeClient
	serviceBaseUrl   string
	currency         string
	checkouts        CheckoutStore
	finalizer        OrderFinalizer
	webhookEventRepo repository.WebhookEventRepository
	logger           *zap.Logger
}

func NewStripeService(
	stripeClient client.StripeClient,
	serviceBaseUrl string,
	currency string,
	checkouts CheckoutStore,
	finalizer OrderFinalizer,
	webhookEventRepo repository.WebhookEventRepository,
	logger *zap.Logger,
) StripeService {
	return &stripeServiceImpl{
		stripeClient:     stripeClient,
		serviceBaseUrl:   serviceBaseUrl,
		currency:         currency,
		checkouts:        checkouts,
		finalizer:        finalizer,
		webhookEventRepo: webhookEventRepo,
		logger:           logger.Named("stripe"),
	}
}

func (s *stripeServiceImpl) CreateSession(ctx context.Context, customer Customer, previousToken string) (*CheckoutStarted, error) {
	pending, err := s.checkouts.Start(ctx, StartCheckout{
		Customer:      customer,
		Method:        model.PaymentMethodStripe,
		PreviousToken: previousToken,
	})
	if err != nil {
		return nil, err
	}

	snapshot := pending.Snapshot.Data()
	items := make([]client.StripeSessionItem, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, client.StripeSessionItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	session, err := s.stripeClient.CreateCheckoutSession(ctx, client.StripeSessionRequest{
		Items:         items,
		Currency:      s.currency,
		CustomerEmail: customer.Email,
		ClientRef:     pending.InvoiceNumber,
		Metadata: map[string]string{
			stripeMetaToken:   pending.Token,
			stripeMetaUserID:  strconv.FormatUint(uint64(customer.ID), 10),
			stripeMetaInvoice: pending.InvoiceNumber,
		},
		SuccessURL: s.serviceBaseUrl + "/api/checkout/stripe/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.serviceBaseUrl + "/api/checkout/stripe/cancel",
	})
	if err != nil {
		s.logger.Error("create checkout session", zap.String("invoice", pending.InvoiceNumber), zap.Error(err))
		return nil, fmt.Errorf("stripe create session: %w: %w", ErrProviderUnavailable, err)
	}

	if err := s.checkouts.AttachProviderRef(ctx, pending, session.ID); err != nil {
		return nil, err
	}

	return &CheckoutStarted{
		Token: pending.Token,
		Response: &dto.CheckoutResponse{
			InvoiceNumber: pending.InvoiceNumber,
			Total:         snapshot.Summary.Total.Round(2),
			Currency:      s.currency,
			SessionID:     session.ID,
			RedirectURL:   session.URL,
		},
	}, nil
}

// ConfirmSession finalizes a paid session. It serves both the success page and
// the webhook; whichever runs second gets the existing order back.
func (s *stripeServiceImpl) ConfirmSession(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("missing session id: %w", ErrPaymentNotConfirmed)
	}

	existing, err := s.finalizer.Existing(ctx, model.PaymentRef{Method: model.PaymentMethodStripe, StripeSessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &FinalizeResult{Order: existing, Duplicate: true}, nil
	}

	session, err := s.stripeClient.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		s.logger.Error("retrieve checkout session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("stripe get session: %w: %w", ErrProviderUnavailable, err)
	}
	if !session.Paid() {
		return nil, ErrPaymentNotConfirmed
	}

	ref := model.PaymentRef{
		Method:          model.PaymentMethodStripe,
		StripeSessionID: session.ID,
		StripeIntentID:  session.PaymentIntentID,
	}

	pending, err := s.pendingFor(ctx, session)
	if err != nil {
		return nil, &ReconciliationError{Ref: ref, InvoiceNumber: session.Metadata[stripeMetaInvoice], Err: err}
	}

	return s.finalizer.Finalize(ctx, s.chargedTotal(pending, session), ref)
}

// chargedTotal makes the order record what Stripe collected. Stripe applies the
// tax rate per line, so its total can differ from the snapshot by rounding.
func (s *stripeServiceImpl) chargedTotal(pending *model.PendingCheckout, session *client.StripeSession) *model.PendingCheckout {
	charged := session.AmountTotal.Round(2)
	snapshot := pending.Snapshot.Data()
	if !charged.IsPositive() || charged.Equal(snapshot.Summary.Total.Round(2)) {
		return pending
	}

	s.logger.Warn("stripe charged a different total than the snapshot",
		zap.String("session_id", session.ID),
		zap.String("invoice", pending.InvoiceNumber),
		zap.String("snapshot_total", snapshot.Summary.Total.StringFixed(2)),
		zap.String("charged_total", charged.StringFixed(2)),
	)

	snapshot.Summary.Total = charged
	snapshot.Summary.TaxAmount = charged.Sub(snapshot.Summary.Subtotal)
	adjusted := *pending
	adjusted.Snapshot = datatypes.NewJSONType(snapshot)
	return &adjusted
}

// pendingFor resolves the pending checkout of a session, rebuilding it from the
// session's line items once it has expired.
func (s *stripeServiceImpl) pendingFor(ctx context.Context, session *client.StripeSession) (*model.PendingCheckout, error) {
	pending, err := s.checkouts.FindByProviderRef(ctx, model.PaymentMethodStripe, session.ID)
	if err == nil {
		return pending, nil
	}
	if !errors.Is(err, ErrPendingCheckoutExpired) {
		return nil, err
	}

	userID, err := strconv.ParseUint(session.Metadata[stripeMetaUserID], 10, 64)
	if err != nil || userID == 0 {
		return nil, fmt.Errorf("session %s has no user: %w", session.ID, ErrPendingCheckoutExpired)
	}
	invoice := session.Metadata[stripeMetaInvoice]
	if invoice == "" {
		return nil, fmt.Errorf("session %s has no invoice: %w", session.ID, ErrPendingCheckoutExpired)
	}

	lineItems, err := s.stripeClient.ListLineItems(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list session line items: %w", err)
	}

	items := make([]model.SnapshotItem, 0, len(lineItems))
	for _, li := range lineItems {
		if li.ProductID == 0 || li.Quantity <= 0 {
			return nil, fmt.Errorf("line item %q has no product", li.Name)
		}
		items = append(items, model.SnapshotItem{
			ProductID: li.ProductID,
			Name:      li.Name,
			UnitPrice: li.UnitPrice,
			Quantity:  li.Quantity,
			LineTotal: li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity))),
		})
	}

	s.logger.Warn("rebuilt checkout from stripe line items",
		zap.String("session_id", session.ID),
		zap.String("invoice", invoice),
	)

	return &model.PendingCheckout{
		UserID:        uint(userID),
		Email:         session.CustomerEmail,
		PaymentMethod: model.PaymentMethodStripe,
		ProviderRef:   session.ID,
		InvoiceNumber: invoice,
		Snapshot: datatypes.NewJSONType(model.CartSnapshot{
			Items:   items,
			Summary: Summarize(items),
		}),
	}, nil
}

func (s *stripeServiceImpl) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.stripeClient.ConstructEvent(payload, signature)
	if err != nil {
		s.logger.Warn("stripe webhook signature", zap.Error(err))
		return ErrInvalidWebhookSignature
	}

	processed, err := s.webhookEventRepo.Exists(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("check webhook event: %w", err)
	}
	if processed {
		return nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}

		result, err := s.ConfirmSession(ctx, session.ID)
		switch {
		case errors.Is(err, ErrPaymentNotConfirmed):
			// async methods settle later with their own event
			s.logger.Info("checkout session not paid yet", zap.String("session_id", session.ID))
		case errors.Is(err, ErrReconciliationRecorded):
			s.logger.Warn("checkout session awaits manual reconciliation", zap.String("session_id", session.ID))
		case err != nil:
			return err
		default:
			s.logger.Info("webhook finalized session",
				zap.String("session_id", session.ID),
				zap.Uint("order_id", result.Order.ID),
				zap.Bool("duplicate", result.Duplicate),
			)
		}
	default:
		s.logger.Debug("ignored webhook event", zap.String("event_type", string(event.Type)))
	}

	return s.webhookEventRepo.MarkProcessed(ctx, model.PaymentMethodStripe, event.ID, string(event.Type))
}
