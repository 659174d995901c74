package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"petshop-checkout/internal/config"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeClient interface {
	CreateCheckoutSession(ctx context.Context, req StripeSessionRequest) (*StripeSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*StripeSession, error)
	ListLineItems(ctx context.Context, sessionID string) ([]StripeLineItem, error)
	RefundPaymentIntent(ctx context.Context, paymentIntentID string, amount decimal.Decimal, currency string) (*RefundResult, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type StripeSessionItem struct {
	ProductID uint
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type StripeSessionRequest struct {
	Items         []StripeSessionItem
	Currency      string
	CustomerEmail string
	ClientRef     string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
}

type StripeSession struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	CustomerEmail   string
	AmountTotal     decimal.Decimal
	Metadata        map[string]string
}

// Paid reports whether the session collected the funds.
func (s *StripeSession) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

type StripeLineItem struct {
	ProductID uint
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

type stripeClientImpl struct {
	api           *stripeclient.API
	webhookSecret string

	taxMu     sync.Mutex
	taxRateID string
}

func NewStripeClient(cfg *config.Stripe) StripeClient {
	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, nil)

	return &stripeClientImpl{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		taxRateID:     cfg.TaxRateID,
	}
}

// taxRate returns the configured rate or creates the 9% exclusive GST rate once.
func (c *stripeClientImpl) taxRate(ctx context.Context) (string, error) {
	c.taxMu.Lock()
	defer c.taxMu.Unlock()

	if c.taxRateID != "" {
		return c.taxRateID, nil
	}

	params := &stripe.TaxRateParams{
		DisplayName: stripe.String("GST"),
		Percentage:  stripe.Float64(9),
		Inclusive:   stripe.Bool(false),
		Country:     stripe.String("SG"),
	}
	params.Context = ctx

	rate, err := c.api.TaxRates.New(params)
	if err != nil {
		return "", stripeError(err)
	}

	c.taxRateID = rate.ID
	return c.taxRateID, nil
}

func (c *stripeClientImpl) CreateCheckoutSession(ctx context.Context, in StripeSessionRequest) (*StripeSession, error) {
	taxRateID, err := c.taxRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stripe tax rate: %w", err)
	}

	currency := strings.ToLower(in.Currency)
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(in.Items))
	for _, item := range in.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
					Metadata: map[string]string{
						"product_id": strconv.FormatUint(uint64(item.ProductID), 10),
					},
				},
				UnitAmount: stripe.Int64(toMinorUnits(item.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
			TaxRates: []*string{stripe.String(taxRateID)},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.ClientRef),
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}

	return toStripeSession(session), nil
}

func (c *stripeClientImpl) GetCheckoutSession(ctx context.Context, sessionID string) (*StripeSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, stripeError(err)
	}

	return toStripeSession(session), nil
}

func (c *stripeClientImpl) ListLineItems(ctx context.Context, sessionID string) ([]StripeLineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.AddExpand("data.price.product")
	params.Context = ctx

	var items []StripeLineItem
	iter := c.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		item := StripeLineItem{
			Name:     li.Description,
			Quantity: int(li.Quantity),
		}
		if li.Price != nil {
			item.UnitPrice = fromMinorUnits(li.Price.UnitAmount)
			if li.Price.Product != nil {
				id, _ := strconv.ParseUint(li.Price.Product.Metadata["product_id"], 10, 64)
				item.ProductID = uint(id)
			}
		}
		items = append(items, item)
	}
	if err := iter.Err(); err != nil {
		return nil, stripeError(err)
	}

	return items, nil
}

func (c *stripeClientImpl) RefundPaymentIntent(ctx context.Context, paymentIntentID string, amount decimal.Decimal, currency string) (*RefundResult, error) {
	if paymentIntentID == "" {
		return nil, fmt.Errorf("stripe payment intent id is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(toMinorUnits(amount)),
	}
	params.Context = ctx

	refund, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, stripeError(err)
	}

	raw, _ := json.Marshal(refund)
	return &RefundResult{
		ID:        refund.ID,
		Status:    string(refund.Status),
		CreatedAt: time.Unix(refund.Created, 0),
		Raw:       raw,
	}, nil
}

func (c *stripeClientImpl) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func toStripeSession(s *stripe.CheckoutSession) *StripeSession {
	out := &StripeSession{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		CustomerEmail: s.CustomerEmail,
		AmountTotal:   fromMinorUnits(s.AmountTotal),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if out.CustomerEmail == "" && s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	return out
}

func stripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{Provider: "stripe", StatusCode: stripeErr.HTTPStatusCode, Message: stripeErr.Msg}
	}
	return err
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
