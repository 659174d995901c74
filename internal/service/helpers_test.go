package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMockNotImplemented = errors.New("mock: not implemented")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := client.InitDatabase("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name), zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// testEnv wires the real repositories over an in-memory database.
type testEnv struct {
	db        *gorm.DB
	products  repository.ProductRepository
	inventory repository.InventoryRepository
	carts     repository.CartRepository
	orders    repository.OrderRepository
	refunds   repository.RefundRepository
	pending   repository.CheckoutRepository
	events    repository.WebhookEventRepository

	cartService CartService
	checkouts   CheckoutStore
	finalizer   OrderFinalizer
	logger      *zap.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	env := &testEnv{
		db:        db,
		products:  repository.NewProductRepository(db),
		inventory: repository.NewInventoryRepository(db),
		carts:     repository.NewCartRepository(db),
		orders:    repository.NewOrderRepository(db),
		refunds:   repository.NewRefundRepository(db),
		pending:   repository.NewCheckoutRepository(db),
		events:    repository.NewWebhookEventRepository(db),
		logger:    zap.NewNop(),
	}
	env.cartService = NewCartService(env.carts, env.products)
	env.checkouts = NewCheckoutStore(env.pending, env.cartService, NewInvoiceGenerator(), 30*time.Minute, env.logger)
	env.finalizer = NewOrderFinalizer(db, env.orders, env.inventory, env.carts, env.pending, "SGD", env.logger)
	return env
}

func (e *testEnv) addProduct(t *testing.T, id uint, name, price string, stock int) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Product{
		ID:       id,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Quantity: stock,
	}).Error)
}

func (e *testEnv) stock(t *testing.T, productID uint) int {
	t.Helper()
	qty, err := e.inventory.Available(context.Background(), productID)
	require.NoError(t, err)
	return qty
}

// seedScenarioCart puts 2 x A at 10.00 (stock 5) and 1 x B at 20.00 (stock 1)
// into the cart of user 7.
func (e *testEnv) seedScenarioCart(t *testing.T) Customer {
	t.Helper()
	ctx := context.Background()

	e.addProduct(t, 1, "Chew Toy A", "10.00", 5)
	e.addProduct(t, 2, "Cat Tree B", "20.00", 1)

	customer := Customer{ID: 7, Email: "owner@example.com"}
	require.NoError(t, e.cartService.Add(ctx, customer.ID, 1, 2))
	require.NoError(t, e.cartService.Add(ctx, customer.ID, 2, 1))
	return customer
}

func (e *testEnv) countOrders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Order{}).Count(&n).Error)
	return n
}

type mockPaypalClient struct {
	CreateOrderFunc   func(ctx context.Context, req client.CreateOrderRequest) (*client.CreateOrderResponse, error)
	CaptureOrderFunc  func(ctx context.Context, orderID string) (*client.CaptureResult, error)
	RefundCaptureFunc func(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (*client.RefundResult, error)
	AddTrackerFunc    func(ctx context.Context, tracker client.Tracker) error
	VerifyFunc        func(ctx context.Context, header http.Header, body []byte) (bool, error)
}

func (m *mockPaypalClient) CreateOrder(ctx context.Context, req client.CreateOrderRequest) (*client.CreateOrderResponse, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	return nil, errMockNotImplemented
}

func (m *mockPaypalClient) CaptureOrder(ctx context.Context, orderID string) (*client.CaptureResult, error) {
	if m.CaptureOrderFunc != nil {
		return m.CaptureOrderFunc(ctx, orderID)
	}
	return nil, errMockNotImplemented
}

func (m *mockPaypalClient) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (*client.RefundResult, error) {
	if m.RefundCaptureFunc != nil {
		return m.RefundCaptureFunc(ctx, captureID, amount, currency)
	}
	return nil, errMockNotImplemented
}

func (m *mockPaypalClient) AddTracker(ctx context.Context, tracker client.Tracker) error {
	if m.AddTrackerFunc != nil {
		return m.AddTrackerFunc(ctx, tracker)
	}
	return nil
}

func (m *mockPaypalClient) VerifyWebhookSignature(ctx context.Context, header http.Header, body []byte) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, header, body)
	}
	return true, nil
}

type mockStripeClient struct {
	CreateSessionFunc func(ctx context.Context, req client.StripeSessionRequest) (*client.StripeSession, error)
	GetSessionFunc    func(ctx context.Context, sessionID string) (*client.StripeSession, error)
	LineItemsFunc     func(ctx context.Context, sessionID string) ([]client.StripeLineItem, error)
	RefundFunc        func(ctx context.Context, paymentIntentID string, amount decimal.Decimal, currency string) (*client.RefundResult, error)
	ConstructFunc     func(payload []byte, signature string) (stripe.Event, error)

	mu           sync.Mutex
	GetCallCount int
}

func (m *mockStripeClient) CreateCheckoutSession(ctx context.Context, req client.StripeSessionRequest) (*client.StripeSession, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, req)
	}
	return nil, errMockNotImplemented
}

func (m *mockStripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*client.StripeSession, error) {
	m.mu.Lock()
	m.GetCallCount++
	m.mu.Unlock()

	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, sessionID)
	}
	return nil, errMockNotImplemented
}

func (m *mockStripeClient) ListLineItems(ctx context.Context, sessionID string) ([]client.StripeLineItem, error) {
	if m.LineItemsFunc != nil {
		return m.LineItemsFunc(ctx, sessionID)
	}
	return nil, errMockNotImplemented
}

func (m *mockStripeClient) RefundPaymentIntent(ctx context.Context, paymentIntentID string, amount decimal.Decimal, currency string) (*client.RefundResult, error) {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, paymentIntentID, amount, currency)
	}
	return nil, errMockNotImplemented
}

func (m *mockStripeClient) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if m.ConstructFunc != nil {
		return m.ConstructFunc(payload, signature)
	}
	return stripe.Event{}, errMockNotImplemented
}

type mockNetsClient struct {
	RequestQRFunc   func(ctx context.Context, txnID string, amount decimal.Decimal) (*client.NetsQR, error)
	QueryStatusFunc func(ctx context.Context, ref string, frontendTimeout bool) (*client.NetsStatus, error)
}

func (m *mockNetsClient) RequestQR(ctx context.Context, txnID string, amount decimal.Decimal) (*client.NetsQR, error) {
	if m.RequestQRFunc != nil {
		return m.RequestQRFunc(ctx, txnID, amount)
	}
	return nil, errMockNotImplemented
}

func (m *mockNetsClient) QueryStatus(ctx context.Context, ref string, frontendTimeout bool) (*client.NetsStatus, error) {
	if m.QueryStatusFunc != nil {
		return m.QueryStatusFunc(ctx, ref, frontendTimeout)
	}
	return nil, errMockNotImplemented
}

type mockBraintreeClient struct {
	SaleFunc   func(ctx context.Context, nonce string, amount decimal.Decimal, orderRef string) (*client.BraintreeSale, error)
	RefundFunc func(ctx context.Context, transactionID string, amount decimal.Decimal) (*client.RefundResult, error)

	mu          sync.Mutex
	RefundCalls []decimal.Decimal
}

func (m *mockBraintreeClient) Sale(ctx context.Context, nonce string, amount decimal.Decimal, orderRef string) (*client.BraintreeSale, error) {
	if m.SaleFunc != nil {
		return m.SaleFunc(ctx, nonce, amount, orderRef)
	}
	return nil, errMockNotImplemented
}

func (m *mockBraintreeClient) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*client.RefundResult, error) {
	m.mu.Lock()
	m.RefundCalls = append(m.RefundCalls, amount)
	m.mu.Unlock()

	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, transactionID, amount)
	}
	return &client.RefundResult{ID: fmt.Sprintf("rf_%d", len(m.RefundCalls)), Status: "submitted_for_settlement"}, nil
}

type mockMailer struct {
	mu   sync.Mutex
	sent []client.RefundEmail
	to   []string
	err  error
}

func (m *mockMailer) SendRefundEmail(ctx context.Context, to string, data client.RefundEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	m.sent = append(m.sent, data)
	return m.err
}
