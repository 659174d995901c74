package service

import (
	"context"
	"encoding/json"
	"errors"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/repository"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// placeScenarioOrder checks out the scenario cart through Braintree and returns
// the 43.60 order.
func placeScenarioOrder(t *testing.T, env *testEnv, braintreeClient *mockBraintreeClient) *model.Order {
	t.Helper()
	customer := env.seedScenarioCart(t)

	braintreeClient.SaleFunc = settledSale("bt_42").SaleFunc
	result, err := NewBraintreeService(braintreeClient, env.checkouts, env.finalizer, env.logger).
		Checkout(context.Background(), customer, "fake-valid-nonce")
	require.NoError(t, err)
	return result.Order
}

// placeOrderVia finalizes the scenario cart as if ref had confirmed payment.
func placeOrderVia(t *testing.T, env *testEnv, ref model.PaymentRef) *model.Order {
	t.Helper()
	ctx := context.Background()
	customer := env.seedScenarioCart(t)

	pending, err := env.checkouts.Start(ctx, StartCheckout{Customer: customer, Method: ref.Method})
	require.NoError(t, err)
	result, err := env.finalizer.Finalize(ctx, pending, ref)
	require.NoError(t, err)
	return result.Order
}

// failingRefundRepo stores through the real repository unless an error is set.
type failingRefundRepo struct {
	repository.RefundRepository
	createErr error
	itemsErr  error
}

func (r *failingRefundRepo) Create(ctx context.Context, tx *gorm.DB, refund *model.Refund) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.RefundRepository.Create(ctx, tx, refund)
}

func (r *failingRefundRepo) CreateItems(ctx context.Context, tx *gorm.DB, items []*model.RefundItem) error {
	if r.itemsErr != nil {
		return r.itemsErr
	}
	return r.RefundRepository.CreateItems(ctx, tx, items)
}

type failingInventoryRepo struct {
	repository.InventoryRepository
	restockErr error
}

func (r *failingInventoryRepo) Restock(ctx context.Context, lines []repository.StockLine) error {
	return r.restockErr
}

func newTestRefundService(env *testEnv, braintreeClient *mockBraintreeClient, notifier *RefundNotifier) RefundService {
	return NewRefundService(
		env.db,
		env.orders, env.refunds, env.inventory,
		&mockPaypalClient{}, &mockStripeClient{}, braintreeClient,
		notifier,
		env.logger,
	)
}

func TestRefund_CustomSelectionProratesTax(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)
	svc := newTestRefundService(env, braintreeClient, nil)

	preview, err := svc.Preview(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, preview.Lines, 2)
	assert.True(t, decimal.RequireFromString("10.90").Equal(preview.Lines[0].RefundUnitPrice))
	assert.True(t, decimal.RequireFromString("21.80").Equal(preview.Lines[1].RefundUnitPrice))
	assert.True(t, decimal.RequireFromString("43.60").Equal(preview.RemainingAmount))

	req := RefundRequest{
		Type:   model.RefundTypeCustom,
		Reason: "arrived damaged",
		Lines: []RefundLine{
			{ProductID: 1, RestockQty: 1},
			{ProductID: 2, NoRestockQty: 1},
		},
	}
	outcome, err := svc.Refund(ctx, order.ID, req)
	require.NoError(t, err)
	assert.Empty(t, outcome.Warnings)
	assert.True(t, decimal.RequireFromString("32.70").Equal(outcome.Refund.Amount), "amount %s", outcome.Refund.Amount)
	assert.Equal(t, "bt_42", outcome.Refund.ProviderCaptureID)
	assert.Equal(t, model.PaymentMethodBraintree, outcome.Refund.Provider)
	require.Len(t, braintreeClient.RefundCalls, 1)

	assert.Equal(t, 4, env.stock(t, 1), "restocked unit returns to inventory")
	assert.Equal(t, 0, env.stock(t, 2))

	reloaded, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("32.70").Equal(reloaded.RefundedAmount))

	// ledger rows carry the tax-inclusive price that was actually refunded
	stored, err := env.refunds.FindByID(ctx, outcome.Refund.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	unitPrices := map[uint]string{}
	lineSum := decimal.Zero
	for _, item := range stored.Items {
		unitPrices[item.ProductID] = item.UnitPrice.StringFixed(2)
		lineSum = lineSum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	assert.Equal(t, map[uint]string{1: "10.90", 2: "21.80"}, unitPrices)
	assert.True(t, stored.Amount.Equal(lineSum), "items %s, refund %s", lineSum, stored.Amount)

	// the cat tree has nothing left to refund
	_, err = svc.Refund(ctx, order.ID, req)
	assert.ErrorIs(t, err, ErrInvalidRefundSelection)
	assert.Len(t, braintreeClient.RefundCalls, 1)
}

func TestRefund_FullSelectionTakesExactRemaining(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)
	svc := newTestRefundService(env, braintreeClient, nil)

	_, err := svc.Refund(ctx, order.ID, RefundRequest{
		Type:  model.RefundTypeCustom,
		Lines: []RefundLine{{ProductID: 1, RestockQty: 1}, {ProductID: 2, NoRestockQty: 1}},
	})
	require.NoError(t, err)

	outcome, err := svc.Refund(ctx, order.ID, RefundRequest{Type: model.RefundTypeFullNoRestock})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.90").Equal(outcome.Refund.Amount), "amount %s", outcome.Refund.Amount)
	assert.Equal(t, 4, env.stock(t, 1), "no-restock refund leaves stock alone")

	preview, err := svc.Preview(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, preview.RemainingAmount.IsZero())
	assert.True(t, decimal.RequireFromString("43.60").Equal(preview.RefundedAmount))

	_, err = svc.Refund(ctx, order.ID, RefundRequest{Type: model.RefundTypeFullRestock})
	assert.ErrorIs(t, err, ErrNoRefundableBalance)
	assert.Len(t, braintreeClient.RefundCalls, 2)
}

func TestRefund_FullRestockReturnsAllStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)
	svc := newTestRefundService(env, braintreeClient, nil)

	outcome, err := svc.Refund(ctx, order.ID, RefundRequest{Type: model.RefundTypeFullRestock})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("43.60").Equal(outcome.Refund.Amount))
	require.Len(t, outcome.Refund.Items, 2)

	assert.Equal(t, 5, env.stock(t, 1))
	assert.Equal(t, 1, env.stock(t, 2))
}

func TestRefund_ExceedingBalanceNeverReachesProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)
	svc := newTestRefundService(env, braintreeClient, nil)

	// a manual adjustment recorded without line items
	require.NoError(t, env.refunds.Create(ctx, env.db, &model.Refund{
		OrderID:  order.ID,
		Provider: model.PaymentMethodBraintree,
		Amount:   decimal.RequireFromString("40.00"),
		Currency: "SGD",
		Status:   "settled",
	}))

	_, err := svc.Refund(ctx, order.ID, RefundRequest{
		Type:  model.RefundTypeCustom,
		Lines: []RefundLine{{ProductID: 2, NoRestockQty: 1}},
	})
	assert.ErrorIs(t, err, ErrRefundAmountExceedsBalance)
	assert.Empty(t, braintreeClient.RefundCalls)
}

func TestRefund_RejectsInvalidSelections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)
	svc := newTestRefundService(env, braintreeClient, nil)

	cases := map[string]RefundRequest{
		"unknown type":     {Type: "partial"},
		"empty custom":     {Type: model.RefundTypeCustom},
		"too many":         {Type: model.RefundTypeCustom, Lines: []RefundLine{{ProductID: 1, RestockQty: 3}}},
		"negative":         {Type: model.RefundTypeCustom, Lines: []RefundLine{{ProductID: 1, RestockQty: -1, NoRestockQty: 2}}},
		"not on the order": {Type: model.RefundTypeCustom, Lines: []RefundLine{{ProductID: 99, RestockQty: 1}}},
		"listed twice": {Type: model.RefundTypeCustom, Lines: []RefundLine{
			{ProductID: 1, RestockQty: 1},
			{ProductID: 1, NoRestockQty: 1},
		}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Refund(ctx, order.ID, req)
			assert.ErrorIs(t, err, ErrInvalidRefundSelection)
		})
	}
	assert.Empty(t, braintreeClient.RefundCalls)

	_, err := svc.Refund(ctx, order.ID+100, RefundRequest{Type: model.RefundTypeFullRestock})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRefund_ProviderRejectionKeepsProviderMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)
	braintreeClient.RefundFunc = func(ctx context.Context, transactionID string, amount decimal.Decimal) (*client.RefundResult, error) {
		return nil, &client.ProviderError{Provider: "braintree", StatusCode: 422, Message: "Transaction has already been fully refunded"}
	}
	svc := newTestRefundService(env, braintreeClient, nil)

	_, err := svc.Refund(ctx, order.ID, RefundRequest{Type: model.RefundTypeFullRestock})
	require.ErrorIs(t, err, ErrProviderRefundRejected)

	var providerErr *client.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "Transaction has already been fully refunded", providerErr.Message)

	refunds, err := env.refunds.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
	assert.Equal(t, 3, env.stock(t, 1))
}

func TestRefund_NetsIsUnsupported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := env.seedScenarioCart(t)

	pending, err := env.checkouts.Start(ctx, StartCheckout{Customer: customer, Method: model.PaymentMethodNets})
	require.NoError(t, err)
	result, err := env.finalizer.Finalize(ctx, pending, model.PaymentRef{Method: model.PaymentMethodNets, NetsTxnRef: "ref-9"})
	require.NoError(t, err)

	svc := newTestRefundService(env, &mockBraintreeClient{}, nil)
	_, err = svc.Refund(ctx, result.Order.ID, RefundRequest{Type: model.RefundTypeFullRestock})
	assert.ErrorIs(t, err, ErrUnsupportedPaymentMethod)
}

func TestRefund_NotifiesCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)

	mailer := &mockMailer{}
	done := make(chan struct{}, 1)
	notifier := NewRefundNotifier(mailer, env.logger)
	notifier.wait = func() { done <- struct{}{} }
	svc := newTestRefundService(env, braintreeClient, notifier)

	_, err := svc.Refund(ctx, order.ID, RefundRequest{
		Type:   model.RefundTypeCustom,
		Reason: "wrong size",
		Lines:  []RefundLine{{ProductID: 1, NoRestockQty: 1}},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("refund email was not sent")
	}

	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "owner@example.com", mailer.to[0])
	email := mailer.sent[0]
	assert.Equal(t, order.InvoiceNumber, email.InvoiceNumber)
	assert.Equal(t, "10.90", email.Amount)
	assert.Equal(t, "10.90", email.RefundedToDate)
	require.Len(t, email.Items, 1)
	assert.Equal(t, "Chew Toy A", email.Items[0].Name)
}

func TestRefund_DetailAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)
	svc := newTestRefundService(env, braintreeClient, nil)

	first, err := svc.Refund(ctx, order.ID, RefundRequest{
		Type:  model.RefundTypeCustom,
		Lines: []RefundLine{{ProductID: 1, RestockQty: 1}},
	})
	require.NoError(t, err)
	second, err := svc.Refund(ctx, order.ID, RefundRequest{
		Type:  model.RefundTypeCustom,
		Lines: []RefundLine{{ProductID: 2, NoRestockQty: 1}},
	})
	require.NoError(t, err)

	detail, err := svc.Detail(ctx, first.Refund.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.90").Equal(detail.RefundedToDate))
	assert.Equal(t, order.ID, detail.Order.ID)

	detail, err = svc.Detail(ctx, second.Refund.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("32.70").Equal(detail.RefundedToDate))

	mine, err := svc.ListForUser(ctx, order.UserID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	others, err := svc.ListForUser(ctx, order.UserID+1)
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = svc.Detail(ctx, 999)
	assert.ErrorIs(t, err, ErrRefundNotFound)
}

func TestRefund_PaypalRefundsTheCapture(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := placeOrderVia(t, env, model.PaymentRef{
		Method:          model.PaymentMethodPaypal,
		PaypalOrderID:   "5O190127TN364715T",
		PaypalCaptureID: "3C679366HH908993F",
	})

	var (
		gotCapture  string
		gotAmount   decimal.Decimal
		gotCurrency string
	)
	paypalClient := &mockPaypalClient{
		RefundCaptureFunc: func(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (*client.RefundResult, error) {
			gotCapture, gotAmount, gotCurrency = captureID, amount, currency
			return &client.RefundResult{
				ID:     "1JU08902781691411",
				Status: "COMPLETED",
				Raw:    json.RawMessage(`{"id":"1JU08902781691411","status":"COMPLETED"}`),
			}, nil
		},
	}
	svc := NewRefundService(env.db, env.orders, env.refunds, env.inventory,
		paypalClient, &mockStripeClient{}, &mockBraintreeClient{}, nil, env.logger)

	outcome, err := svc.Refund(ctx, order.ID, RefundRequest{
		Type:  model.RefundTypeCustom,
		Lines: []RefundLine{{ProductID: 2, NoRestockQty: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, "3C679366HH908993F", gotCapture)
	assert.True(t, decimal.RequireFromString("21.80").Equal(gotAmount), "amount %s", gotAmount)
	assert.Equal(t, "SGD", gotCurrency)

	assert.Equal(t, model.PaymentMethodPaypal, outcome.Refund.Provider)
	assert.Equal(t, "3C679366HH908993F", outcome.Refund.ProviderCaptureID)

	stored, err := env.refunds.FindByID(ctx, outcome.Refund.ID)
	require.NoError(t, err)
	assert.Equal(t, "1JU08902781691411", stored.ProviderRefundID)
	assert.Equal(t, "COMPLETED", stored.Status)
	assert.Contains(t, string(stored.ProviderPayload), "1JU08902781691411")
}

func TestRefund_StripeRefundsThePaymentIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := placeOrderVia(t, env, model.PaymentRef{
		Method:          model.PaymentMethodStripe,
		StripeSessionID: "cs_test_9",
		StripeIntentID:  "pi_3MtwBwLkdIwHu7ix28a3tqPa",
	})

	var (
		gotIntent string
		gotAmount decimal.Decimal
	)
	stripeClient := &mockStripeClient{
		RefundFunc: func(ctx context.Context, paymentIntentID string, amount decimal.Decimal, currency string) (*client.RefundResult, error) {
			gotIntent, gotAmount = paymentIntentID, amount
			return &client.RefundResult{ID: "re_1", Status: "succeeded"}, nil
		},
	}
	svc := NewRefundService(env.db, env.orders, env.refunds, env.inventory,
		&mockPaypalClient{}, stripeClient, &mockBraintreeClient{}, nil, env.logger)

	outcome, err := svc.Refund(ctx, order.ID, RefundRequest{Type: model.RefundTypeFullRestock})
	require.NoError(t, err)

	assert.Equal(t, "pi_3MtwBwLkdIwHu7ix28a3tqPa", gotIntent)
	assert.True(t, decimal.RequireFromString("43.60").Equal(gotAmount), "amount %s", gotAmount)
	assert.Equal(t, "pi_3MtwBwLkdIwHu7ix28a3tqPa", outcome.Refund.ProviderCaptureID)
	assert.Equal(t, 5, env.stock(t, 1))
	assert.Equal(t, 1, env.stock(t, 2))
}

func TestRefund_HistoryWriteFailureAfterProviderRefund(t *testing.T) {
	cases := map[string]struct {
		repo      func(repository.RefundRepository) *failingRefundRepo
		stage     string
		storedRow bool
	}{
		"refund row": {
			repo: func(inner repository.RefundRepository) *failingRefundRepo {
				return &failingRefundRepo{RefundRepository: inner, createErr: errors.New("disk I/O error")}
			},
			stage: "history",
		},
		"refund items": {
			repo: func(inner repository.RefundRepository) *failingRefundRepo {
				return &failingRefundRepo{RefundRepository: inner, itemsErr: errors.New("disk I/O error")}
			},
			stage:     "items",
			storedRow: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			braintreeClient := &mockBraintreeClient{}
			order := placeScenarioOrder(t, env, braintreeClient)

			svc := NewRefundService(env.db, env.orders, tc.repo(env.refunds), env.inventory,
				&mockPaypalClient{}, &mockStripeClient{}, braintreeClient, nil, env.logger)

			outcome, err := svc.Refund(ctx, order.ID, RefundRequest{
				Type:  model.RefundTypeCustom,
				Lines: []RefundLine{{ProductID: 1, RestockQty: 1}},
			})
			require.ErrorIs(t, err, ErrPersistenceFailure)

			var persistErr *PersistenceError
			require.ErrorAs(t, err, &persistErr)
			assert.Equal(t, tc.stage, persistErr.Stage)

			// the provider refund is still reported to the caller
			require.NotNil(t, outcome)
			assert.Equal(t, "rf_1", outcome.Refund.ProviderRefundID)
			assert.True(t, decimal.RequireFromString("10.90").Equal(outcome.Refund.Amount))
			require.Len(t, braintreeClient.RefundCalls, 1)

			refunds, err := env.refunds.ListByOrder(ctx, order.ID)
			require.NoError(t, err)
			if tc.storedRow {
				require.Len(t, refunds, 1)
				assert.Empty(t, refunds[0].Items)
			} else {
				assert.Empty(t, refunds)
			}
			assert.Equal(t, 3, env.stock(t, 1), "nothing is restocked after a failed write")
		})
	}
}

func TestRefund_RestockFailureIsAWarning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)

	inventory := &failingInventoryRepo{InventoryRepository: env.inventory, restockErr: errors.New("lock wait timeout")}
	svc := NewRefundService(env.db, env.orders, env.refunds, inventory,
		&mockPaypalClient{}, &mockStripeClient{}, braintreeClient, nil, env.logger)

	outcome, err := svc.Refund(ctx, order.ID, RefundRequest{Type: model.RefundTypeFullRestock})
	require.NoError(t, err)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "restock failed")

	stored, err := env.refunds.FindByID(ctx, outcome.Refund.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)

	reloaded, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("43.60").Equal(reloaded.RefundedAmount))
	assert.Equal(t, 3, env.stock(t, 1))
	assert.Equal(t, 0, env.stock(t, 2))
}

func TestRefund_SeparateInstancesCannotOverspend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	braintreeClient := &mockBraintreeClient{}
	order := placeScenarioOrder(t, env, braintreeClient)

	// each service has its own in-process lock, like separate replicas
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		svc := newTestRefundService(env, braintreeClient, nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refund(ctx, order.ID, RefundRequest{Type: model.RefundTypeFullNoRestock})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrNoRefundableBalance)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, braintreeClient.RefundCalls, 1)

	reloaded, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("43.60").Equal(reloaded.RefundedAmount))
}
