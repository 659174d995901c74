package service

import (
	"context"
	"net/http"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaypalFixture(t *testing.T) (*testEnv, *mockPaypalClient, PaypalService, Customer, *[]client.Tracker) {
	t.Helper()
	env := newTestEnv(t)
	customer := env.seedScenarioCart(t)

	trackers := &[]client.Tracker{}
	paypalClient := &mockPaypalClient{
		CreateOrderFunc: func(ctx context.Context, req client.CreateOrderRequest) (*client.CreateOrderResponse, error) {
			return &client.CreateOrderResponse{OrderID: "5O190127TN364715T", ApproveURL: "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T"}, nil
		},
		CaptureOrderFunc: func(ctx context.Context, orderID string) (*client.CaptureResult, error) {
			return &client.CaptureResult{OrderID: orderID, Status: "COMPLETED", CaptureID: "3C679366HH908993F", CaptureStatus: "COMPLETED"}, nil
		},
		AddTrackerFunc: func(ctx context.Context, tracker client.Tracker) error {
			*trackers = append(*trackers, tracker)
			return nil
		},
	}
	tracker := NewShipmentTracker(paypalClient, true, "DHL", env.logger)
	svc := NewPaypalService(paypalClient, "http://shop.test", "SGD", env.checkouts, env.finalizer, tracker, env.orders, env.events, env.logger)
	return env, paypalClient, svc, customer, trackers
}

func TestPaypal_CreateAndCaptureOrder(t *testing.T) {
	env, _, svc, customer, trackers := newPaypalFixture(t)
	ctx := context.Background()

	started, err := svc.CreateOrder(ctx, customer, "")
	require.NoError(t, err)
	assert.Equal(t, "5O190127TN364715T", started.Response.OrderID)
	assert.NotEmpty(t, started.Response.ApprovalURL)

	result, err := svc.CaptureOrder(ctx, started.Token, customer.ID, "5O190127TN364715T")
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "3C679366HH908993F", result.Order.RefundReference())
	assert.Equal(t, int64(1), env.countOrders(t))

	require.Len(t, *trackers, 1)
	assert.Equal(t, "ON_HOLD", (*trackers)[0].Status)
	assert.Equal(t, result.Order.InvoiceNumber, (*trackers)[0].TrackingNumber)

	// reloading the success page returns the same order
	again, err := svc.CaptureOrder(ctx, started.Token, customer.ID, "5O190127TN364715T")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, result.Order.ID, again.Order.ID)
	assert.Len(t, *trackers, 1)
}

func TestPaypal_CaptureRejectedByProvider(t *testing.T) {
	env, paypalClient, svc, customer, _ := newPaypalFixture(t)
	ctx := context.Background()

	started, err := svc.CreateOrder(ctx, customer, "")
	require.NoError(t, err)

	paypalClient.CaptureOrderFunc = func(ctx context.Context, orderID string) (*client.CaptureResult, error) {
		return nil, &client.ProviderError{Provider: "paypal", StatusCode: 422, Message: "The instrument presented was either declined by the processor or bank"}
	}

	_, err = svc.CaptureOrder(ctx, started.Token, customer.ID, "5O190127TN364715T")
	require.ErrorIs(t, err, ErrPaymentNotConfirmed)
	assert.Contains(t, err.Error(), "declined by the processor")
	assert.Zero(t, env.countOrders(t))
}

func TestPaypal_CaptureWithForeignOrderID(t *testing.T) {
	_, _, svc, customer, _ := newPaypalFixture(t)
	ctx := context.Background()

	started, err := svc.CreateOrder(ctx, customer, "")
	require.NoError(t, err)

	_, err = svc.CaptureOrder(ctx, started.Token, customer.ID, "SOMEONE-ELSES-ORDER")
	assert.ErrorIs(t, err, ErrPendingCheckoutExpired)
}

const captureCompletedEvent = `{
	"id": "WH-58D329510W468432D-8HN650336L201105X",
	"event_type": "PAYMENT.CAPTURE.COMPLETED",
	"resource": {
		"id": "3C679366HH908993F",
		"status": "COMPLETED",
		"supplementary_data": {"related_ids": {"order_id": "5O190127TN364715T"}}
	}
}`

func TestPaypal_WebhookFinalizesBeforeSuccessPage(t *testing.T) {
	env, _, svc, customer, _ := newPaypalFixture(t)
	ctx := context.Background()

	started, err := svc.CreateOrder(ctx, customer, "")
	require.NoError(t, err)

	require.NoError(t, svc.HandleWebhook(ctx, http.Header{}, []byte(captureCompletedEvent)))
	require.Equal(t, int64(1), env.countOrders(t))

	// duplicate delivery
	require.NoError(t, svc.HandleWebhook(ctx, http.Header{}, []byte(captureCompletedEvent)))
	require.Equal(t, int64(1), env.countOrders(t))

	result, err := svc.CaptureOrder(ctx, started.Token, customer.ID, "5O190127TN364715T")
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, 3, env.stock(t, 1))
}

func TestPaypal_WebhookRejectsUnverifiedSignature(t *testing.T) {
	env, paypalClient, svc, _, _ := newPaypalFixture(t)
	paypalClient.VerifyFunc = func(ctx context.Context, header http.Header, body []byte) (bool, error) {
		return false, nil
	}

	err := svc.HandleWebhook(context.Background(), http.Header{}, []byte(captureCompletedEvent))
	assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
	assert.Zero(t, env.countOrders(t))
}

func TestOrderService_UpdateStatusPushesTracker(t *testing.T) {
	env, _, svc, customer, trackers := newPaypalFixture(t)
	ctx := context.Background()

	started, err := svc.CreateOrder(ctx, customer, "")
	require.NoError(t, err)
	result, err := svc.CaptureOrder(ctx, started.Token, customer.ID, "5O190127TN364715T")
	require.NoError(t, err)

	tracker := NewShipmentTracker(&mockPaypalClient{AddTrackerFunc: func(ctx context.Context, tr client.Tracker) error {
		*trackers = append(*trackers, tr)
		return nil
	}}, true, "DHL", env.logger)
	orders := NewOrderService(env.orders, tracker, env.logger)

	updated, err := orders.UpdateStatus(ctx, result.Order.ID, StatusUpdate{Status: model.OrderStatusShipped, Carrier: "FEDEX"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusShipped, updated.Status)
	assert.Equal(t, "FEDEX", updated.Carrier)

	require.Len(t, *trackers, 2)
	assert.Equal(t, "SHIPPED", (*trackers)[1].Status)
	assert.Equal(t, "FEDEX", (*trackers)[1].Carrier)

	_, err = orders.UpdateStatus(ctx, result.Order.ID, StatusUpdate{Status: "Lost"})
	assert.ErrorIs(t, err, ErrInvalidOrderStatus)

	_, err = orders.UpdateStatus(ctx, 999, StatusUpdate{Status: model.OrderStatusDelivered})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = orders.Get(ctx, result.Order.ID, customer.ID+1, false)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	got, err := orders.Get(ctx, result.Order.ID, customer.ID+1, true)
	require.NoError(t, err)
	assert.Equal(t, result.Order.ID, got.ID)
}
