package service

import (
	"context"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"
	"time"

	"go.uber.org/zap"
)

// ShipmentTracker mirrors order status to PayPal's tracking API. Failures are
// logged and never fail the caller.
type ShipmentTracker struct {
	paypalClient   client.PaypalClient
	enabled        bool
	defaultCarrier string
	logger         *zap.Logger
}

func NewShipmentTracker(paypalClient client.PaypalClient, enabled bool, defaultCarrier string, logger *zap.Logger) *ShipmentTracker {
	return &ShipmentTracker{
		paypalClient:   paypalClient,
		enabled:        enabled,
		defaultCarrier: defaultCarrier,
		logger:         logger,
	}
}

func paypalTrackingStatus(status model.OrderStatus) string {
	switch status {
	case model.OrderStatusShipped:
		return "SHIPPED"
	case model.OrderStatusInProcess:
		return "LOCAL_PICKUP"
	case model.OrderStatusDelivered:
		return "DELIVERED"
	default:
		return "ON_HOLD"
	}
}

// Push reports whether a tracker was sent.
func (t *ShipmentTracker) Push(ctx context.Context, order *model.Order) bool {
	if t == nil || !t.enabled || order.PaymentMethod != model.PaymentMethodPaypal {
		return false
	}
	captureID := order.RefundReference()
	if captureID == "" {
		return false
	}

	carrier := order.Carrier
	if carrier == "" {
		carrier = t.defaultCarrier
	}
	var shipmentDate time.Time
	if order.ShipmentDate != nil {
		shipmentDate = *order.ShipmentDate
	}

	err := t.paypalClient.AddTracker(ctx, client.Tracker{
		CaptureID:      captureID,
		Status:         paypalTrackingStatus(order.Status),
		TrackingNumber: order.InvoiceNumber,
		Carrier:        carrier,
		ShipmentDate:   shipmentDate,
	})
	if err != nil {
		t.logger.Warn("push paypal tracker",
			zap.Uint("order_id", order.ID),
			zap.String("capture_id", captureID),
			zap.Error(err),
		)
		return false
	}

	return true
}
