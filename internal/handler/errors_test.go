package handler

import (
	"errors"
	"fmt"
	"net/http"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/service"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToHTTPError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "stock shortfall after payment needs reconciliation",
			err:     &service.ReconciliationError{Ref: model.PaymentRef{Method: model.PaymentMethodNets, NetsTxnRef: "ref"}, Err: fmt.Errorf("reserve: %w", service.ErrInsufficientStock)},
			status:  http.StatusInternalServerError,
			message: "Payment received but the order could not be created. Please contact support.",
		},
		{
			name:   "stock shortfall in cart",
			err:    fmt.Errorf("only 1 of Bed in stock: %w", service.ErrInsufficientStock),
			status: http.StatusConflict,
		},
		{
			name:    "empty cart",
			err:     service.ErrEmptyCart,
			status:  http.StatusBadRequest,
			message: "Your cart is empty.",
		},
		{
			name:    "expired checkout",
			err:     service.ErrPendingCheckoutExpired,
			status:  http.StatusConflict,
			message: "Checkout session expired. Please try again.",
		},
		{
			name:    "provider rejected refund",
			err:     fmt.Errorf("%w: %w", service.ErrProviderRefundRejected, &client.ProviderError{Provider: "paypal", StatusCode: 422, Message: "Capture already refunded"}),
			status:  http.StatusBadGateway,
			message: "Capture already refunded",
		},
		{
			name:   "invalid selection",
			err:    fmt.Errorf("nothing selected: %w", service.ErrInvalidRefundSelection),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:    "order not found",
			err:     service.ErrOrderNotFound,
			status:  http.StatusNotFound,
			message: "Order not found.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var he *echo.HTTPError
			require.True(t, errors.As(toHTTPError(tc.err), &he))
			assert.Equal(t, tc.status, he.Code)
			if tc.message != "" {
				assert.Equal(t, tc.message, he.Message)
			} else {
				assert.Equal(t, tc.err.Error(), he.Message)
			}
			assert.ErrorIs(t, he.Internal, tc.err)
		})
	}
}

func TestToHTTPError_PassesThroughUnknown(t *testing.T) {
	err := errors.New("db gone")
	assert.Same(t, err, toHTTPError(err))
	assert.NoError(t, toHTTPError(nil))
	assert.Equal(t, "Something went wrong. Please try again.", errorMessage(err))
}
