package handler

import (
	"errors"
	"net/http"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/service"

	"github.com/labstack/echo/v4"
)

type errorMapping struct {
	target  error
	status  int
	message string
}

// ordered: reconciliation wraps stock errors and must match first
var errorMappings = []errorMapping{
	{service.ErrReconciliationRequired, http.StatusInternalServerError, "Payment received but the order could not be created. Please contact support."},
	{service.ErrAuthenticationRequired, http.StatusUnauthorized, "Please log in to continue."},
	{service.ErrEmptyCart, http.StatusBadRequest, "Your cart is empty."},
	{service.ErrProductNotFound, http.StatusNotFound, "Product not found."},
	{service.ErrOrderNotFound, http.StatusNotFound, "Order not found."},
	{service.ErrRefundNotFound, http.StatusNotFound, "Refund not found."},
	{service.ErrInsufficientStock, http.StatusConflict, ""},
	{service.ErrPendingCheckoutExpired, http.StatusConflict, "Checkout session expired. Please try again."},
	{service.ErrPaymentTimeout, http.StatusUnprocessableEntity, "Payment confirmation timed out."},
	{service.ErrPaymentNotConfirmed, http.StatusUnprocessableEntity, ""},
	{service.ErrInvalidWebhookSignature, http.StatusBadRequest, "Invalid signature."},
	{service.ErrInvalidOrderStatus, http.StatusUnprocessableEntity, ""},
	{service.ErrInvalidRefundSelection, http.StatusUnprocessableEntity, ""},
	{service.ErrUnsupportedPaymentMethod, http.StatusUnprocessableEntity, ""},
	{service.ErrNoRefundableBalance, http.StatusConflict, "This order has no refundable balance left."},
	{service.ErrRefundAmountExceedsBalance, http.StatusConflict, ""},
	{service.ErrProviderRefundRejected, http.StatusBadGateway, ""},
	{service.ErrProviderUnavailable, http.StatusBadGateway, "Payment provider is unavailable. Please try again."},
}

// toHTTPError maps service errors to user-facing responses. An empty mapping
// message means the error text itself is safe to show.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}

		message := m.message
		if message == "" {
			message = err.Error()
			var providerErr *client.ProviderError
			if errors.As(err, &providerErr) {
				message = providerErr.Message
			}
		}
		return echo.NewHTTPError(m.status, message).SetInternal(err)
	}

	return err
}

func errorMessage(err error) string {
	var httpErr *echo.HTTPError
	if errors.As(toHTTPError(err), &httpErr) {
		if msg, ok := httpErr.Message.(string); ok {
			return msg
		}
	}
	return "Something went wrong. Please try again."
}
