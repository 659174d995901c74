package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"petshop-checkout/internal/service"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type NetsHandler struct {
	netsService service.NetsService
	checkoutTTL time.Duration
	logger      *zap.Logger
}

func NewNetsHandler(netsService service.NetsService, checkoutTTL time.Duration, logger *zap.Logger) *NetsHandler {
	return &NetsHandler{
		netsService: netsService,
		checkoutTTL: checkoutTTL,
		logger:      logger,
	}
}

func (h *NetsHandler) GenerateQR(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	started, err := h.netsService.RequestQR(ctx, customer, checkoutToken(c))
	if err != nil {
		return toHTTPError(err)
	}

	setCheckoutToken(c, started.Token, h.checkoutTTL)
	return c.JSON(http.StatusOK, started.Response)
}

// PaymentStatus streams poll results as server-sent events until the payment
// settles, times out or the client goes away.
func (h *NetsHandler) PaymentStatus(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}
	txnRef := c.Param("ref")

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	emit := func(event service.NetsEvent) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	err = h.netsService.WatchPayment(ctx, customer.ID, txnRef, emit)
	switch {
	case err == nil, errors.Is(err, service.ErrPaymentTimeout):
	case errors.Is(err, context.Canceled):
		h.logger.Debug("payment status stream closed by client", zap.String("txn_ref", txnRef))
	default:
		h.logger.Warn("payment status stream", zap.String("txn_ref", txnRef), zap.Error(err))
	}

	// the response is already committed
	return nil
}

func (h *NetsHandler) HandleSuccess(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	txnRef := c.QueryParam("txn_retrieval_ref")
	if txnRef == "" {
		return renderResult(c, http.StatusBadRequest, resultPageData{
			Title:    "Payment not completed",
			Message:  "Missing transaction reference.",
			Redirect: "/checkout",
		})
	}

	result, err := h.netsService.ConfirmPayment(ctx, checkoutToken(c), customer.ID, txnRef)
	if err != nil {
		return renderResult(c, http.StatusOK, resultPageData{
			Title:    "Transaction failed",
			Message:  errorMessage(err),
			Redirect: "/checkout",
		})
	}

	clearCheckoutToken(c)
	return renderResult(c, http.StatusOK, resultPageData{
		Title:    "Transaction successful",
		Message:  fmt.Sprintf("Thank you! Your order %s has been placed.", result.Order.InvoiceNumber),
		Redirect: "/orders",
	})
}

func (h *NetsHandler) HandleFail(c echo.Context) error {
	return renderResult(c, http.StatusOK, resultPageData{
		Title:    "Transaction failed",
		Message:  "Transaction Failed. Please try again.",
		Redirect: "/checkout",
		Seconds:  5,
	})
}
