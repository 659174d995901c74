package handler

import (
	"fmt"
	"io"
	"net/http"
	"petshop-checkout/internal/service"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxWebhookBody = int64(65536)

type StripeHandler struct {
	stripeService service.StripeService
	checkoutTTL   time.Duration
	logger        *zap.Logger
}

func NewStripeHandler(stripeService service.StripeService, checkoutTTL time.Duration, logger *zap.Logger) *StripeHandler {
	return &StripeHandler{
		stripeService: stripeService,
		checkoutTTL:   checkoutTTL,
		logger:        logger,
	}
}

func (h *StripeHandler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	started, err := h.stripeService.CreateSession(ctx, customer, checkoutToken(c))
	if err != nil {
		return toHTTPError(err)
	}

	setCheckoutToken(c, started.Token, h.checkoutTTL)
	return c.JSON(http.StatusOK, started.Response)
}

func (h *StripeHandler) HandleSuccess(c echo.Context) error {
	ctx := c.Request().Context()

	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return c.String(http.StatusBadRequest, "missing session id")
	}

	result, err := h.stripeService.ConfirmSession(ctx, sessionID)
	if err != nil {
		return renderResult(c, http.StatusOK, resultPageData{
			Title:    "Payment not completed",
			Message:  errorMessage(err),
			Redirect: "/cart",
		})
	}

	clearCheckoutToken(c)
	return renderResult(c, http.StatusOK, resultPageData{
		Title:    "Payment approved",
		Message:  fmt.Sprintf("Thank you! Your order %s has been placed.", result.Order.InvoiceNumber),
		Redirect: "/orders",
	})
}

func (h *StripeHandler) HandleCancel(c echo.Context) error {
	return renderResult(c, http.StatusOK, resultPageData{
		Title:    "Payment cancelled",
		Message:  "Your payment was cancelled. Your cart has been kept.",
		Redirect: "/cart",
		Seconds:  5,
	})
}

func (h *StripeHandler) StripeWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}

	err = h.stripeService.HandleWebhook(ctx, body, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Error("handle stripe webhook", zap.Error(err))
		return toHTTPError(fmt.Errorf("handle webhook: %w", err))
	}

	return c.NoContent(http.StatusOK)
}
