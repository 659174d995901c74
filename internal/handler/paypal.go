package handler

import (
	"fmt"
	"io"
	"net/http"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/service"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type PaypalHandler struct {
	paypalService service.PaypalService
	checkoutTTL   time.Duration
	logger        *zap.Logger
}

func NewPaypalHandler(paypalService service.PaypalService, checkoutTTL time.Duration, logger *zap.Logger) *PaypalHandler {
	return &PaypalHandler{
		paypalService: paypalService,
		checkoutTTL:   checkoutTTL,
		logger:        logger,
	}
}

func (h *PaypalHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	started, err := h.paypalService.CreateOrder(ctx, customer, checkoutToken(c))
	if err != nil {
		return toHTTPError(err)
	}

	setCheckoutToken(c, started.Token, h.checkoutTTL)
	return c.JSON(http.StatusOK, started.Response)
}

// Capture is the JS SDK flow: the browser approves and posts the order id.
func (h *PaypalHandler) Capture(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	var req dto.CaptureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.paypalService.CaptureOrder(ctx, checkoutToken(c), customer.ID, req.OrderID)
	if err != nil {
		return toHTTPError(err)
	}

	clearCheckoutToken(c)
	return c.JSON(http.StatusOK, orderResponse(result))
}

// HandleSuccess is PayPal's return_url; token is the PayPal order id.
func (h *PaypalHandler) HandleSuccess(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	orderID := c.QueryParam("token")
	if orderID == "" {
		return c.String(http.StatusBadRequest, "missing order token")
	}

	result, err := h.paypalService.CaptureOrder(ctx, checkoutToken(c), customer.ID, orderID)
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

func (h *PaypalHandler) PayPalWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.paypalService.HandleWebhook(ctx, c.Request().Header, body)
	if err != nil {
		h.logger.Error("handle paypal webhook", zap.Error(err))
		return toHTTPError(fmt.Errorf("handle webhook: %w", err))
	}

	return c.NoContent(http.StatusOK)
}

func orderResponse(result *service.FinalizeResult) *dto.OrderResponse {
	return &dto.OrderResponse{
		OrderID:       result.Order.ID,
		InvoiceNumber: result.Order.InvoiceNumber,
		Total:         result.Order.Total,
		Status:        string(result.Order.Status),
		Duplicate:     result.Duplicate,
	}
}
