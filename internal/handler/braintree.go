package handler

import (
	"net/http"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/service"

	"github.com/labstack/echo/v4"
)

type BraintreeHandler struct {
	braintreeService service.BraintreeService
}

func NewBraintreeHandler(braintreeService service.BraintreeService) *BraintreeHandler {
	return &BraintreeHandler{
		braintreeService: braintreeService,
	}
}

func (h *BraintreeHandler) ProcessCheckout(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	var req dto.BraintreeCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}

	result, err := h.braintreeService.Checkout(ctx, customer, req.Nonce)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, orderResponse(result))
}
