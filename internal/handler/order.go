package handler

import (
	"net/http"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/middleware"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	orderService service.OrderService
}

func NewOrderHandler(orderService service.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	orders, err := h.orderService.ListForUser(ctx, customer.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) ListAllOrders(c echo.Context) error {
	ctx := c.Request().Context()

	orders, err := h.orderService.ListAll(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()

	identity, _ := middleware.CurrentIdentity(c)
	orderID, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	order, err := h.orderService.Get(ctx, orderID, identity.UserID, identity.IsAdmin())
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) UpdateStatus(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req dto.UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	order, err := h.orderService.UpdateStatus(ctx, orderID, service.StatusUpdate{
		Status:       model.OrderStatus(req.Status),
		Carrier:      req.Carrier,
		ShipmentDate: req.ShipmentDate,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, order)
}
