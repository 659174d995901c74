package handler

import (
	"errors"
	"net/http"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/repository"
	"petshop-checkout/internal/service"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type CartHandler struct {
	cartService service.CartService
	productRepo repository.ProductRepository
}

func NewCartHandler(cartService service.CartService, productRepo repository.ProductRepository) *CartHandler {
	return &CartHandler{
		cartService: cartService,
		productRepo: productRepo,
	}
}

func (h *CartHandler) ListProducts(c echo.Context) error {
	ctx := c.Request().Context()

	products, err := h.productRepo.List(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, products)
}

func (h *CartHandler) GetProduct(c echo.Context) error {
	ctx := c.Request().Context()

	productID, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	product, err := h.productRepo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return toHTTPError(service.ErrProductNotFound)
		}
		return err
	}

	return c.JSON(http.StatusOK, product)
}

func (h *CartHandler) GetCart(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	items, err := h.cartService.Items(ctx, customer.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}

func (h *CartHandler) AddItem(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	var req dto.CartItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.ProductID == 0 || req.Quantity <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "product_id and a positive quantity are required")
	}

	if err := h.cartService.Add(ctx, customer.ID, req.ProductID, req.Quantity); err != nil {
		return toHTTPError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) UpdateItem(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}
	productID, err := uintParam(c, "productID")
	if err != nil {
		return err
	}

	var req dto.CartQuantityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	if err := h.cartService.Update(ctx, customer.ID, productID, req.Quantity); err != nil {
		return toHTTPError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) RemoveItem(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}
	productID, err := uintParam(c, "productID")
	if err != nil {
		return err
	}

	if err := h.cartService.Remove(ctx, customer.ID, productID); err != nil {
		return toHTTPError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *CartHandler) ClearCart(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	if err := h.cartService.Clear(ctx, customer.ID); err != nil {
		return toHTTPError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// Summary prices the cart the same way checkout will.
func (h *CartHandler) Summary(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	snapshot, err := h.cartService.Snapshot(ctx, customer.ID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, snapshot)
}
