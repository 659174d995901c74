package handler

import (
	"errors"
	"net/http"
	"petshop-checkout/internal/dto"
	"petshop-checkout/internal/model"
	"petshop-checkout/internal/service"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type RefundHandler struct {
	refundService service.RefundService
	logger        *zap.Logger
}

func NewRefundHandler(refundService service.RefundService, logger *zap.Logger) *RefundHandler {
	return &RefundHandler{
		refundService: refundService,
		logger:        logger,
	}
}

func (h *RefundHandler) Preview(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	preview, err := h.refundService.Preview(ctx, orderID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, preview)
}

// CreateRefund answers 207 when the provider refunded but a local write
// failed, so the admin can tell it apart from both success and failure.
func (h *RefundHandler) CreateRefund(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req dto.RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	lines := make([]service.RefundLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, service.RefundLine{
			ProductID:    line.ProductID,
			RestockQty:   line.RestockQty,
			NoRestockQty: line.NoRestockQty,
		})
	}

	outcome, err := h.refundService.Refund(ctx, orderID, service.RefundRequest{
		Type:   model.RefundType(req.RefundType),
		Reason: req.Reason,
		Lines:  lines,
	})

	var persistErr *service.PersistenceError
	switch {
	case errors.As(err, &persistErr):
		h.logger.Error("refund needs reconciliation",
			zap.Uint("order_id", orderID),
			zap.String("stage", persistErr.Stage),
			zap.Error(err),
		)
		resp := refundResponse(outcome)
		resp.Warnings = append(resp.Warnings, persistErr.Message)
		return c.JSON(http.StatusMultiStatus, resp)

	case err != nil:
		httpErr := toHTTPError(err)
		var he *echo.HTTPError
		if errors.As(httpErr, &he) {
			return c.JSON(he.Code, dto.RefundErrorResponse{
				Message: errorMessage(err),
				Request: req,
			})
		}
		return httpErr
	}

	return c.JSON(http.StatusCreated, refundResponse(outcome))
}

func (h *RefundHandler) ListRefunds(c echo.Context) error {
	ctx := c.Request().Context()

	refunds, err := h.refundService.List(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, refunds)
}

func (h *RefundHandler) ListMyRefunds(c echo.Context) error {
	ctx := c.Request().Context()

	customer, err := currentCustomer(c)
	if err != nil {
		return err
	}

	refunds, err := h.refundService.ListForUser(ctx, customer.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, refunds)
}

func (h *RefundHandler) GetRefund(c echo.Context) error {
	ctx := c.Request().Context()

	refundID, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	detail, err := h.refundService.Detail(ctx, refundID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, detail)
}

func refundResponse(outcome *service.RefundOutcome) *dto.RefundResponse {
	resp := &dto.RefundResponse{}
	if outcome == nil || outcome.Refund == nil {
		return resp
	}

	resp.RefundID = outcome.Refund.ID
	resp.ProviderRefundID = outcome.Refund.ProviderRefundID
	resp.Status = outcome.Refund.Status
	resp.Amount = outcome.Refund.Amount
	resp.Currency = outcome.Refund.Currency
	resp.Warnings = append(resp.Warnings, outcome.Warnings...)
	return resp
}
