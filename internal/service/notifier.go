package service

import (
	"context"
	"petshop-checkout/internal/client"
	"petshop-checkout/internal/model"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const notifyTimeout = 30 * time.Second

// RefundNotifier emails the customer after a refund is committed. Sending runs
// in the background and its failures are only logged.
type RefundNotifier struct {
	mailer client.Mailer
	logger *zap.Logger
	wait   func() // test hook, called when a send finishes
}

func NewRefundNotifier(mailer client.Mailer, logger *zap.Logger) *RefundNotifier {
	return &RefundNotifier{
		mailer: mailer,
		logger: logger.Named("notifier"),
	}
}

func (n *RefundNotifier) Notify(ctx context.Context, order *model.Order, refund *model.Refund, refundedToDate decimal.Decimal, lines []RefundPreviewLine) {
	if n == nil || n.mailer == nil || order.CustomerEmail == "" {
		return
	}

	names := make(map[uint]RefundPreviewLine, len(lines))
	for _, line := range lines {
		names[line.ProductID] = line
	}

	data := client.RefundEmail{
		InvoiceNumber:  order.InvoiceNumber,
		RefundID:       refund.ProviderRefundID,
		Currency:       refund.Currency,
		Amount:         refund.Amount.StringFixed(2),
		RefundedToDate: refundedToDate.StringFixed(2),
		Reason:         refund.Reason,
	}
	for _, item := range refund.Items {
		line := names[item.ProductID]
		data.Items = append(data.Items, client.RefundEmailItem{
			Name:      line.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}

	// detached from the request so an admin closing the page does not cancel it
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	go func() {
		defer cancel()
		if n.wait != nil {
			defer n.wait()
		}

		if err := n.mailer.SendRefundEmail(sendCtx, order.CustomerEmail, data); err != nil {
			n.logger.Warn("send refund email",
				zap.Uint("order_id", order.ID),
				zap.String("to", order.CustomerEmail),
				zap.Error(err),
			)
		}
	}()
}
