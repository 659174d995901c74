package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItemRequest struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

type CartQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// CheckoutResponse is returned when a provider checkout has been started.
type CheckoutResponse struct {
	InvoiceNumber string          `json:"invoice_number"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	OrderID       string          `json:"order_id,omitempty"`
	ApprovalURL   string          `json:"approval_url,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	RedirectURL   string          `json:"redirect_url,omitempty"`
	QRCode        string          `json:"qr_code,omitempty"`
	TxnRef        string          `json:"txn_retrieval_ref,omitempty"`
}

type CaptureRequest struct {
	OrderID string `json:"order_id"`
}

type BraintreeCheckoutRequest struct {
	Nonce string `json:"nonce"`
}

type OrderResponse struct {
	OrderID       uint            `json:"order_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
	Duplicate     bool            `json:"duplicate"`
}

type RefundLineRequest struct {
	ProductID    uint `json:"product_id"`
	RestockQty   int  `json:"restock_qty"`
	NoRestockQty int  `json:"no_restock_qty"`
}

type RefundRequest struct {
	RefundType string              `json:"refund_type"`
	Reason     string              `json:"reason"`
	Lines      []RefundLineRequest `json:"lines"`
}

type RefundResponse struct {
	RefundID         uint            `json:"refund_id,omitempty"`
	ProviderRefundID string          `json:"provider_refund_id"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Warnings         []string        `json:"warnings,omitempty"`
}

// RefundErrorResponse echoes the attempted request so the form can be refilled.
type RefundErrorResponse struct {
	Message string        `json:"message"`
	Request RefundRequest `json:"request"`
}

type UpdateStatusRequest struct {
	Status       string     `json:"status"`
	Carrier      string     `json:"carrier"`
	ShipmentDate *time.Time `json:"shipment_date"`
}
