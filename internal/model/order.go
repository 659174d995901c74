package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusOnHold    OrderStatus = "On Hold"
	OrderStatusInProcess OrderStatus = "In Process"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOnHold, OrderStatusInProcess, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodPaypal    PaymentMethod = "paypal"
	PaymentMethodStripe    PaymentMethod = "stripe"
	PaymentMethodNets      PaymentMethod = "nets"
	PaymentMethodBraintree PaymentMethod = "braintree"
)

// Order is written once at finalization. Only Status, Carrier, ShipmentDate and
// RefundedAmount change afterwards.
type Order struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"index;not null" json:"user_id"`
	CustomerEmail  string          `gorm:"size:255" json:"customer_email"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tax_amount"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"refunded_amount"`
	Currency       string          `gorm:"size:8;not null" json:"currency"`
	InvoiceNumber  string          `gorm:"size:64;uniqueIndex;not null" json:"invoice_number"`
	Status         OrderStatus     `gorm:"size:32;index;not null" json:"status"`
	PaymentMethod  PaymentMethod   `gorm:"size:32;index;not null" json:"payment_method"`

	// provider correlation ids, only the paying provider's columns are set
	PaypalOrderID          *string `gorm:"column:paypal_order_id;size:64;index" json:"paypal_order_id,omitempty"`
	PaypalCaptureID        *string `gorm:"column:paypal_capture_id;size:64;uniqueIndex" json:"paypal_capture_id,omitempty"`
	StripeSessionID        *string `gorm:"column:stripe_session_id;size:255;uniqueIndex" json:"stripe_session_id,omitempty"`
	StripePaymentIntentID  *string `gorm:"column:stripe_payment_intent_id;size:255;index" json:"stripe_payment_intent_id,omitempty"`
	NetsTxnRef             *string `gorm:"column:nets_txn_ref;size:128;uniqueIndex" json:"nets_txn_ref,omitempty"`
	BraintreeTransactionID *string `gorm:"column:braintree_transaction_id;size:64;uniqueIndex" json:"braintree_transaction_id,omitempty"`

	Carrier      string     `gorm:"size:64" json:"carrier,omitempty"`
	ShipmentDate *time.Time `json:"shipment_date,omitempty"`

	Items     []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RefundReference is the provider id refunds are issued against.
func (o *Order) RefundReference() string {
	switch o.PaymentMethod {
	case PaymentMethodPaypal:
		return deref(o.PaypalCaptureID)
	case PaymentMethodStripe:
		return deref(o.StripePaymentIntentID)
	case PaymentMethodBraintree:
		return deref(o.BraintreeTransactionID)
	}
	return ""
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Total.Sub(o.RefundedAmount)
}

type OrderItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	OrderID     uint            `gorm:"index;not null" json:"order_id"`
	ProductID   uint            `gorm:"index;not null" json:"product_id"`
	ProductName string          `gorm:"size:255;not null" json:"product_name"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"line_total"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PaymentRef identifies a confirmed payment at one provider.
type PaymentRef struct {
	Method          PaymentMethod
	PaypalOrderID   string
	PaypalCaptureID string
	StripeSessionID string
	StripeIntentID  string
	NetsTxnRef      string
	BraintreeTxnID  string
}

// CorrelationID is the id finalization is deduplicated on.
func (p PaymentRef) CorrelationID() string {
	switch p.Method {
	case PaymentMethodPaypal:
		return p.PaypalCaptureID
	case PaymentMethodStripe:
		return p.StripeSessionID
	case PaymentMethodNets:
		return p.NetsTxnRef
	case PaymentMethodBraintree:
		return p.BraintreeTxnID
	}
	return ""
}

// Apply copies the provider ids onto order.
func (p PaymentRef) Apply(order *Order) {
	order.PaymentMethod = p.Method
	order.PaypalOrderID = ptr(p.PaypalOrderID)
	order.PaypalCaptureID = ptr(p.PaypalCaptureID)
	order.StripeSessionID = ptr(p.StripeSessionID)
	order.StripePaymentIntentID = ptr(p.StripeIntentID)
	order.NetsTxnRef = ptr(p.NetsTxnRef)
	order.BraintreeTransactionID = ptr(p.BraintreeTxnID)
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
