package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RefundType string

const (
	RefundTypeFullRestock   RefundType = "full_restock"
	RefundTypeFullNoRestock RefundType = "full_no_restock"
	RefundTypeCustom        RefundType = "custom"
)

// Refund rows are only written after the provider accepted the refund.
type Refund struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	OrderID           uint            `gorm:"index;not null" json:"order_id"`
	Provider          PaymentMethod   `gorm:"size:32;not null" json:"provider"`
	ProviderRefundID  string          `gorm:"size:255;index" json:"provider_refund_id"`
	ProviderCaptureID string          `gorm:"size:255;index" json:"provider_capture_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency          string          `gorm:"size:8;not null" json:"currency"`
	Status            string          `gorm:"size:32;not null" json:"status"`
	Reason            string          `gorm:"size:512" json:"reason"`
	ProviderPayload   datatypes.JSON  `json:"-"`
	Items             []RefundItem    `gorm:"foreignKey:RefundID" json:"items,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type RefundItem struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	RefundID        uint            `gorm:"index;not null" json:"refund_id"`
	OrderID         uint            `gorm:"index;not null" json:"order_id"`
	ProductID       uint            `gorm:"index;not null" json:"product_id"`
	Quantity        int             `gorm:"not null" json:"quantity"`
	RestockQuantity int             `gorm:"not null;default:0" json:"restock_quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
}
