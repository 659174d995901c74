package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type SnapshotItem struct {
	ProductID uint            `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Summary amounts are exact. Rounding happens when they are persisted or shown.
type Summary struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

type CartSnapshot struct {
	Items   []SnapshotItem `json:"items"`
	Summary Summary        `json:"summary"`
}

// PendingCheckout holds a priced cart between starting a checkout and the
// provider confirming payment. It is addressed by a server-issued token.
type PendingCheckout struct {
	Token         string                           `gorm:"primaryKey;size:64"`
	UserID        uint                             `gorm:"index;not null"`
	Email         string                           `gorm:"size:255"`
	PaymentMethod PaymentMethod                    `gorm:"size:32;not null"`
	ProviderRef   string                           `gorm:"size:255;index"`
	InvoiceNumber string                           `gorm:"size:64;not null"`
	Snapshot      datatypes.JSONType[CartSnapshot] `gorm:"not null"`
	ExpiresAt     time.Time                        `gorm:"index;not null"`
	// FailedAt is set when payment was taken but the order could not be
	// created. Flagged rows are kept for manual reconciliation.
	FailedAt  *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *PendingCheckout) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

func (p *PendingCheckout) Failed() bool {
	return p.FailedAt != nil
}
