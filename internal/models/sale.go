package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeCash        PaymentType = "cash"
	PaymentTypeInstallment PaymentType = "installment"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

type Sale struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	IdempotencyKey *string         `gorm:"size:64;uniqueIndex" json:"idempotency_key,omitempty"`
	CustomerID     *uint           `gorm:"index" json:"customer_id,omitempty"`
	UserID         uint            `gorm:"index;not null" json:"user_id"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"subtotal"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"discount_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_amount"`
	PaymentType    PaymentType     `gorm:"size:20;not null" json:"payment_type"`
	TotalPaid      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_paid"`
	PaymentStatus  PaymentStatus   `gorm:"size:20;not null" json:"payment_status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Items []SaleItem `gorm:"foreignKey:SaleID" json:"items,omitempty"`
}

// SaleItem is immutable once created; it only disappears with its sale.
type SaleItem struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	SaleID     uint            `gorm:"index;not null" json:"sale_id"`
	ProductID  uint            `gorm:"index;not null" json:"product_id"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"unit_price"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_price"`
	Position   int             `gorm:"not null;default:0" json:"position"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DerivePaymentStatus is the single definition of the sale payment invariant:
// paid iff paid >= total, partial iff 0 < paid < total, otherwise pending.
func DerivePaymentStatus(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	case paid.IsPositive():
		return PaymentPartial
	default:
		return PaymentPending
	}
}

// Remaining is the unpaid balance, never negative.
func (s Sale) Remaining() decimal.Decimal {
	r := s.TotalAmount.Sub(s.TotalPaid)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}
