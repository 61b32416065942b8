package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentInstallment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SaleID        uint            `gorm:"index;not null" json:"sale_id"`
	AmountPaid    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_paid"`
	PaymentDate   time.Time       `gorm:"not null" json:"payment_date"`
	PaymentMethod string          `gorm:"size:30;not null" json:"payment_method"`
	Notes         string          `gorm:"size:500" json:"notes"`
	CreatedBy     uint            `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Payment is the generic payment record kept per sale regardless of
// payment type. Installment payments mirror their installment id.
type Payment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SaleID        uint            `gorm:"index;not null" json:"sale_id"`
	InstallmentID *uint           `gorm:"index" json:"installment_id,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Method        string          `gorm:"size:30;not null" json:"method"`
	CreatedAt     time.Time       `json:"created_at"`
}
