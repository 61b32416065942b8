package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RegisterStatus string

const (
	RegisterOpen   RegisterStatus = "open"
	RegisterClosed RegisterStatus = "closed"
)

// CashRegister is one cash-handling session of a user. At most one open
// register per user (ux_cash_registers_open_user).
type CashRegister struct {
	ID                    uint             `gorm:"primaryKey" json:"id"`
	UserID                uint             `gorm:"index;not null" json:"user_id"`
	Status                RegisterStatus   `gorm:"size:10;not null;default:'open'" json:"status"`
	OpeningAmount         decimal.Decimal  `gorm:"type:decimal(14,2);not null" json:"opening_amount"`
	TotalSales            decimal.Decimal  `gorm:"type:decimal(14,2);not null;default:0" json:"total_sales"`
	OpenedAt              time.Time        `gorm:"not null" json:"opened_at"`
	ClosedAt              *time.Time       `json:"closed_at,omitempty"`
	ExpectedClosingAmount *decimal.Decimal `gorm:"type:decimal(14,2)" json:"expected_closing_amount,omitempty"`
	ActualClosingAmount   *decimal.Decimal `gorm:"type:decimal(14,2)" json:"actual_closing_amount,omitempty"`
	DiscrepancyAmount     *decimal.Decimal `gorm:"type:decimal(14,2)" json:"discrepancy_amount,omitempty"`
	DiscrepancyReason     string           `gorm:"size:500" json:"discrepancy_reason,omitempty"`
	Notes                 string           `gorm:"size:500" json:"notes,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

type MovementType string

const (
	MovementIncome  MovementType = "income"
	MovementExpense MovementType = "expense"
	MovementSale    MovementType = "sale"
	MovementOpening MovementType = "opening"
	MovementClosing MovementType = "closing"
)

// UserDeletable reports whether a user may remove a movement of this type.
func (t MovementType) UserDeletable() bool {
	return t == MovementIncome || t == MovementExpense
}

// Categories of sale-type movements.
const (
	CategorySale        = "sale"
	CategoryInstallment = "installment"
	CategoryOpening     = "opening"
)

type CashMovement struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	CashRegisterID uint            `gorm:"index;not null" json:"cash_register_id"`
	Type           MovementType    `gorm:"size:20;not null" json:"type"`
	Category       string          `gorm:"size:50" json:"category"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Description    string          `gorm:"size:255" json:"description"`
	ReferenceID    *uint           `gorm:"index" json:"reference_id,omitempty"`
	CreatedBy      uint            `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CashRegisterSale links a sale to the register that received its cash.
type CashRegisterSale struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	CashRegisterID uint            `gorm:"index;not null" json:"cash_register_id"`
	SaleID         uint            `gorm:"index;not null" json:"sale_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}
