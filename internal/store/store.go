// Package store defines the persistence contract of the POS core. The
// Postgres implementation lives in internal/database, the in-memory one in
// internal/store/memstore.
package store

import (
	"context"
	"errors"
	"time"

	"pos-backend/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("record is not in the expected state")
	ErrRegisterOpen      = errors.New("user already has an open cash register")
)

type IdentifierKind string

const (
	KindIMEI   IdentifierKind = "imei"
	KindSerial IdentifierKind = "serial"
)

type UnitFilter struct {
	ProductID uint
	Status    models.UnitStatus
	IDs       []uint
	SaleID    uint
}

type AuditFilter struct {
	EntityType string
	EntityID   uint
	UserID     uint
	Limit      int
}

// SalesSummary is the per-register rollup of sale-type movements, split by
// category, plus manual income/expense.
type SalesSummary struct {
	RegisterID       uint            `json:"register_id"`
	SaleCount        int             `json:"sale_count"`
	SaleTotal        decimal.Decimal `json:"sale_total"`
	InstallmentCount int             `json:"installment_count"`
	InstallmentTotal decimal.Decimal `json:"installment_total"`
	IncomeTotal      decimal.Decimal `json:"income_total"`
	ExpenseTotal     decimal.Decimal `json:"expense_total"`
}

type Products interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id uint) (*models.Product, error)
	// AdjustStock applies delta to a non-serial product and returns the new
	// stock. A negative result fails with ErrInsufficientStock.
	AdjustStock(ctx context.Context, productID uint, delta int) (int, error)
}

type Units interface {
	// CreateUnits fails with ErrDuplicate when an IMEI or serial already exists.
	CreateUnits(ctx context.Context, units []*models.SerializedUnit) error
	FindUnitsByIdentifier(ctx context.Context, kind IdentifierKind, values []string) ([]models.SerializedUnit, error)
	ListUnits(ctx context.Context, f UnitFilter) ([]models.SerializedUnit, error)
	CountUnits(ctx context.Context, productID uint, status models.UnitStatus) (int, error)

	// ReserveUnits moves available units to reserved and returns how many
	// moved. Units in any other state are skipped.
	ReserveUnits(ctx context.Context, ids []uint, token string, until time.Time) (int, error)
	ReleaseReservation(ctx context.Context, token string) (int, error)
	// MarkUnitsSold only touches units reserved under token.
	MarkUnitsSold(ctx context.Context, ids []uint, token string, saleID, saleItemID uint, at time.Time) (int, error)
	RestoreSaleUnits(ctx context.Context, saleID uint) (int, error)
	ReleaseExpiredReservations(ctx context.Context, now time.Time) (int, error)
}

type Sales interface {
	CreateSale(ctx context.Context, s *models.Sale) error
	GetSale(ctx context.Context, id uint) (*models.Sale, error)
	FindSaleByIdempotencyKey(ctx context.Context, key string) (*models.Sale, error)
	UpdateSaleTotals(ctx context.Context, id uint, totalPaid decimal.Decimal, status models.PaymentStatus) error
	DeleteSale(ctx context.Context, id uint) error

	// CreateSaleItems inserts all items in one write, preserving order.
	CreateSaleItems(ctx context.Context, items []*models.SaleItem) error
	ListSaleItems(ctx context.Context, saleID uint) ([]models.SaleItem, error)
	DeleteSaleItems(ctx context.Context, saleID uint) error

	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdateInstallmentPayment(ctx context.Context, installmentID uint, amount decimal.Decimal) error
	DeleteInstallmentPayment(ctx context.Context, installmentID uint) error
	DeletePayments(ctx context.Context, saleID uint) error
}

type Customers interface {
	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id uint) (*models.Customer, error)
}

type Installments interface {
	CreateInstallment(ctx context.Context, i *models.PaymentInstallment) error
	GetInstallment(ctx context.Context, id uint) (*models.PaymentInstallment, error)
	UpdateInstallment(ctx context.Context, i *models.PaymentInstallment) error
	DeleteInstallment(ctx context.Context, id uint) error
	ListInstallments(ctx context.Context, saleID uint) ([]models.PaymentInstallment, error)
	DeleteInstallments(ctx context.Context, saleID uint) error
}

type Registers interface {
	// CreateRegister fails with ErrRegisterOpen if the user already has one.
	CreateRegister(ctx context.Context, r *models.CashRegister) error
	GetRegister(ctx context.Context, id uint) (*models.CashRegister, error)
	FindOpenRegister(ctx context.Context, userID uint) (*models.CashRegister, error)
	// CloseRegister persists the closing figures; ErrConflict if not open.
	CloseRegister(ctx context.Context, r *models.CashRegister) error
	AddRegisterSales(ctx context.Context, id uint, delta decimal.Decimal) error

	CreateMovement(ctx context.Context, m *models.CashMovement) error
	GetMovement(ctx context.Context, id uint) (*models.CashMovement, error)
	DeleteMovement(ctx context.Context, id uint) error
	ListMovements(ctx context.Context, registerID uint) ([]models.CashMovement, error)
	ListMovementsByReference(ctx context.Context, referenceID uint) ([]models.CashMovement, error)

	CreateRegisterSale(ctx context.Context, l *models.CashRegisterSale) error
	DeleteRegisterSale(ctx context.Context, id uint) error
	ListRegisterSales(ctx context.Context, saleID uint) ([]models.CashRegisterSale, error)
	DeleteRegisterSales(ctx context.Context, saleID uint) error

	RegisterSalesSummary(ctx context.Context, registerID uint) (SalesSummary, error)
}

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int, error)
}

type Audit interface {
	CreateAuditLog(ctx context.Context, l *models.AuditLog) error
	ListAuditLogs(ctx context.Context, f AuditFilter) ([]models.AuditLog, error)
}

type Store interface {
	Products
	Units
	Sales
	Customers
	Installments
	Registers
	Users
	Audit

	// WithTx runs fn atomically: either every write made through the Store
	// passed to fn persists, or none does.
	WithTx(ctx context.Context, fn func(Store) error) error
}

func IdentifierOf(u models.SerializedUnit, kind IdentifierKind) string {
	var p *string
	if kind == KindIMEI {
		p = u.IMEINumber
	} else {
		p = u.SerialNumber
	}
	if p == nil {
		return ""
	}
	return *p
}
