package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Store is the Postgres implementation of store.Store. Conditional state
// transitions are single UPDATE statements, so row locks taken by Postgres
// make reservation and sale marking race-free without explicit locking.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	default:
		return err
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// -------------------------------------------------
// Products
// -------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	return translate(s.conn(ctx).Create(p).Error)
}

func (s *Store) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.conn(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID uint, delta int) (int, error) {
	res := s.conn(ctx).Model(&models.Product{}).
		Where("id = ? AND requires_imei_serial = ? AND stock + ? >= 0", productID, false, delta).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, translate(res.Error)
	}

	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	if res.RowsAffected == 0 {
		if p.RequiresIMEISerial {
			return 0, store.ErrConflict
		}
		return p.Stock, store.ErrInsufficientStock
	}
	return p.Stock, nil
}

// -------------------------------------------------
// Serialized units
// -------------------------------------------------

func identifierColumn(kind store.IdentifierKind) string {
	if kind == store.KindIMEI {
		return "imei_number"
	}
	return "serial_number"
}

func (s *Store) CreateUnits(ctx context.Context, units []*models.SerializedUnit) error {
	if len(units) == 0 {
		return nil
	}
	for _, u := range units {
		if u.Status == "" {
			u.Status = models.UnitAvailable
		}
	}
	return translate(s.conn(ctx).Create(&units).Error)
}

func (s *Store) FindUnitsByIdentifier(ctx context.Context, kind store.IdentifierKind, values []string) ([]models.SerializedUnit, error) {
	var units []models.SerializedUnit
	if len(values) == 0 {
		return units, nil
	}
	err := s.conn(ctx).
		Where(identifierColumn(kind)+" IN ?", values).
		Order("id asc").
		Find(&units).Error
	return units, translate(err)
}

func (s *Store) ListUnits(ctx context.Context, f store.UnitFilter) ([]models.SerializedUnit, error) {
	q := s.conn(ctx).Model(&models.SerializedUnit{})
	if f.ProductID != 0 {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.SaleID != 0 {
		q = q.Where("sale_id = ?", f.SaleID)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	var units []models.SerializedUnit
	err := q.Order("id asc").Find(&units).Error
	return units, translate(err)
}

func (s *Store) CountUnits(ctx context.Context, productID uint, status models.UnitStatus) (int, error) {
	var n int64
	err := s.conn(ctx).Model(&models.SerializedUnit{}).
		Where("product_id = ? AND status = ?", productID, status).
		Count(&n).Error
	return int(n), translate(err)
}

func (s *Store) ReserveUnits(ctx context.Context, ids []uint, token string, until time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.conn(ctx).Model(&models.SerializedUnit{}).
		Where("id IN ? AND status = ?", ids, models.UnitAvailable).
		Updates(map[string]any{
			"status":            models.UnitReserved,
			"reservation_token": token,
			"reserved_until":    until,
			"updated_at":        time.Now(),
		})
	return int(res.RowsAffected), translate(res.Error)
}

var availableColumns = map[string]any{
	"status":            models.UnitAvailable,
	"reservation_token": nil,
	"reserved_until":    nil,
}

func (s *Store) ReleaseReservation(ctx context.Context, token string) (int, error) {
	res := s.conn(ctx).Model(&models.SerializedUnit{}).
		Where("status = ? AND reservation_token = ?", models.UnitReserved, token).
		Updates(withUpdatedAt(availableColumns))
	return int(res.RowsAffected), translate(res.Error)
}

func (s *Store) MarkUnitsSold(ctx context.Context, ids []uint, token string, saleID, saleItemID uint, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.conn(ctx).Model(&models.SerializedUnit{}).
		Where("id IN ? AND status = ? AND reservation_token = ?", ids, models.UnitReserved, token).
		Updates(map[string]any{
			"status":            models.UnitSold,
			"sale_id":           saleID,
			"sale_item_id":      saleItemID,
			"sold_at":           at,
			"reservation_token": nil,
			"reserved_until":    nil,
			"updated_at":        time.Now(),
		})
	return int(res.RowsAffected), translate(res.Error)
}

func (s *Store) RestoreSaleUnits(ctx context.Context, saleID uint) (int, error) {
	cols := withUpdatedAt(availableColumns)
	cols["sale_id"] = nil
	cols["sale_item_id"] = nil
	cols["sold_at"] = nil
	res := s.conn(ctx).Model(&models.SerializedUnit{}).
		Where("sale_id = ?", saleID).
		Updates(cols)
	return int(res.RowsAffected), translate(res.Error)
}

func (s *Store) ReleaseExpiredReservations(ctx context.Context, now time.Time) (int, error) {
	res := s.conn(ctx).Model(&models.SerializedUnit{}).
		Where("status = ? AND reserved_until <= ?", models.UnitReserved, now).
		Updates(withUpdatedAt(availableColumns))
	return int(res.RowsAffected), translate(res.Error)
}

func withUpdatedAt(cols map[string]any) map[string]any {
	out := make(map[string]any, len(cols)+1)
	for k, v := range cols {
		out[k] = v
	}
	out["updated_at"] = time.Now()
	return out
}

// -------------------------------------------------
// Sales, items, payments
// -------------------------------------------------

func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	return translate(s.conn(ctx).Omit("Items").Create(sale).Error)
}

func (s *Store) GetSale(ctx context.Context, id uint) (*models.Sale, error) {
	var sale models.Sale
	if err := s.conn(ctx).First(&sale, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sale, nil
}

func (s *Store) FindSaleByIdempotencyKey(ctx context.Context, key string) (*models.Sale, error) {
	var sale models.Sale
	if err := s.conn(ctx).First(&sale, "idempotency_key = ?", key).Error; err != nil {
		return nil, translate(err)
	}
	return &sale, nil
}

func (s *Store) UpdateSaleTotals(ctx context.Context, id uint, totalPaid decimal.Decimal, status models.PaymentStatus) error {
	res := s.conn(ctx).Model(&models.Sale{}).Where("id = ?", id).Updates(map[string]any{
		"total_paid":     totalPaid,
		"payment_status": status,
		"updated_at":     time.Now(),
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSale(ctx context.Context, id uint) error {
	res := s.conn(ctx).Delete(&models.Sale{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSaleItems(ctx context.Context, items []*models.SaleItem) error {
	if len(items) == 0 {
		return nil
	}
	return translate(s.conn(ctx).Create(&items).Error)
}

func (s *Store) ListSaleItems(ctx context.Context, saleID uint) ([]models.SaleItem, error) {
	var items []models.SaleItem
	err := s.conn(ctx).Where("sale_id = ?", saleID).Order("position asc, id asc").Find(&items).Error
	return items, translate(err)
}

func (s *Store) DeleteSaleItems(ctx context.Context, saleID uint) error {
	return translate(s.conn(ctx).Delete(&models.SaleItem{}, "sale_id = ?", saleID).Error)
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	return translate(s.conn(ctx).Create(p).Error)
}

func (s *Store) UpdateInstallmentPayment(ctx context.Context, installmentID uint, amount decimal.Decimal) error {
	return translate(s.conn(ctx).Model(&models.Payment{}).
		Where("installment_id = ?", installmentID).
		Update("amount", amount).Error)
}

func (s *Store) DeleteInstallmentPayment(ctx context.Context, installmentID uint) error {
	return translate(s.conn(ctx).Delete(&models.Payment{}, "installment_id = ?", installmentID).Error)
}

func (s *Store) DeletePayments(ctx context.Context, saleID uint) error {
	return translate(s.conn(ctx).Delete(&models.Payment{}, "sale_id = ?", saleID).Error)
}

func (s *Store) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return translate(s.conn(ctx).Create(c).Error)
}

func (s *Store) GetCustomer(ctx context.Context, id uint) (*models.Customer, error) {
	var c models.Customer
	if err := s.conn(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// -------------------------------------------------
// Installments
// -------------------------------------------------

func (s *Store) CreateInstallment(ctx context.Context, i *models.PaymentInstallment) error {
	return translate(s.conn(ctx).Create(i).Error)
}

func (s *Store) GetInstallment(ctx context.Context, id uint) (*models.PaymentInstallment, error) {
	var i models.PaymentInstallment
	if err := s.conn(ctx).First(&i, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &i, nil
}

func (s *Store) UpdateInstallment(ctx context.Context, i *models.PaymentInstallment) error {
	res := s.conn(ctx).Model(&models.PaymentInstallment{}).Where("id = ?", i.ID).Updates(map[string]any{
		"amount_paid":    i.AmountPaid,
		"payment_method": i.PaymentMethod,
		"notes":          i.Notes,
		"updated_at":     time.Now(),
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteInstallment(ctx context.Context, id uint) error {
	res := s.conn(ctx).Delete(&models.PaymentInstallment{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListInstallments(ctx context.Context, saleID uint) ([]models.PaymentInstallment, error) {
	var list []models.PaymentInstallment
	err := s.conn(ctx).Where("sale_id = ?", saleID).Order("payment_date asc, id asc").Find(&list).Error
	return list, translate(err)
}

func (s *Store) DeleteInstallments(ctx context.Context, saleID uint) error {
	return translate(s.conn(ctx).Delete(&models.PaymentInstallment{}, "sale_id = ?", saleID).Error)
}

// -------------------------------------------------
// Cash registers
// -------------------------------------------------

func (s *Store) CreateRegister(ctx context.Context, r *models.CashRegister) error {
	err := translate(s.conn(ctx).Create(r).Error)
	if errors.Is(err, store.ErrDuplicate) {
		return store.ErrRegisterOpen
	}
	return err
}

func (s *Store) GetRegister(ctx context.Context, id uint) (*models.CashRegister, error) {
	var r models.CashRegister
	if err := s.conn(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Store) FindOpenRegister(ctx context.Context, userID uint) (*models.CashRegister, error) {
	var r models.CashRegister
	err := s.conn(ctx).
		Where("user_id = ? AND status = ?", userID, models.RegisterOpen).
		Order("opened_at desc").
		First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Store) CloseRegister(ctx context.Context, r *models.CashRegister) error {
	res := s.conn(ctx).Model(&models.CashRegister{}).
		Where("id = ? AND status = ?", r.ID, models.RegisterOpen).
		Updates(map[string]any{
			"status":                  models.RegisterClosed,
			"closed_at":               r.ClosedAt,
			"expected_closing_amount": r.ExpectedClosingAmount,
			"actual_closing_amount":   r.ActualClosingAmount,
			"discrepancy_amount":      r.DiscrepancyAmount,
			"discrepancy_reason":      r.DiscrepancyReason,
			"notes":                   r.Notes,
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetRegister(ctx, r.ID); err != nil {
			return err
		}
		return store.ErrConflict
	}
	closed, err := s.GetRegister(ctx, r.ID)
	if err != nil {
		return err
	}
	*r = *closed
	return nil
}

func (s *Store) AddRegisterSales(ctx context.Context, id uint, delta decimal.Decimal) error {
	res := s.conn(ctx).Model(&models.CashRegister{}).
		Where("id = ? AND status = ?", id, models.RegisterOpen).
		Updates(map[string]any{
			"total_sales": gorm.Expr("total_sales + ?", delta),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) CreateMovement(ctx context.Context, m *models.CashMovement) error {
	return translate(s.conn(ctx).Create(m).Error)
}

func (s *Store) GetMovement(ctx context.Context, id uint) (*models.CashMovement, error) {
	var m models.CashMovement
	if err := s.conn(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *Store) DeleteMovement(ctx context.Context, id uint) error {
	res := s.conn(ctx).Delete(&models.CashMovement{}, "id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, registerID uint) ([]models.CashMovement, error) {
	var movs []models.CashMovement
	err := s.conn(ctx).Where("cash_register_id = ?", registerID).Order("created_at asc, id asc").Find(&movs).Error
	return movs, translate(err)
}

func (s *Store) ListMovementsByReference(ctx context.Context, referenceID uint) ([]models.CashMovement, error) {
	var movs []models.CashMovement
	err := s.conn(ctx).Where("reference_id = ?", referenceID).Order("id asc").Find(&movs).Error
	return movs, translate(err)
}

func (s *Store) CreateRegisterSale(ctx context.Context, l *models.CashRegisterSale) error {
	return translate(s.conn(ctx).Create(l).Error)
}

func (s *Store) DeleteRegisterSale(ctx context.Context, id uint) error {
	return translate(s.conn(ctx).Delete(&models.CashRegisterSale{}, "id = ?", id).Error)
}

func (s *Store) ListRegisterSales(ctx context.Context, saleID uint) ([]models.CashRegisterSale, error) {
	var links []models.CashRegisterSale
	err := s.conn(ctx).Where("sale_id = ?", saleID).Order("id asc").Find(&links).Error
	return links, translate(err)
}

func (s *Store) DeleteRegisterSales(ctx context.Context, saleID uint) error {
	return translate(s.conn(ctx).Delete(&models.CashRegisterSale{}, "sale_id = ?", saleID).Error)
}

func (s *Store) RegisterSalesSummary(ctx context.Context, registerID uint) (store.SalesSummary, error) {
	type row struct {
		SaleCount        int             `gorm:"column:sale_count"`
		SaleTotal        decimal.Decimal `gorm:"column:sale_total"`
		InstallmentCount int             `gorm:"column:installment_count"`
		InstallmentTotal decimal.Decimal `gorm:"column:installment_total"`
		IncomeTotal      decimal.Decimal `gorm:"column:income_total"`
		ExpenseTotal     decimal.Decimal `gorm:"column:expense_total"`
	}
	var r row
	if err := s.conn(ctx).Raw("SELECT * FROM get_cash_register_sales_summary(?)", registerID).Scan(&r).Error; err != nil {
		return store.SalesSummary{}, translate(err)
	}
	return store.SalesSummary{
		RegisterID:       registerID,
		SaleCount:        r.SaleCount,
		SaleTotal:        r.SaleTotal,
		InstallmentCount: r.InstallmentCount,
		InstallmentTotal: r.InstallmentTotal,
		IncomeTotal:      r.IncomeTotal,
		ExpenseTotal:     r.ExpenseTotal,
	}, nil
}

// -------------------------------------------------
// Users, audit
// -------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return translate(s.conn(ctx).Create(u).Error)
}

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.conn(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.conn(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int64
	err := s.conn(ctx).Model(&models.User{}).Count(&n).Error
	return int(n), translate(err)
}

func (s *Store) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	return translate(s.conn(ctx).Create(l).Error)
}

func (s *Store) ListAuditLogs(ctx context.Context, f store.AuditFilter) ([]models.AuditLog, error) {
	q := s.conn(ctx).Model(&models.AuditLog{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != 0 {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var logs []models.AuditLog
	err := q.Order("created_at desc, id desc").Find(&logs).Error
	return logs, translate(err)
}
