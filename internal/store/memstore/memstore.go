// Package memstore is an in-memory store.Store used by tests and the demo
// mode. Every method is atomic under one mutex; WithTx snapshots the data and
// restores it when fn fails.
package memstore

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/shopspring/decimal"
)

type data struct {
	seq uint

	products      map[uint]models.Product
	units         map[uint]models.SerializedUnit
	sales         map[uint]models.Sale
	items         map[uint]models.SaleItem
	payments      map[uint]models.Payment
	customers     map[uint]models.Customer
	installments  map[uint]models.PaymentInstallment
	registers     map[uint]models.CashRegister
	movements     map[uint]models.CashMovement
	registerSales map[uint]models.CashRegisterSale
	users         map[uint]models.User
	audit         map[uint]models.AuditLog
}

func newData() *data {
	return &data{
		products:      map[uint]models.Product{},
		units:         map[uint]models.SerializedUnit{},
		sales:         map[uint]models.Sale{},
		items:         map[uint]models.SaleItem{},
		payments:      map[uint]models.Payment{},
		customers:     map[uint]models.Customer{},
		installments:  map[uint]models.PaymentInstallment{},
		registers:     map[uint]models.CashRegister{},
		movements:     map[uint]models.CashMovement{},
		registerSales: map[uint]models.CashRegisterSale{},
		users:         map[uint]models.User{},
		audit:         map[uint]models.AuditLog{},
	}
}

func (d *data) clone() data {
	return data{
		seq:           d.seq,
		products:      maps.Clone(d.products),
		units:         maps.Clone(d.units),
		sales:         maps.Clone(d.sales),
		items:         maps.Clone(d.items),
		payments:      maps.Clone(d.payments),
		customers:     maps.Clone(d.customers),
		installments:  maps.Clone(d.installments),
		registers:     maps.Clone(d.registers),
		movements:     maps.Clone(d.movements),
		registerSales: maps.Clone(d.registerSales),
		users:         maps.Clone(d.users),
		audit:         maps.Clone(d.audit),
	}
}

func (d *data) nextID() uint {
	d.seq++
	return d.seq
}

type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
	now  func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{mu: &sync.Mutex{}, d: newData(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	tx := &Store{mu: s.mu, d: s.d, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.d = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		*s.d = snapshot
		return err
	}
	return nil
}

func sortedValues[T any](m map[uint]T, keep func(T) bool) []T {
	ids := slices.Sorted(maps.Keys(m))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v := m[id]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// -------------------------------------------------
// Products
// -------------------------------------------------

func (s *Store) CreateProduct(_ context.Context, p *models.Product) error {
	defer s.lock()()
	p.ID = s.d.nextID()
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.d.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(_ context.Context, id uint) (*models.Product, error) {
	defer s.lock()()
	p, ok := s.d.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) AdjustStock(_ context.Context, productID uint, delta int) (int, error) {
	defer s.lock()()
	p, ok := s.d.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if p.RequiresIMEISerial {
		return 0, store.ErrConflict
	}
	if p.Stock+delta < 0 {
		return p.Stock, store.ErrInsufficientStock
	}
	p.Stock += delta
	p.UpdatedAt = s.now()
	s.d.products[productID] = p
	return p.Stock, nil
}

// -------------------------------------------------
// Serialized units
// -------------------------------------------------

func (s *Store) CreateUnits(_ context.Context, units []*models.SerializedUnit) error {
	defer s.lock()()
	seen := map[string]bool{}
	for _, existing := range s.d.units {
		for _, kind := range []store.IdentifierKind{store.KindIMEI, store.KindSerial} {
			if v := store.IdentifierOf(existing, kind); v != "" {
				seen[string(kind)+":"+v] = true
			}
		}
	}
	for _, u := range units {
		for _, kind := range []store.IdentifierKind{store.KindIMEI, store.KindSerial} {
			v := store.IdentifierOf(*u, kind)
			if v == "" {
				continue
			}
			key := string(kind) + ":" + v
			if seen[key] {
				return store.ErrDuplicate
			}
			seen[key] = true
		}
	}
	now := s.now()
	for _, u := range units {
		u.ID = s.d.nextID()
		if u.Status == "" {
			u.Status = models.UnitAvailable
		}
		u.CreatedAt = now
		u.UpdatedAt = now
		s.d.units[u.ID] = *u
	}
	return nil
}

func (s *Store) FindUnitsByIdentifier(_ context.Context, kind store.IdentifierKind, values []string) ([]models.SerializedUnit, error) {
	defer s.lock()()
	want := map[string]bool{}
	for _, v := range values {
		want[v] = true
	}
	return sortedValues(s.d.units, func(u models.SerializedUnit) bool {
		v := store.IdentifierOf(u, kind)
		return v != "" && want[v]
	}), nil
}

func (s *Store) ListUnits(_ context.Context, f store.UnitFilter) ([]models.SerializedUnit, error) {
	defer s.lock()()
	return sortedValues(s.d.units, func(u models.SerializedUnit) bool {
		if f.ProductID != 0 && u.ProductID != f.ProductID {
			return false
		}
		if f.Status != "" && u.Status != f.Status {
			return false
		}
		if f.SaleID != 0 && (u.SaleID == nil || *u.SaleID != f.SaleID) {
			return false
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, u.ID) {
			return false
		}
		return true
	}), nil
}

func (s *Store) CountUnits(_ context.Context, productID uint, status models.UnitStatus) (int, error) {
	defer s.lock()()
	n := 0
	for _, u := range s.d.units {
		if u.ProductID == productID && u.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) updateUnits(match func(models.SerializedUnit) bool, apply func(*models.SerializedUnit)) int {
	n := 0
	now := s.now()
	for id, u := range s.d.units {
		if !match(u) {
			continue
		}
		apply(&u)
		u.UpdatedAt = now
		s.d.units[id] = u
		n++
	}
	return n
}

func toAvailable(u *models.SerializedUnit) {
	u.Status = models.UnitAvailable
	u.ReservationToken = nil
	u.ReservedUntil = nil
}

func (s *Store) ReserveUnits(_ context.Context, ids []uint, token string, until time.Time) (int, error) {
	defer s.lock()()
	return s.updateUnits(func(u models.SerializedUnit) bool {
		return u.Status == models.UnitAvailable && slices.Contains(ids, u.ID)
	}, func(u *models.SerializedUnit) {
		u.Status = models.UnitReserved
		u.ReservationToken = &token
		u.ReservedUntil = &until
	}), nil
}

func (s *Store) ReleaseReservation(_ context.Context, token string) (int, error) {
	defer s.lock()()
	return s.updateUnits(func(u models.SerializedUnit) bool {
		return u.Status == models.UnitReserved && u.ReservationToken != nil && *u.ReservationToken == token
	}, toAvailable), nil
}

func (s *Store) MarkUnitsSold(_ context.Context, ids []uint, token string, saleID, saleItemID uint, at time.Time) (int, error) {
	defer s.lock()()
	return s.updateUnits(func(u models.SerializedUnit) bool {
		return u.Status == models.UnitReserved && u.ReservationToken != nil &&
			*u.ReservationToken == token && slices.Contains(ids, u.ID)
	}, func(u *models.SerializedUnit) {
		u.Status = models.UnitSold
		u.SaleID = &saleID
		u.SaleItemID = &saleItemID
		u.SoldAt = &at
		u.ReservationToken = nil
		u.ReservedUntil = nil
	}), nil
}

func (s *Store) RestoreSaleUnits(_ context.Context, saleID uint) (int, error) {
	defer s.lock()()
	return s.updateUnits(func(u models.SerializedUnit) bool {
		return u.SaleID != nil && *u.SaleID == saleID
	}, func(u *models.SerializedUnit) {
		toAvailable(u)
		u.SaleID = nil
		u.SaleItemID = nil
		u.SoldAt = nil
	}), nil
}

func (s *Store) ReleaseExpiredReservations(_ context.Context, now time.Time) (int, error) {
	defer s.lock()()
	return s.updateUnits(func(u models.SerializedUnit) bool {
		return u.Status == models.UnitReserved && u.ReservedUntil != nil && !u.ReservedUntil.After(now)
	}, toAvailable), nil
}

// -------------------------------------------------
// Sales, items, payments
// -------------------------------------------------

func (s *Store) CreateSale(_ context.Context, sale *models.Sale) error {
	defer s.lock()()
	if sale.IdempotencyKey != nil {
		for _, existing := range s.d.sales {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *sale.IdempotencyKey {
				return store.ErrDuplicate
			}
		}
	}
	sale.ID = s.d.nextID()
	sale.CreatedAt = s.now()
	sale.UpdatedAt = sale.CreatedAt
	stored := *sale
	stored.Items = nil
	s.d.sales[sale.ID] = stored
	return nil
}

func (s *Store) GetSale(_ context.Context, id uint) (*models.Sale, error) {
	defer s.lock()()
	sale, ok := s.d.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) FindSaleByIdempotencyKey(_ context.Context, key string) (*models.Sale, error) {
	defer s.lock()()
	for _, sale := range s.d.sales {
		if sale.IdempotencyKey != nil && *sale.IdempotencyKey == key {
			return &sale, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateSaleTotals(_ context.Context, id uint, totalPaid decimal.Decimal, status models.PaymentStatus) error {
	defer s.lock()()
	sale, ok := s.d.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	sale.TotalPaid = totalPaid
	sale.PaymentStatus = status
	sale.UpdatedAt = s.now()
	s.d.sales[id] = sale
	return nil
}

func (s *Store) DeleteSale(_ context.Context, id uint) error {
	defer s.lock()()
	if _, ok := s.d.sales[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.d.sales, id)
	return nil
}

func (s *Store) CreateSaleItems(_ context.Context, items []*models.SaleItem) error {
	defer s.lock()()
	now := s.now()
	for _, it := range items {
		it.ID = s.d.nextID()
		it.CreatedAt = now
		s.d.items[it.ID] = *it
	}
	return nil
}

func (s *Store) ListSaleItems(_ context.Context, saleID uint) ([]models.SaleItem, error) {
	defer s.lock()()
	return sortedValues(s.d.items, func(it models.SaleItem) bool { return it.SaleID == saleID }), nil
}

func (s *Store) DeleteSaleItems(_ context.Context, saleID uint) error {
	defer s.lock()()
	maps.DeleteFunc(s.d.items, func(_ uint, it models.SaleItem) bool { return it.SaleID == saleID })
	return nil
}

func (s *Store) CreatePayment(_ context.Context, p *models.Payment) error {
	defer s.lock()()
	p.ID = s.d.nextID()
	p.CreatedAt = s.now()
	s.d.payments[p.ID] = *p
	return nil
}

func (s *Store) UpdateInstallmentPayment(_ context.Context, installmentID uint, amount decimal.Decimal) error {
	defer s.lock()()
	for id, p := range s.d.payments {
		if p.InstallmentID != nil && *p.InstallmentID == installmentID {
			p.Amount = amount
			s.d.payments[id] = p
		}
	}
	return nil
}

func (s *Store) DeleteInstallmentPayment(_ context.Context, installmentID uint) error {
	defer s.lock()()
	maps.DeleteFunc(s.d.payments, func(_ uint, p models.Payment) bool {
		return p.InstallmentID != nil && *p.InstallmentID == installmentID
	})
	return nil
}

func (s *Store) DeletePayments(_ context.Context, saleID uint) error {
	defer s.lock()()
	maps.DeleteFunc(s.d.payments, func(_ uint, p models.Payment) bool { return p.SaleID == saleID })
	return nil
}

// Payments lists generic payment rows of a sale; test helper.
func (s *Store) Payments(saleID uint) []models.Payment {
	defer s.lock()()
	return sortedValues(s.d.payments, func(p models.Payment) bool { return p.SaleID == saleID })
}

func (s *Store) CreateCustomer(_ context.Context, c *models.Customer) error {
	defer s.lock()()
	c.ID = s.d.nextID()
	c.CreatedAt = s.now()
	s.d.customers[c.ID] = *c
	return nil
}

func (s *Store) GetCustomer(_ context.Context, id uint) (*models.Customer, error) {
	defer s.lock()()
	c, ok := s.d.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// -------------------------------------------------
// Installments
// -------------------------------------------------

func (s *Store) CreateInstallment(_ context.Context, i *models.PaymentInstallment) error {
	defer s.lock()()
	i.ID = s.d.nextID()
	i.CreatedAt = s.now()
	i.UpdatedAt = i.CreatedAt
	s.d.installments[i.ID] = *i
	return nil
}

func (s *Store) GetInstallment(_ context.Context, id uint) (*models.PaymentInstallment, error) {
	defer s.lock()()
	i, ok := s.d.installments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &i, nil
}

func (s *Store) UpdateInstallment(_ context.Context, i *models.PaymentInstallment) error {
	defer s.lock()()
	if _, ok := s.d.installments[i.ID]; !ok {
		return store.ErrNotFound
	}
	i.UpdatedAt = s.now()
	s.d.installments[i.ID] = *i
	return nil
}

func (s *Store) DeleteInstallment(_ context.Context, id uint) error {
	defer s.lock()()
	if _, ok := s.d.installments[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.d.installments, id)
	return nil
}

func (s *Store) ListInstallments(_ context.Context, saleID uint) ([]models.PaymentInstallment, error) {
	defer s.lock()()
	return sortedValues(s.d.installments, func(i models.PaymentInstallment) bool { return i.SaleID == saleID }), nil
}

func (s *Store) DeleteInstallments(_ context.Context, saleID uint) error {
	defer s.lock()()
	maps.DeleteFunc(s.d.installments, func(_ uint, i models.PaymentInstallment) bool { return i.SaleID == saleID })
	return nil
}

// -------------------------------------------------
// Cash registers
// -------------------------------------------------

func (s *Store) CreateRegister(_ context.Context, r *models.CashRegister) error {
	defer s.lock()()
	for _, existing := range s.d.registers {
		if existing.UserID == r.UserID && existing.Status == models.RegisterOpen {
			return store.ErrRegisterOpen
		}
	}
	r.ID = s.d.nextID()
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	s.d.registers[r.ID] = *r
	return nil
}

func (s *Store) GetRegister(_ context.Context, id uint) (*models.CashRegister, error) {
	defer s.lock()()
	r, ok := s.d.registers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) FindOpenRegister(_ context.Context, userID uint) (*models.CashRegister, error) {
	defer s.lock()()
	for _, r := range s.d.registers {
		if r.UserID == userID && r.Status == models.RegisterOpen {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CloseRegister(_ context.Context, r *models.CashRegister) error {
	defer s.lock()()
	existing, ok := s.d.registers[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Status != models.RegisterOpen {
		return store.ErrConflict
	}
	existing.Status = models.RegisterClosed
	existing.ClosedAt = r.ClosedAt
	existing.ExpectedClosingAmount = r.ExpectedClosingAmount
	existing.ActualClosingAmount = r.ActualClosingAmount
	existing.DiscrepancyAmount = r.DiscrepancyAmount
	existing.DiscrepancyReason = r.DiscrepancyReason
	existing.Notes = r.Notes
	existing.UpdatedAt = s.now()
	s.d.registers[r.ID] = existing
	*r = existing
	return nil
}

func (s *Store) AddRegisterSales(_ context.Context, id uint, delta decimal.Decimal) error {
	defer s.lock()()
	r, ok := s.d.registers[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != models.RegisterOpen {
		return store.ErrConflict
	}
	r.TotalSales = r.TotalSales.Add(delta)
	r.UpdatedAt = s.now()
	s.d.registers[id] = r
	return nil
}

func (s *Store) CreateMovement(_ context.Context, m *models.CashMovement) error {
	defer s.lock()()
	if _, ok := s.d.registers[m.CashRegisterID]; !ok {
		return store.ErrNotFound
	}
	m.ID = s.d.nextID()
	m.CreatedAt = s.now()
	s.d.movements[m.ID] = *m
	return nil
}

func (s *Store) GetMovement(_ context.Context, id uint) (*models.CashMovement, error) {
	defer s.lock()()
	m, ok := s.d.movements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) DeleteMovement(_ context.Context, id uint) error {
	defer s.lock()()
	if _, ok := s.d.movements[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.d.movements, id)
	return nil
}

func (s *Store) ListMovements(_ context.Context, registerID uint) ([]models.CashMovement, error) {
	defer s.lock()()
	return sortedValues(s.d.movements, func(m models.CashMovement) bool { return m.CashRegisterID == registerID }), nil
}

func (s *Store) ListMovementsByReference(_ context.Context, referenceID uint) ([]models.CashMovement, error) {
	defer s.lock()()
	return sortedValues(s.d.movements, func(m models.CashMovement) bool {
		return m.ReferenceID != nil && *m.ReferenceID == referenceID
	}), nil
}

func (s *Store) CreateRegisterSale(_ context.Context, l *models.CashRegisterSale) error {
	defer s.lock()()
	l.ID = s.d.nextID()
	l.CreatedAt = s.now()
	s.d.registerSales[l.ID] = *l
	return nil
}

func (s *Store) DeleteRegisterSale(_ context.Context, id uint) error {
	defer s.lock()()
	delete(s.d.registerSales, id)
	return nil
}

func (s *Store) ListRegisterSales(_ context.Context, saleID uint) ([]models.CashRegisterSale, error) {
	defer s.lock()()
	return sortedValues(s.d.registerSales, func(l models.CashRegisterSale) bool { return l.SaleID == saleID }), nil
}

func (s *Store) DeleteRegisterSales(_ context.Context, saleID uint) error {
	defer s.lock()()
	maps.DeleteFunc(s.d.registerSales, func(_ uint, l models.CashRegisterSale) bool { return l.SaleID == saleID })
	return nil
}

func (s *Store) RegisterSalesSummary(_ context.Context, registerID uint) (store.SalesSummary, error) {
	defer s.lock()()
	sum := store.SalesSummary{RegisterID: registerID}
	for _, m := range s.d.movements {
		if m.CashRegisterID != registerID {
			continue
		}
		switch m.Type {
		case models.MovementSale:
			if m.Category == models.CategoryInstallment {
				sum.InstallmentCount++
				sum.InstallmentTotal = sum.InstallmentTotal.Add(m.Amount)
			} else {
				sum.SaleCount++
				sum.SaleTotal = sum.SaleTotal.Add(m.Amount)
			}
		case models.MovementIncome:
			sum.IncomeTotal = sum.IncomeTotal.Add(m.Amount)
		case models.MovementExpense:
			sum.ExpenseTotal = sum.ExpenseTotal.Add(m.Amount)
		}
	}
	return sum, nil
}

// -------------------------------------------------
// Users, audit
// -------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	defer s.lock()()
	for _, existing := range s.d.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrDuplicate
		}
	}
	u.ID = s.d.nextID()
	u.CreatedAt = s.now()
	u.UpdatedAt = u.CreatedAt
	s.d.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(_ context.Context, id uint) (*models.User, error) {
	defer s.lock()()
	u, ok := s.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	defer s.lock()()
	for _, u := range s.d.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CountUsers(_ context.Context) (int, error) {
	defer s.lock()()
	return len(s.d.users), nil
}

func (s *Store) CreateAuditLog(_ context.Context, l *models.AuditLog) error {
	defer s.lock()()
	l.ID = s.d.nextID()
	l.CreatedAt = s.now()
	s.d.audit[l.ID] = *l
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, f store.AuditFilter) ([]models.AuditLog, error) {
	defer s.lock()()
	logs := sortedValues(s.d.audit, func(l models.AuditLog) bool {
		if f.EntityType != "" && l.EntityType != f.EntityType {
			return false
		}
		if f.EntityID != 0 && l.EntityID != f.EntityID {
			return false
		}
		if f.UserID != 0 && l.UserID != f.UserID {
			return false
		}
		return true
	})
	slices.Reverse(logs)
	if f.Limit > 0 && len(logs) > f.Limit {
		logs = logs[:f.Limit]
	}
	return logs, nil
}
