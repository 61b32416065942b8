package sales

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pos-backend/internal/apperr"
	"pos-backend/internal/auth"
	"pos-backend/internal/cashflow"
	"pos-backend/internal/installment"
	"pos-backend/internal/inventory"
	"pos-backend/internal/logger"
	"pos-backend/internal/models"
	"pos-backend/internal/store"
	"pos-backend/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func dp(v int64) *decimal.Decimal {
	x := d(v)
	return &x
}

func imei(n int) string {
	body := fmt.Sprintf("35%012d", n)
	check, _ := inventory.IMEICheckDigit(body)
	return fmt.Sprintf("%s%d", body, check)
}

// faultyStore injects failures and interleavings into an otherwise real
// in-memory store.
type faultyStore struct {
	*memstore.Store
	failPayment    bool
	failOpenLookup bool
	beforeReserve  func()
	beforeDecrease func(productID uint)
}

func (f *faultyStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if f.failPayment {
		return errBoom
	}
	return f.Store.CreatePayment(ctx, p)
}

func (f *faultyStore) FindOpenRegister(ctx context.Context, userID uint) (*models.CashRegister, error) {
	if f.failOpenLookup {
		return nil, errBoom
	}
	return f.Store.FindOpenRegister(ctx, userID)
}

func (f *faultyStore) ReserveUnits(ctx context.Context, ids []uint, token string, until time.Time) (int, error) {
	if f.beforeReserve != nil {
		f.beforeReserve()
	}
	return f.Store.ReserveUnits(ctx, ids, token, until)
}

func (f *faultyStore) AdjustStock(ctx context.Context, productID uint, delta int) (int, error) {
	if delta < 0 && f.beforeDecrease != nil {
		f.beforeDecrease(productID)
	}
	return f.Store.AdjustStock(ctx, productID, delta)
}

type fixture struct {
	mem       *memstore.Store
	faults    *faultyStore
	processor *Processor
	registers *cashflow.Ledger
	employee  context.Context
	manager   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	faults := &faultyStore{Store: mem}
	log := logger.Discard()

	ledger := inventory.NewLedger(faults, log, inventory.DefaultReservationTTL)
	registers := cashflow.NewLedger(faults, log)
	installments := installment.NewLedger(faults, registers, log)
	validator := NewValidator(faults, ledger)

	return &fixture{
		mem:       mem,
		faults:    faults,
		processor: NewProcessor(faults, validator, ledger, inventory.NewStock(faults), registers, installments, log),
		registers: registers,
		employee:  auth.WithActor(context.Background(), auth.Actor{ID: 1, Name: "ela", Role: models.RoleEmployee}),
		manager:   auth.WithActor(context.Background(), auth.Actor{ID: 2, Name: "mert", Role: models.RoleManager}),
	}
}

func (f *fixture) serialProduct(t *testing.T, name string, price int64, units int) (*models.Product, []uint) {
	t.Helper()
	ctx := context.Background()
	p := &models.Product{
		Name:               name,
		SalePrice:          d(price),
		HasIMEISerial:      true,
		IMEISerialType:     models.SerialTypeIMEI,
		RequiresIMEISerial: true,
	}
	require.NoError(t, f.mem.CreateProduct(ctx, p))

	batch := make([]*models.SerializedUnit, 0, units)
	for i := 0; i < units; i++ {
		v := imei(int(p.ID)*1000 + i)
		batch = append(batch, &models.SerializedUnit{ProductID: p.ID, IMEINumber: &v})
	}
	require.NoError(t, f.mem.CreateUnits(ctx, batch))
	ids := make([]uint, 0, units)
	for _, u := range batch {
		ids = append(ids, u.ID)
	}
	return p, ids
}

func (f *fixture) stockProduct(t *testing.T, name string, price int64, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, SalePrice: d(price), Stock: stock}
	require.NoError(t, f.mem.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) stockOf(t *testing.T, id uint) int {
	t.Helper()
	p, err := f.mem.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) unitStatuses(t *testing.T, ids []uint) []models.UnitStatus {
	t.Helper()
	units, err := f.mem.ListUnits(context.Background(), store.UnitFilter{IDs: ids})
	require.NoError(t, err)
	out := make([]models.UnitStatus, 0, len(units))
	for _, u := range units {
		out = append(out, u.Status)
	}
	return out
}

func all(status models.UnitStatus, n int) []models.UnitStatus {
	out := make([]models.UnitStatus, n)
	for i := range out {
		out[i] = status
	}
	return out
}

func TestProcessCashSaleOnOpenRegister(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 1)

	sess, err := f.registers.Open(f.employee, 1, d(100000), "")
	require.NoError(t, err)

	out, err := f.processor.Process(f.employee, Cart{
		Items:          []CartItem{{ProductID: phone.ID, Quantity: 1, UnitPrice: d(50000), SelectedUnitIDs: units}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(60000),
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, out.State)
	assert.True(t, out.Change.Equal(d(10000)))
	assert.Equal(t, models.PaymentPaid, out.Sale.PaymentStatus)
	assert.True(t, out.Sale.TotalPaid.Equal(d(50000)))
	require.Len(t, out.Items, 1)

	sold, err := f.mem.ListUnits(context.Background(), store.UnitFilter{SaleID: out.Sale.ID})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, models.UnitSold, sold[0].Status)
	assert.Equal(t, out.Items[0].ID, *sold[0].SaleItemID)
	assert.Nil(t, sold[0].ReservationToken)

	payments := f.mem.Payments(out.Sale.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, "cash", payments[0].Method)

	res, err := f.registers.Close(f.employee, sess.RegisterID, cashflow.CloseInput{ActualAmount: d(150000)})
	require.NoError(t, err)
	assert.True(t, res.Expected.Equal(d(150000)))
	assert.True(t, res.Discrepancy.IsZero())
}

func TestProcessWithoutRegister(t *testing.T) {
	f := newFixture(t)
	cable := f.stockProduct(t, "Cable", 100, 5)

	out, err := f.processor.Process(f.employee, Cart{
		Items:          []CartItem{{ProductID: cable.ID, Quantity: 2, UnitPrice: d(100)}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(200),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, cable.ID))
	assert.True(t, out.Change.IsZero())

	links, err := f.mem.ListRegisterSales(context.Background(), out.Sale.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestProcessRequiresActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.processor.Process(context.Background(), Cart{})
	assert.True(t, apperr.Is(err, apperr.KindPermission))
}

func TestProcessInvalidCartWritesNothing(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 1)

	out, err := f.processor.Process(f.employee, Cart{
		Items:          []CartItem{{ProductID: phone.ID, Quantity: 2, UnitPrice: d(50000), SelectedUnitIDs: units}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100000),
		IdempotencyKey: "k-invalid",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	require.NotNil(t, out.Validation)
	assert.False(t, out.Validation.IsValid)
	assert.Contains(t, err.Error(), `insufficient stock for "Phone X"`)

	_, err = f.mem.FindSaleByIdempotencyKey(context.Background(), "k-invalid")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, all(models.UnitAvailable, 1), f.unitStatuses(t, units))
}

func TestProcessReservationRace(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 2)

	// Another checkout grabs the second unit between validation and reservation.
	f.faults.beforeReserve = func() {
		f.faults.beforeReserve = nil
		n, err := f.mem.ReserveUnits(context.Background(), units[1:], "other-checkout", time.Now().Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	out, err := f.processor.Process(f.employee, Cart{
		Items:          []CartItem{{ProductID: phone.ID, Quantity: 2, UnitPrice: d(50000), SelectedUnitIDs: units}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100000),
		IdempotencyKey: "k-race",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStockRace), err)
	assert.Equal(t, StateFailed, out.State)

	assert.Equal(t, []models.UnitStatus{models.UnitAvailable, models.UnitReserved}, f.unitStatuses(t, units),
		"our reservation is released, the other checkout keeps its unit")
	_, err = f.mem.FindSaleByIdempotencyKey(context.Background(), "k-race")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessStockRaceOnDecrement(t *testing.T) {
	f := newFixture(t)
	cable := f.stockProduct(t, "Cable", 100, 2)

	f.faults.beforeDecrease = func(id uint) {
		f.faults.beforeDecrease = nil
		_, err := f.mem.AdjustStock(context.Background(), id, -2)
		require.NoError(t, err)
	}

	_, err := f.processor.Process(f.employee, Cart{
		Items:          []CartItem{{ProductID: cable.ID, Quantity: 2, UnitPrice: d(100)}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(200),
		IdempotencyKey: "k-drain",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStockRace), err)
	assert.Equal(t, 0, f.stockOf(t, cable.ID))
	_, err = f.mem.FindSaleByIdempotencyKey(context.Background(), "k-drain")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessRollsBackWhenReservationLapses(t *testing.T) {
	f := newFixture(t)
	cable := f.stockProduct(t, "Cable", 100, 10)
	phone, units := f.serialProduct(t, "Phone X", 50000, 1)

	// The sweeper releases the reservation after the stock line was written
	// and before the unit is marked sold.
	f.faults.beforeDecrease = func(uint) {
		f.faults.beforeDecrease = nil
		n, err := f.mem.ReleaseExpiredReservations(context.Background(), time.Now().Add(24*time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	out, err := f.processor.Process(f.employee, Cart{
		Items: []CartItem{
			{ProductID: cable.ID, Quantity: 2, UnitPrice: d(100)},
			{ProductID: phone.ID, Quantity: 1, UnitPrice: d(50000), SelectedUnitIDs: units},
		},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(50200),
		IdempotencyKey: "k-lapsed",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIntegrity), err)
	assert.Equal(t, StateFailed, out.State)

	assert.Equal(t, 10, f.stockOf(t, cable.ID))
	assert.Equal(t, []models.UnitStatus{models.UnitAvailable}, f.unitStatuses(t, units))
	_, err = f.mem.FindSaleByIdempotencyKey(context.Background(), "k-lapsed")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessRollsBackLateFailure(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*faultyStore)
	}{
		{"payment write fails", func(s *faultyStore) { s.failPayment = true }},
		{"register lookup fails", func(s *faultyStore) { s.failOpenLookup = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			phone, units := f.serialProduct(t, "Phone X", 50000, 2)
			cable := f.stockProduct(t, "Cable", 100, 10)
			tt.inject(f.faults)

			out, err := f.processor.Process(f.employee, Cart{
				Items: []CartItem{
					{ProductID: phone.ID, Quantity: 2, UnitPrice: d(50000), SelectedUnitIDs: units},
					{ProductID: cable.ID, Quantity: 3, UnitPrice: d(100)},
				},
				PaymentType:    models.PaymentTypeCash,
				AmountReceived: dp(100300),
				IdempotencyKey: "k-late",
			})
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindStore))
			assert.ErrorIs(t, err, errBoom)
			assert.Equal(t, StateFailed, out.State)

			assert.Equal(t, all(models.UnitAvailable, 2), f.unitStatuses(t, units))
			assert.Equal(t, 10, f.stockOf(t, cable.ID))
			_, err = f.mem.FindSaleByIdempotencyKey(context.Background(), "k-late")
			assert.ErrorIs(t, err, store.ErrNotFound)

			restored, err := f.mem.ListUnits(context.Background(), store.UnitFilter{IDs: units})
			require.NoError(t, err)
			for _, u := range restored {
				assert.Nil(t, u.SaleID)
				assert.Nil(t, u.ReservationToken)
			}
		})
	}
}

func TestProcessIdempotentSubmission(t *testing.T) {
	f := newFixture(t)
	cable := f.stockProduct(t, "Cable", 100, 5)
	cart := Cart{
		Items:          []CartItem{{ProductID: cable.ID, Quantity: 1, UnitPrice: d(100)}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100),
		IdempotencyKey: "k-once",
	}

	first, err := f.processor.Process(f.employee, cart)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.processor.Process(f.employee, cart)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Sale.ID, second.Sale.ID)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, 4, f.stockOf(t, cable.ID))
}

func TestProcessInstallmentSaleWithDownPayment(t *testing.T) {
	f := newFixture(t)
	tv := f.stockProduct(t, "TV", 100000, 5)
	sess, err := f.registers.Open(f.employee, 1, d(0), "")
	require.NoError(t, err)

	out, err := f.processor.Process(f.employee, Cart{
		Items:          []CartItem{{ProductID: tv.ID, Quantity: 3, UnitPrice: d(100000)}},
		PaymentType:    models.PaymentTypeInstallment,
		AmountReceived: dp(100000),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartial, out.Sale.PaymentStatus)
	assert.True(t, out.Sale.TotalPaid.Equal(d(100000)))
	assert.Equal(t, 2, f.stockOf(t, tv.ID))

	list, err := f.mem.ListInstallments(context.Background(), out.Sale.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	sum, err := f.registers.Summary(f.employee, sess.RegisterID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sales.InstallmentCount)
	assert.Equal(t, 0, sum.Sales.SaleCount)
	assert.True(t, sum.Register.TotalSales.Equal(d(100000)))
}

func TestProcessInstallmentSaleWithoutDownPayment(t *testing.T) {
	f := newFixture(t)
	tv := f.stockProduct(t, "TV", 100000, 1)

	out, err := f.processor.Process(f.employee, Cart{
		Items:       []CartItem{{ProductID: tv.ID, Quantity: 1, UnitPrice: d(100000)}},
		PaymentType: models.PaymentTypeInstallment,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, out.Sale.PaymentStatus)
	assert.True(t, out.Sale.TotalPaid.IsZero())
	assert.Empty(t, f.mem.Payments(out.Sale.ID))
}

func TestDeleteSaleRestoresEverything(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 2)
	cable := f.stockProduct(t, "Cable", 100, 10)
	sess, err := f.registers.Open(f.employee, 1, d(1000), "")
	require.NoError(t, err)

	out, err := f.processor.Process(f.employee, Cart{
		Items: []CartItem{
			{ProductID: phone.ID, Quantity: 2, UnitPrice: d(50000), SelectedUnitIDs: units},
			{ProductID: cable.ID, Quantity: 3, UnitPrice: d(100)},
		},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100300),
	})
	require.NoError(t, err)
	require.Equal(t, 7, f.stockOf(t, cable.ID))

	_, err = f.processor.DeleteSale(f.employee, out.Sale.ID, "customer returned")
	assert.True(t, apperr.Is(err, apperr.KindPermission))
	_, err = f.processor.DeleteSale(f.manager, out.Sale.ID, "  ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	res, err := f.processor.DeleteSale(f.manager, out.Sale.ID, "customer returned")
	require.NoError(t, err)
	assert.Equal(t, 2, res.UnitsRestored)
	assert.Equal(t, map[uint]int{cable.ID: 3}, res.StockRestored)

	assert.Equal(t, all(models.UnitAvailable, 2), f.unitStatuses(t, units))
	assert.Equal(t, 10, f.stockOf(t, cable.ID))

	_, err = f.mem.GetSale(context.Background(), out.Sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	items, err := f.mem.ListSaleItems(context.Background(), out.Sale.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, f.mem.Payments(out.Sale.ID))

	sum, err := f.registers.Summary(f.employee, sess.RegisterID)
	require.NoError(t, err)
	assert.True(t, sum.Register.TotalSales.IsZero())
	assert.Equal(t, 0, sum.Sales.SaleCount)

	logs, err := f.mem.ListAuditLogs(context.Background(), store.AuditFilter{EntityType: "sale"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "customer returned", logs[0].Reason)
	assert.Equal(t, "mert", logs[0].UserName)

	_, err = f.processor.DeleteSale(f.manager, out.Sale.ID, "again")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeleteSaleKeepsClosedRegister(t *testing.T) {
	f := newFixture(t)
	cable := f.stockProduct(t, "Cable", 100, 10)
	sess, err := f.registers.Open(f.employee, 1, d(0), "")
	require.NoError(t, err)

	out, err := f.processor.Process(f.employee, Cart{
		Items:          []CartItem{{ProductID: cable.ID, Quantity: 1, UnitPrice: d(100)}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100),
	})
	require.NoError(t, err)
	_, err = f.registers.Close(f.employee, sess.RegisterID, cashflow.CloseInput{ActualAmount: d(100)})
	require.NoError(t, err)

	_, err = f.processor.DeleteSale(f.manager, out.Sale.ID, "wrong item")
	require.NoError(t, err)

	r, err := f.mem.GetRegister(context.Background(), sess.RegisterID)
	require.NoError(t, err)
	assert.True(t, r.TotalSales.Equal(d(100)), "closed registers keep their figures")

	links, err := f.mem.ListRegisterSales(context.Background(), out.Sale.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestGetSale(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 1)

	out, err := f.processor.Process(f.employee, Cart{
		Items:       []CartItem{{ProductID: phone.ID, Quantity: 1, UnitPrice: d(50000), SelectedUnitIDs: units}},
		PaymentType: models.PaymentTypeInstallment,
	})
	require.NoError(t, err)

	view, err := f.processor.Get(f.employee, out.Sale.ID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	assert.Len(t, view.Units, 1)
	assert.Empty(t, view.Installments)

	_, err = f.processor.Get(f.employee, out.Sale.ID+100)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
