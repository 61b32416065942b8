package inventory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pos-backend/internal/apperr"
	"pos-backend/internal/logger"
	"pos-backend/internal/models"
	"pos-backend/internal/store"
	"pos-backend/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imei(n int) string {
	body := fmt.Sprintf("35%012d", n)
	check, _ := IMEICheckDigit(body)
	return fmt.Sprintf("%s%d", body, check)
}

func newLedger(t *testing.T) (*Ledger, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	return NewLedger(s, logger.Discard(), DefaultReservationTTL), s
}

func seedSerialProduct(t *testing.T, s *memstore.Store, units int) (*models.Product, []uint) {
	t.Helper()
	ctx := context.Background()
	p := &models.Product{
		Name:               "Phone X",
		SalePrice:          decimal.NewFromInt(50000),
		HasIMEISerial:      true,
		IMEISerialType:     models.SerialTypeIMEI,
		RequiresIMEISerial: true,
	}
	require.NoError(t, s.CreateProduct(ctx, p))

	batch := make([]*models.SerializedUnit, 0, units)
	for i := 0; i < units; i++ {
		v := imei(int(p.ID)*1000 + i)
		batch = append(batch, &models.SerializedUnit{ProductID: p.ID, IMEINumber: &v})
	}
	require.NoError(t, s.CreateUnits(ctx, batch))

	ids := make([]uint, 0, units)
	for _, u := range batch {
		ids = append(ids, u.ID)
	}
	return p, ids
}

func TestIMEILuhnProperty(t *testing.T) {
	for n := 0; n < 500; n++ {
		body := fmt.Sprintf("%014d", n*7919+1234567)
		check, err := IMEICheckDigit(body)
		require.NoError(t, err)

		for d := 0; d <= 9; d++ {
			value := fmt.Sprintf("%s%d", body, d)
			res := ValidateFormat(value, store.KindIMEI)
			assert.Equal(t, d == check, res.IsValid, value)
		}
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name  string
		value string
		kind  store.IdentifierKind
		valid bool
	}{
		{"valid imei", "490154203237518", store.KindIMEI, true},
		{"bad checksum", "490154203237519", store.KindIMEI, false},
		{"short imei", "49015420323751", store.KindIMEI, false},
		{"letters in imei", "49015420323751A", store.KindIMEI, false},
		{"valid serial", "SN-001_a.b", store.KindSerial, true},
		{"serial too short", "AB", store.KindSerial, false},
		{"serial with space", "AB 123", store.KindSerial, false},
		{"serial too long", fmt.Sprintf("%051d", 1), store.KindSerial, false},
		{"unknown kind", "whatever", store.IdentifierKind("mac"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateFormat(tt.value, tt.kind)
			assert.Equal(t, tt.valid, res.IsValid)
			if !tt.valid {
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestCheckDuplicate(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)
	p, ids := seedSerialProduct(t, s, 1)
	units, err := s.ListUnits(ctx, store.UnitFilter{IDs: ids})
	require.NoError(t, err)
	taken := *units[0].IMEINumber

	res, err := l.CheckDuplicate(ctx, taken, store.KindIMEI, 0)
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.False(t, res.IsValid)
	assert.Equal(t, p.ID, res.ExistingProductID)
	assert.Equal(t, "Phone X", res.ExistingProductName)

	res, err = l.CheckDuplicate(ctx, taken, store.KindIMEI, p.ID)
	require.NoError(t, err)
	assert.True(t, res.IsValid, "units of the excluded product do not count")

	res, err = l.CheckDuplicate(ctx, imei(999999), store.KindIMEI, 0)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.False(t, res.IsDuplicate)
}

func TestValidateBulk(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)
	_, ids := seedSerialProduct(t, s, 1)
	units, err := s.ListUnits(ctx, store.UnitFilter{IDs: ids})
	require.NoError(t, err)
	taken := *units[0].IMEINumber

	fresh := imei(424242)
	res, err := l.ValidateBulk(ctx, []string{fresh, fresh, taken, "123"}, store.KindIMEI)
	require.NoError(t, err)

	assert.Equal(t, []string{fresh}, res.Valid)
	require.Len(t, res.Duplicates, 2)
	assert.Equal(t, "repeated in batch", res.Duplicates[0].Reason)
	assert.Equal(t, taken, res.Duplicates[1].Value)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, "123", res.Invalid[0].Value)
	assert.False(t, res.OK())
}

func TestRegisterUnits(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)
	p, _ := seedSerialProduct(t, s, 0)

	created, err := l.Register(ctx, p.ID, []UnitInput{{IMEINumber: imei(1)}, {IMEINumber: imei(2)}})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	n, err := l.AvailableStock(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = l.Register(ctx, p.ID, []UnitInput{{IMEINumber: imei(3)}, {IMEINumber: imei(1)}, {SerialNumber: "SN-1"}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	n, err = l.AvailableStock(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a rejected batch registers nothing")
}

func TestReserveIsExclusive(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)
	_, ids := seedSerialProduct(t, s, 5)

	var wg sync.WaitGroup
	results := make([]int, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := l.Reserve(ctx, ids, NewToken())
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	wg.Wait()

	assert.Equal(t, len(ids), results[0]+results[1], "every unit is reserved exactly once")
	assert.Contains(t, results, len(ids), "one request wins the whole batch")

	reserved, err := s.ListUnits(ctx, store.UnitFilter{Status: models.UnitReserved})
	require.NoError(t, err)
	assert.Len(t, reserved, len(ids))
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)
	p, ids := seedSerialProduct(t, s, 3)
	token := NewToken()

	n, err := l.Reserve(ctx, ids[:2], token)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = l.Release(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.Release(ctx, token)
	require.NoError(t, err)
	assert.Zero(t, n)

	available, err := l.AvailableStock(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 3, available)
}

func TestMarkSoldRequiresMatchingReservation(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)
	_, ids := seedSerialProduct(t, s, 2)
	token := NewToken()

	_, err := l.Reserve(ctx, ids[:1], token)
	require.NoError(t, err)

	err = l.MarkSold(ctx, ids[:1], NewToken(), 10, 11)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIntegrity))

	require.NoError(t, l.MarkSold(ctx, ids[:1], token, 10, 11))
	sold, err := s.ListUnits(ctx, store.UnitFilter{SaleID: 10})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, models.UnitSold, sold[0].Status)
	assert.Nil(t, sold[0].ReservationToken)
	require.NotNil(t, sold[0].SaleItemID)
	assert.EqualValues(t, 11, *sold[0].SaleItemID)

	n, err := l.Release(ctx, token)
	require.NoError(t, err)
	assert.Zero(t, n, "releasing after sale leaves sold units alone")

	n, err = l.Restore(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	restored, err := s.ListUnits(ctx, store.UnitFilter{IDs: ids[:1]})
	require.NoError(t, err)
	assert.Equal(t, models.UnitAvailable, restored[0].Status)
	assert.Nil(t, restored[0].SaleID)
	assert.Nil(t, restored[0].SoldAt)
}

func TestReleaseExpired(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)
	p, ids := seedSerialProduct(t, s, 2)

	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := l.WithClock(func() time.Time { return start }).Reserve(ctx, ids, NewToken())
	require.NoError(t, err)

	n, err := l.WithClock(func() time.Time { return start.Add(5 * time.Minute) }).ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	late := l.WithClock(func() time.Time { return start.Add(DefaultReservationTTL) })
	sweeper := NewSweeper(late, time.Minute, logger.Discard())
	assert.Equal(t, 2, sweeper.Sweep(ctx))
	assert.Zero(t, sweeper.Sweep(ctx), "a second sweep is a no-op")

	available, err := l.AvailableStock(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	l, _ := newLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(l, 10*time.Millisecond, logger.Discard()).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
