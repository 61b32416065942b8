package sales

import (
	"context"
	"strings"
	"testing"
	"time"

	"pos-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasError(res *ValidationResult, fragment string) bool {
	for _, e := range res.Errors {
		if strings.Contains(e, fragment) {
			return true
		}
	}
	return false
}

func TestValidateEmptyCart(t *testing.T) {
	f := newFixture(t)
	res, err := f.processor.validator.Validate(context.Background(), Cart{PaymentType: models.PaymentTypeCash})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"cart is empty"}, res.Errors)
}

func TestValidateInsufficientSerialUnits(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 1)

	res, err := f.processor.validator.Validate(context.Background(), Cart{
		Items:          []CartItem{{ProductID: phone.ID, Quantity: 2, UnitPrice: d(50000), SelectedUnitIDs: units}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100000),
	})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.True(t, hasError(res, `insufficient stock for "Phone X": requested 2, available 1`), res.Errors)
	assert.True(t, hasError(res, "needs exactly 2 selected units"), res.Errors)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 2)
	other, otherUnits := f.serialProduct(t, "Phone Y", 40000, 1)
	cable := f.stockProduct(t, "Cable", 100, 1)

	_, err := f.mem.ReserveUnits(context.Background(), units[1:], "held", time.Now().Add(time.Hour))
	require.NoError(t, err)

	res, err := f.processor.validator.Validate(context.Background(), Cart{
		Items: []CartItem{
			{ProductID: phone.ID, Quantity: 2, UnitPrice: d(50000), SelectedUnitIDs: []uint{units[0], otherUnits[0]}},
			{ProductID: other.ID, Quantity: 1, UnitPrice: d(0), SelectedUnitIDs: []uint{otherUnits[0]}},
			{ProductID: cable.ID, Quantity: 1, UnitPrice: d(100), SelectedUnitIDs: []uint{units[1]}},
			{ProductID: 999, Quantity: 1, UnitPrice: d(1)},
			{ProductID: cable.ID, Quantity: 0, UnitPrice: d(100)},
		},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(10),
		DiscountAmount: d(-1),
	})
	require.NoError(t, err)
	assert.False(t, res.IsValid)

	for _, want := range []string{
		`insufficient stock for "Phone X": requested 2, available 1`,
		`does not belong to "Phone X"`,
		"line 2: unit price must be between",
		"is already selected on line 1",
		`"Cable" is not serial-tracked`,
		"product 999 not found",
		"line 5: quantity must be positive",
		"discount cannot be negative",
		"is less than the total",
	} {
		assert.True(t, hasError(res, want), "missing %q in %v", want, res.Errors)
	}
}

func TestValidateUnitStates(t *testing.T) {
	f := newFixture(t)
	phone, units := f.serialProduct(t, "Phone X", 50000, 3)
	_, err := f.mem.ReserveUnits(context.Background(), units[2:], "held", time.Now().Add(time.Hour))
	require.NoError(t, err)

	res, err := f.processor.validator.Validate(context.Background(), Cart{
		Items:          []CartItem{{ProductID: phone.ID, Quantity: 2, UnitPrice: d(50000), SelectedUnitIDs: []uint{units[2], 4242}}},
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100000),
	})
	require.NoError(t, err)
	assert.True(t, hasError(res, "is reserved"), res.Errors)
	assert.True(t, hasError(res, "unit 4242 not found"), res.Errors)
}

func TestValidatePayments(t *testing.T) {
	tests := []struct {
		name     string
		cart     func(productID uint) Cart
		valid    bool
		fragment string
	}{
		{
			name: "exact cash",
			cart: func(id uint) Cart {
				return Cart{Items: []CartItem{{ProductID: id, Quantity: 2, UnitPrice: d(100)}}, PaymentType: models.PaymentTypeCash, AmountReceived: dp(200)}
			},
			valid: true,
		},
		{
			name: "cash after discount",
			cart: func(id uint) Cart {
				return Cart{Items: []CartItem{{ProductID: id, Quantity: 2, UnitPrice: d(100)}}, PaymentType: models.PaymentTypeCash, AmountReceived: dp(150), DiscountAmount: d(50)}
			},
			valid: true,
		},
		{
			name: "cash missing amount",
			cart: func(id uint) Cart {
				return Cart{Items: []CartItem{{ProductID: id, Quantity: 1, UnitPrice: d(100)}}, PaymentType: models.PaymentTypeCash}
			},
			fragment: "amount received is required",
		},
		{
			name: "discount above subtotal",
			cart: func(id uint) Cart {
				return Cart{Items: []CartItem{{ProductID: id, Quantity: 1, UnitPrice: d(100)}}, PaymentType: models.PaymentTypeInstallment, DiscountAmount: d(101)}
			},
			fragment: "exceeds subtotal",
		},
		{
			name: "down payment above total",
			cart: func(id uint) Cart {
				return Cart{Items: []CartItem{{ProductID: id, Quantity: 1, UnitPrice: d(100)}}, PaymentType: models.PaymentTypeInstallment, AmountReceived: dp(101)}
			},
			fragment: "down payment",
		},
		{
			name: "unknown payment type",
			cart: func(id uint) Cart {
				return Cart{Items: []CartItem{{ProductID: id, Quantity: 1, UnitPrice: d(100)}}, PaymentType: "card"}
			},
			fragment: "payment type",
		},
		{
			name: "price too large",
			cart: func(id uint) Cart {
				return Cart{Items: []CartItem{{ProductID: id, Quantity: 1, UnitPrice: d(1_000_000_000)}}, PaymentType: models.PaymentTypeInstallment}
			},
			fragment: "unit price",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.stockProduct(t, "Cable", 100, 10)
			res, err := f.processor.validator.Validate(context.Background(), tt.cart(p.ID))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.IsValid, res.Errors)
			if tt.fragment != "" {
				assert.True(t, hasError(res, tt.fragment), res.Errors)
			}
		})
	}
}

func TestValidateMissingCustomerIsWarning(t *testing.T) {
	f := newFixture(t)
	p := f.stockProduct(t, "Cable", 100, 10)
	ghost := uint(777)

	res, err := f.processor.validator.Validate(context.Background(), Cart{
		Items:          []CartItem{{ProductID: p.ID, Quantity: 1, UnitPrice: d(100)}},
		CustomerID:     &ghost,
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100),
	})
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "walk-in")
	assert.Nil(t, res.CustomerID)

	c := &models.Customer{Name: "Ayşe"}
	require.NoError(t, f.mem.CreateCustomer(context.Background(), c))
	res, err = f.processor.validator.Validate(context.Background(), Cart{
		Items:          []CartItem{{ProductID: p.ID, Quantity: 1, UnitPrice: d(100)}},
		CustomerID:     &c.ID,
		PaymentType:    models.PaymentTypeCash,
		AmountReceived: dp(100),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.CustomerID)
	assert.Equal(t, c.ID, *res.CustomerID)
	assert.True(t, res.Total.Equal(d(100)))
	require.Len(t, res.ValidatedItems, 1)
	assert.Equal(t, 10, res.ValidatedItems[0].AvailableStock)
}
