package sales

import (
	"context"
	"errors"
	"fmt"

	"pos-backend/internal/apperr"
	"pos-backend/internal/inventory"
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/shopspring/decimal"
)

var maxUnitPrice = decimal.NewFromInt(999_999_999)

type CartItem struct {
	ProductID       uint            `json:"product_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	SelectedUnitIDs []uint          `json:"selected_unit_ids,omitempty"`
}

type Cart struct {
	Items          []CartItem         `json:"items"`
	CustomerID     *uint              `json:"customer_id,omitempty"`
	PaymentType    models.PaymentType `json:"payment_type"`
	AmountReceived *decimal.Decimal   `json:"amount_received,omitempty"`
	DiscountAmount decimal.Decimal    `json:"discount_amount"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// ValidatedItem is a cart line as confirmed against storage. AvailableStock
// is the snapshot taken during validation.
type ValidatedItem struct {
	CartItem
	Position       int            `json:"position"`
	Product        models.Product `json:"product"`
	AvailableStock int            `json:"available_stock"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

func (v ValidatedItem) SerialTracked() bool {
	return v.Product.SerialTracked()
}

type ValidationResult struct {
	IsValid        bool            `json:"is_valid"`
	Errors         []string        `json:"errors"`
	Warnings       []string        `json:"warnings"`
	ValidatedItems []ValidatedItem `json:"validated_items"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
	// CustomerID is cleared when the customer no longer exists.
	CustomerID *uint `json:"customer_id,omitempty"`
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

type ValidatorStore interface {
	store.Products
	store.Units
	store.Customers
}

// Validator re-checks a cart against storage before anything is written.
// It never stops at the first problem: every error in the cart is reported.
type Validator struct {
	store  ValidatorStore
	ledger *inventory.Ledger
}

func NewValidator(s ValidatorStore, ledger *inventory.Ledger) *Validator {
	return &Validator{store: s, ledger: ledger}
}

// Validate returns a non-nil error only when storage fails; problems with
// the cart itself are reported in the result.
func (v *Validator) Validate(ctx context.Context, cart Cart) (*ValidationResult, error) {
	res := &ValidationResult{
		Errors:         []string{},
		Warnings:       []string{},
		ValidatedItems: []ValidatedItem{},
		Subtotal:       decimal.Zero,
		Discount:       cart.DiscountAmount,
	}

	if len(cart.Items) == 0 {
		res.fail("cart is empty")
		return res, nil
	}
	if cart.PaymentType != models.PaymentTypeCash && cart.PaymentType != models.PaymentTypeInstallment {
		res.fail("payment type must be cash or installment")
	}

	seenUnits := map[uint]int{}
	for i, item := range cart.Items {
		line := i + 1
		if item.Quantity <= 0 {
			res.fail("line %d: quantity must be positive", line)
			continue
		}
		if !item.UnitPrice.IsPositive() || item.UnitPrice.GreaterThan(maxUnitPrice) {
			res.fail("line %d: unit price must be between 0 and %s", line, maxUnitPrice.String())
		}

		p, err := v.store.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				res.fail("line %d: product %d not found", line, item.ProductID)
				continue
			}
			return nil, apperr.Store("product lookup failed", err)
		}

		available, err := v.ledger.AvailableStock(ctx, p)
		if err != nil {
			return nil, err
		}
		if item.Quantity > available {
			res.fail("insufficient stock for %q: requested %d, available %d", p.Name, item.Quantity, available)
		}

		for _, id := range item.SelectedUnitIDs {
			if prev, dup := seenUnits[id]; dup {
				res.fail("line %d: unit %d is already selected on line %d", line, id, prev)
				continue
			}
			seenUnits[id] = line
		}

		if p.SerialTracked() {
			if len(item.SelectedUnitIDs) != item.Quantity {
				res.fail("line %d: %q needs exactly %d selected units, got %d", line, p.Name, item.Quantity, len(item.SelectedUnitIDs))
			}
			if err := v.checkSelectedUnits(ctx, res, line, p, item.SelectedUnitIDs); err != nil {
				return nil, err
			}
		} else if len(item.SelectedUnitIDs) > 0 {
			res.fail("line %d: %q is not serial-tracked, units cannot be selected", line, p.Name)
		}

		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		res.Subtotal = res.Subtotal.Add(lineTotal)
		res.ValidatedItems = append(res.ValidatedItems, ValidatedItem{
			CartItem:       item,
			Position:       i,
			Product:        *p,
			AvailableStock: available,
			LineTotal:      lineTotal,
		})
	}

	if cart.DiscountAmount.IsNegative() {
		res.fail("discount cannot be negative")
	}
	if cart.DiscountAmount.GreaterThan(res.Subtotal) {
		res.fail("discount %s exceeds subtotal %s", cart.DiscountAmount.StringFixed(2), res.Subtotal.StringFixed(2))
	}
	res.Total = res.Subtotal.Sub(cart.DiscountAmount)

	switch cart.PaymentType {
	case models.PaymentTypeCash:
		if cart.AmountReceived == nil {
			res.fail("amount received is required for cash payments")
		} else if cart.AmountReceived.LessThan(res.Total) {
			res.fail("amount received %s is less than the total %s", cart.AmountReceived.StringFixed(2), res.Total.StringFixed(2))
		}
	case models.PaymentTypeInstallment:
		if cart.AmountReceived != nil {
			if cart.AmountReceived.IsNegative() {
				res.fail("down payment cannot be negative")
			} else if cart.AmountReceived.GreaterThan(res.Total) {
				res.fail("down payment %s exceeds the total %s", cart.AmountReceived.StringFixed(2), res.Total.StringFixed(2))
			}
		}
	}

	if cart.CustomerID != nil {
		if _, err := v.store.GetCustomer(ctx, *cart.CustomerID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, apperr.Store("customer lookup failed", err)
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("customer %d not found, sale is recorded as walk-in", *cart.CustomerID))
		} else {
			id := *cart.CustomerID
			res.CustomerID = &id
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res, nil
}

func (v *Validator) checkSelectedUnits(ctx context.Context, res *ValidationResult, line int, p *models.Product, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	units, err := v.store.ListUnits(ctx, store.UnitFilter{IDs: ids})
	if err != nil {
		return apperr.Store("unit lookup failed", err)
	}
	byID := make(map[uint]models.SerializedUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	for _, id := range ids {
		u, ok := byID[id]
		switch {
		case !ok:
			res.fail("line %d: unit %d not found", line, id)
		case u.ProductID != p.ID:
			res.fail("line %d: unit %s does not belong to %q", line, u.Identifier(), p.Name)
		case u.Status != models.UnitAvailable:
			res.fail("line %d: unit %s is %s", line, u.Identifier(), u.Status)
		}
	}
	return nil
}
