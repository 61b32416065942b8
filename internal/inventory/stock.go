package inventory

import (
	"context"
	"errors"
	"fmt"

	"pos-backend/internal/apperr"
	"pos-backend/internal/store"
)

// Stock adjusts quantity stock of products that are not serial-tracked.
type Stock struct {
	products store.Products
}

func NewStock(p store.Products) *Stock {
	return &Stock{products: p}
}

func (s *Stock) WithStore(p store.Products) *Stock {
	return &Stock{products: p}
}

// Decrement fails with an InsufficientStock validation error rather than
// letting stock go below zero.
func (s *Stock) Decrement(ctx context.Context, productID uint, qty int) error {
	return s.adjust(ctx, productID, -qty, qty)
}

func (s *Stock) Increment(ctx context.Context, productID uint, qty int) error {
	return s.adjust(ctx, productID, qty, qty)
}

func (s *Stock) adjust(ctx context.Context, productID uint, delta, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be positive")
	}
	current, err := s.products.AdjustStock(ctx, productID, delta)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrInsufficientStock):
		return &apperr.Error{
			Kind:    apperr.KindValidation,
			Message: fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", productID, qty, current),
			Err:     err,
		}
	case errors.Is(err, store.ErrConflict):
		return apperr.Validation(fmt.Sprintf("product %d is serial-tracked, its stock follows its units", productID))
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(fmt.Sprintf("product %d not found", productID))
	default:
		return apperr.Store("stock update failed", err)
	}
}
