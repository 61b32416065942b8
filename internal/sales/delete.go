package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pos-backend/internal/apperr"
	"pos-backend/internal/audit"
	"pos-backend/internal/auth"
	"pos-backend/internal/metrics"
	"pos-backend/internal/models"
	"pos-backend/internal/store"
)

type DeleteResult struct {
	SaleID        uint `json:"sale_id"`
	UnitsRestored int  `json:"units_restored"`
	// StockRestored is the quantity put back per non-serial product.
	StockRestored map[uint]int `json:"stock_restored"`
}

// DeleteSale voids a sale and undoes all of its effects in one transaction:
// sold units and stock come back, installments and payments go, and cash
// bookings on still open registers are reversed.
func (p *Processor) DeleteSale(ctx context.Context, saleID uint, reason string) (*DeleteResult, error) {
	actor, err := auth.RequirePrivileged(ctx)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a reason is required to delete a sale")
	}

	res := &DeleteResult{SaleID: saleID, StockRestored: map[uint]int{}}
	err = p.store.WithTx(ctx, func(tx store.Store) error {
		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("sale not found")
			}
			return err
		}
		items, err := tx.ListSaleItems(ctx, saleID)
		if err != nil {
			return err
		}
		sale.Items = items

		if res.UnitsRestored, err = p.ledger.WithStore(tx).Restore(ctx, saleID); err != nil {
			return err
		}

		stock := p.stock.WithStore(tx)
		for _, it := range items {
			product, err := tx.GetProduct(ctx, it.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					p.log.Warn("sale item references a missing product", "sale_id", saleID, "product_id", it.ProductID)
					continue
				}
				return err
			}
			if product.SerialTracked() {
				continue
			}
			if err := stock.Increment(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
			res.StockRestored[it.ProductID] += it.Quantity
		}

		if err := tx.DeleteInstallments(ctx, saleID); err != nil {
			return err
		}
		if err := tx.DeletePayments(ctx, saleID); err != nil {
			return err
		}
		if err := p.registers.WithStore(tx).DetachSale(ctx, saleID); err != nil {
			return err
		}
		if err := tx.DeleteSaleItems(ctx, saleID); err != nil {
			return err
		}
		if err := tx.DeleteSale(ctx, saleID); err != nil {
			return err
		}

		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  audit.EntitySale,
			EntityID:    saleID,
			Action:      models.AuditActionDelete,
			Description: fmt.Sprintf("sale #%d of %s deleted", saleID, sale.TotalAmount.StringFixed(2)),
			Reason:      reason,
			Before:      sale,
		})
	})
	if err != nil {
		return nil, wrapStore("sale could not be deleted", err)
	}

	metrics.SalesDeleted.Inc()
	p.log.Info("sale deleted",
		"sale_id", saleID,
		"user_id", actor.ID,
		"units_restored", res.UnitsRestored,
		"reason", reason,
	)
	return res, nil
}

// SaleView is a sale with everything hanging off it.
type SaleView struct {
	models.Sale
	Installments []models.PaymentInstallment `json:"installments"`
	Units        []models.SerializedUnit     `json:"units"`
}

func (p *Processor) Get(ctx context.Context, saleID uint) (*SaleView, error) {
	sale, err := p.store.GetSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("sale not found")
		}
		return nil, apperr.Store("sale lookup failed", err)
	}
	if sale.Items, err = p.store.ListSaleItems(ctx, saleID); err != nil {
		return nil, apperr.Store("sale items could not be loaded", err)
	}
	view := &SaleView{Sale: *sale}
	if view.Installments, err = p.store.ListInstallments(ctx, saleID); err != nil {
		return nil, apperr.Store("installments could not be loaded", err)
	}
	if view.Units, err = p.store.ListUnits(ctx, store.UnitFilter{SaleID: saleID}); err != nil {
		return nil, apperr.Store("units could not be loaded", err)
	}
	return view, nil
}
