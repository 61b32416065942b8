package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pos-backend/internal/apperr"
	"pos-backend/internal/auth"
	"pos-backend/internal/cashflow"
	"pos-backend/internal/installment"
	"pos-backend/internal/inventory"
	"pos-backend/internal/metrics"
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateValidating  State = "validating"
	StateReserving   State = "reserving"
	StateWriting     State = "writing"
	StateCommitting  State = "committing"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling_back"
	StateFailed      State = "failed"
)

// Outcome is what a Process call ended with. Validation is always set once
// validation ran, even for failed submissions.
type Outcome struct {
	State      State             `json:"state"`
	Sale       *models.Sale      `json:"sale,omitempty"`
	Items      []models.SaleItem `json:"items,omitempty"`
	Change     decimal.Decimal   `json:"change"`
	Duplicate  bool              `json:"duplicate"`
	Validation *ValidationResult `json:"validation,omitempty"`
}

type Processor struct {
	store        store.Store
	validator    *Validator
	ledger       *inventory.Ledger
	stock        *inventory.Stock
	registers    *cashflow.Ledger
	installments *installment.Ledger
	log          *slog.Logger
}

func NewProcessor(
	s store.Store,
	validator *Validator,
	ledger *inventory.Ledger,
	stock *inventory.Stock,
	registers *cashflow.Ledger,
	installments *installment.Ledger,
	log *slog.Logger,
) *Processor {
	return &Processor{
		store:        s,
		validator:    validator,
		ledger:       ledger,
		stock:        stock,
		registers:    registers,
		installments: installments,
		log:          log,
	}
}

// Process turns a cart into a committed sale or leaves no trace of it.
// Every side effect registers its compensation on an undo log before the
// next step runs; on failure the log is unwound in reverse order.
func (p *Processor) Process(ctx context.Context, cart Cart) (*Outcome, error) {
	actor, err := auth.MustActor(ctx)
	if err != nil {
		return nil, err
	}
	cart.IdempotencyKey = strings.TrimSpace(cart.IdempotencyKey)

	if cart.IdempotencyKey != "" {
		if out, err := p.existing(ctx, cart.IdempotencyKey); out != nil || err != nil {
			return out, err
		}
	}

	out := &Outcome{State: StateValidating}
	res, err := p.validator.Validate(ctx, cart)
	if err != nil {
		metrics.SalesProcessed.WithLabelValues("failed").Inc()
		return out, err
	}
	out.Validation = res
	if !res.IsValid {
		metrics.SalesProcessed.WithLabelValues("invalid").Inc()
		return out, apperr.Validation("sale is invalid", res.Errors...)
	}

	undo := &undoLog{log: p.log}
	sale, items, err := p.apply(ctx, actor, cart, res, out, undo)
	if err != nil {
		failedIn := out.State
		out.State = StateRollingBack
		if rbErr := undo.unwind(ctx); rbErr != nil {
			p.log.Error("sale rollback incomplete", "state", failedIn, "error", rbErr)
		}
		out.State = StateFailed
		metrics.SaleRollbacks.WithLabelValues(string(failedIn)).Inc()

		if errors.Is(err, store.ErrDuplicate) && cart.IdempotencyKey != "" {
			if dup, dupErr := p.existing(ctx, cart.IdempotencyKey); dup != nil {
				return dup, nil
			} else if dupErr != nil {
				err = dupErr
			}
		}
		if apperr.Is(err, apperr.KindStockRace) {
			metrics.SalesProcessed.WithLabelValues("stock_race").Inc()
		} else {
			metrics.SalesProcessed.WithLabelValues("failed").Inc()
		}
		p.log.Warn("sale failed", "state", failedIn, "user_id", actor.ID, "error", err)
		return out, wrapStore("sale could not be saved", err)
	}

	out.State = StateCommitted
	out.Sale, out.Items = sale, items
	if cart.PaymentType == models.PaymentTypeCash && cart.AmountReceived != nil {
		out.Change = cart.AmountReceived.Sub(sale.TotalAmount)
	}
	metrics.SalesProcessed.WithLabelValues("committed").Inc()
	p.log.Info("sale committed",
		"sale_id", sale.ID,
		"user_id", actor.ID,
		"total", sale.TotalAmount.StringFixed(2),
		"payment_type", sale.PaymentType,
		"items", len(items),
	)
	return out, nil
}

func (p *Processor) existing(ctx context.Context, key string) (*Outcome, error) {
	sale, err := p.store.FindSaleByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, apperr.Store("idempotency lookup failed", err)
	}
	items, err := p.store.ListSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, apperr.Store("sale items could not be loaded", err)
	}
	metrics.SalesProcessed.WithLabelValues("duplicate").Inc()
	p.log.Info("duplicate sale submission", "sale_id", sale.ID, "idempotency_key", key)
	return &Outcome{State: StateCommitted, Sale: sale, Items: items, Duplicate: true}, nil
}

func (p *Processor) apply(ctx context.Context, actor auth.Actor, cart Cart, res *ValidationResult, out *Outcome, undo *undoLog) (*models.Sale, []models.SaleItem, error) {
	out.State = StateReserving
	token := inventory.NewToken()
	var unitIDs []uint
	for _, it := range res.ValidatedItems {
		if it.SerialTracked() {
			unitIDs = append(unitIDs, it.SelectedUnitIDs...)
		}
	}
	if len(unitIDs) > 0 {
		// Registered first so partial reservations are always released.
		undo.push("release reservation", func(ctx context.Context) error {
			_, err := p.ledger.Release(ctx, token)
			return err
		})
		n, err := p.ledger.Reserve(ctx, unitIDs, token)
		if err != nil {
			return nil, nil, err
		}
		if n != len(unitIDs) {
			return nil, nil, apperr.StockRace(fmt.Sprintf(
				"%d of %d selected units were taken by another sale", len(unitIDs)-n, len(unitIDs)))
		}
	}

	out.State = StateWriting
	sale := &models.Sale{
		CustomerID:     res.CustomerID,
		UserID:         actor.ID,
		Subtotal:       res.Subtotal,
		DiscountAmount: cart.DiscountAmount,
		TotalAmount:    res.Total,
		PaymentType:    cart.PaymentType,
		TotalPaid:      decimal.Zero,
		PaymentStatus:  models.DerivePaymentStatus(res.Total, decimal.Zero),
	}
	if cart.PaymentType == models.PaymentTypeCash {
		sale.TotalPaid = res.Total
		sale.PaymentStatus = models.PaymentPaid
	}
	if cart.IdempotencyKey != "" {
		key := cart.IdempotencyKey
		sale.IdempotencyKey = &key
	}
	if err := p.store.CreateSale(ctx, sale); err != nil {
		return nil, nil, err
	}
	undo.push("delete sale", func(ctx context.Context) error {
		if err := p.store.DeleteSale(ctx, sale.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})

	items := make([]*models.SaleItem, len(res.ValidatedItems))
	for i, it := range res.ValidatedItems {
		items[i] = &models.SaleItem{
			SaleID:     sale.ID,
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.LineTotal,
			Position:   it.Position,
		}
	}
	undo.push("delete sale items", func(ctx context.Context) error {
		return p.store.DeleteSaleItems(ctx, sale.ID)
	})
	if err := p.store.CreateSaleItems(ctx, items); err != nil {
		return nil, nil, err
	}

	if len(unitIDs) > 0 {
		undo.push("restore sold units", func(ctx context.Context) error {
			_, err := p.ledger.Restore(ctx, sale.ID)
			return err
		})
	}
	for i, it := range res.ValidatedItems {
		if it.SerialTracked() {
			if err := p.ledger.MarkSold(ctx, it.SelectedUnitIDs, token, sale.ID, items[i].ID); err != nil {
				return nil, nil, err
			}
			continue
		}
		if err := p.stock.Decrement(ctx, it.ProductID, it.Quantity); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				return nil, nil, apperr.StockRace(fmt.Sprintf("stock of %q changed while the sale was processed", it.Product.Name))
			}
			return nil, nil, err
		}
		productID, qty := it.ProductID, it.Quantity
		undo.push("restore stock", func(ctx context.Context) error {
			return p.stock.Increment(ctx, productID, qty)
		})
	}

	if err := p.settle(ctx, actor, cart, sale, undo); err != nil {
		return nil, nil, err
	}

	out.State = StateCommitting
	if len(unitIDs) > 0 {
		// MarkSold cleared the token; anything left reserved under it is stale.
		if _, err := p.ledger.Release(ctx, token); err != nil {
			return nil, nil, err
		}
	}
	stored := make([]models.SaleItem, len(items))
	for i, it := range items {
		stored[i] = *it
	}
	return sale, stored, nil
}

// settle writes the payment side of the sale: the cash payment row or the
// installment down payment, booked on the actor's open register if any.
func (p *Processor) settle(ctx context.Context, actor auth.Actor, cart Cart, sale *models.Sale, undo *undoLog) error {
	switch sale.PaymentType {
	case models.PaymentTypeCash:
		undo.push("delete payments", func(ctx context.Context) error {
			return p.store.DeletePayments(ctx, sale.ID)
		})
		if err := p.store.CreatePayment(ctx, &models.Payment{
			SaleID: sale.ID,
			Amount: sale.TotalAmount,
			Method: installment.DefaultMethod,
		}); err != nil {
			return err
		}
		sess, err := p.registers.Current(ctx, actor.ID)
		if err != nil {
			return err
		}
		if sess == nil {
			return nil
		}
		rec, err := p.registers.RecordSale(ctx, sess, sale.ID, sale.TotalAmount, models.CategorySale,
			fmt.Sprintf("sale #%d", sale.ID))
		if err != nil {
			return err
		}
		undo.push("reverse register booking", func(ctx context.Context) error {
			return p.registers.ReverseSale(ctx, rec)
		})

	case models.PaymentTypeInstallment:
		if cart.AmountReceived == nil || !cart.AmountReceived.IsPositive() {
			return nil
		}
		res, err := p.installments.AddPayment(ctx, sale.ID, installment.PaymentInput{
			Amount: *cart.AmountReceived,
			Notes:  "down payment",
		})
		if err != nil {
			return err
		}
		undo.push("revert down payment", func(ctx context.Context) error {
			return p.installments.Revert(ctx, res)
		})
		sale.TotalPaid = res.Sale.TotalPaid
		sale.PaymentStatus = res.Sale.PaymentStatus
	}
	return nil
}

func wrapStore(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Store(op, err)
}
