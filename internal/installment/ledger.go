// Package installment keeps the partial payments of a sale. The sale's
// total_paid and payment_status are recomputed from the full installment set
// on every change, never adjusted incrementally.
package installment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pos-backend/internal/apperr"
	"pos-backend/internal/audit"
	"pos-backend/internal/auth"
	"pos-backend/internal/cashflow"
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/shopspring/decimal"
)

const DefaultMethod = "cash"

type Totals struct {
	TotalPaid decimal.Decimal      `json:"total_paid"`
	Status    models.PaymentStatus `json:"payment_status"`
	Remaining decimal.Decimal      `json:"remaining"`
}

// Recompute derives the payment figures of a sale of amount total from its
// installments.
func Recompute(total decimal.Decimal, installments []models.PaymentInstallment) Totals {
	paid := decimal.Zero
	for _, i := range installments {
		paid = paid.Add(i.AmountPaid)
	}
	remaining := total.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Totals{
		TotalPaid: paid,
		Status:    models.DerivePaymentStatus(total, paid),
		Remaining: remaining,
	}
}

type Ledger struct {
	store     store.Store
	registers *cashflow.Ledger
	log       *slog.Logger
	now       func() time.Time
}

func NewLedger(s store.Store, registers *cashflow.Ledger, log *slog.Logger) *Ledger {
	return &Ledger{store: s, registers: registers, log: log, now: time.Now}
}

type PaymentInput struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"payment_method"`
	Notes       string          `json:"notes"`
	PaymentDate *time.Time      `json:"payment_date"`
}

// Result is the state after a payment change. Register is set when the
// change was booked on the actor's open cash register.
type Result struct {
	Installment *models.PaymentInstallment `json:"installment"`
	Sale        *models.Sale               `json:"sale"`
	Totals      Totals                     `json:"totals"`
	Register    *cashflow.SaleRecord       `json:"-"`
}

func loadSale(ctx context.Context, s store.Store, id uint) (*models.Sale, error) {
	sale, err := s.GetSale(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("sale not found")
		}
		return nil, apperr.Store("sale lookup failed", err)
	}
	return sale, nil
}

func loadInstallment(ctx context.Context, s store.Store, id uint) (*models.PaymentInstallment, error) {
	i, err := s.GetInstallment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("installment not found")
		}
		return nil, apperr.Store("installment lookup failed", err)
	}
	return i, nil
}

// sync recomputes and stores the sale totals, then books delta on the
// actor's open register, if any.
func (l *Ledger) sync(ctx context.Context, tx store.Store, sale *models.Sale, delta decimal.Decimal, note string) (Totals, *cashflow.SaleRecord, error) {
	list, err := tx.ListInstallments(ctx, sale.ID)
	if err != nil {
		return Totals{}, nil, err
	}
	totals := Recompute(sale.TotalAmount, list)
	if err := tx.UpdateSaleTotals(ctx, sale.ID, totals.TotalPaid, totals.Status); err != nil {
		return totals, nil, err
	}
	sale.TotalPaid = totals.TotalPaid
	sale.PaymentStatus = totals.Status

	if delta.IsZero() {
		return totals, nil, nil
	}
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return totals, nil, nil
	}
	registers := l.registers.WithStore(tx)
	sess, err := registers.Current(ctx, actor.ID)
	if err != nil || sess == nil {
		return totals, nil, err
	}
	rec, err := registers.RecordSale(ctx, sess, sale.ID, delta, models.CategoryInstallment, note)
	return totals, rec, err
}

// AddPayment records amount against saleID, which must be an installment
// sale. The amount must be positive and may not exceed the remaining balance.
func (l *Ledger) AddPayment(ctx context.Context, saleID uint, in PaymentInput) (*Result, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be positive")
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = DefaultMethod
	}
	paidAt := l.now()
	if in.PaymentDate != nil {
		paidAt = *in.PaymentDate
	}
	actor, _ := auth.ActorFromContext(ctx)

	res := &Result{}
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		sale, err := loadSale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if sale.PaymentType != models.PaymentTypeInstallment {
			return apperr.Validation(fmt.Sprintf("sale #%d is a %s sale and takes no installments", sale.ID, sale.PaymentType))
		}
		remaining := sale.Remaining()
		if in.Amount.GreaterThan(remaining) {
			return apperr.Validation(fmt.Sprintf("payment of %s exceeds the remaining balance of %s",
				in.Amount.StringFixed(2), remaining.StringFixed(2)))
		}

		inst := &models.PaymentInstallment{
			SaleID:        sale.ID,
			AmountPaid:    in.Amount,
			PaymentDate:   paidAt,
			PaymentMethod: method,
			Notes:         strings.TrimSpace(in.Notes),
			CreatedBy:     actor.ID,
		}
		if err := tx.CreateInstallment(ctx, inst); err != nil {
			return apperr.Store("installment could not be saved", err)
		}
		instID := inst.ID
		if err := tx.CreatePayment(ctx, &models.Payment{
			SaleID:        sale.ID,
			InstallmentID: &instID,
			Amount:        in.Amount,
			Method:        method,
		}); err != nil {
			return apperr.Store("payment record could not be saved", err)
		}

		totals, rec, err := l.sync(ctx, tx, sale, in.Amount, fmt.Sprintf("installment for sale #%d", sale.ID))
		if err != nil {
			return err
		}
		res.Installment, res.Sale, res.Totals, res.Register = inst, sale, totals, rec
		return nil
	})
	if err != nil {
		return nil, wrapStore("installment could not be added", err)
	}
	return res, nil
}

// EditPayment changes the amount of an installment. The new amount may not
// push the total paid above the sale total.
func (l *Ledger) EditPayment(ctx context.Context, installmentID uint, amount decimal.Decimal, notes *string) (*Result, error) {
	if _, err := auth.RequirePrivileged(ctx); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be positive")
	}

	res := &Result{}
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		inst, err := loadInstallment(ctx, tx, installmentID)
		if err != nil {
			return err
		}
		before := *inst
		sale, err := loadSale(ctx, tx, inst.SaleID)
		if err != nil {
			return err
		}
		list, err := tx.ListInstallments(ctx, sale.ID)
		if err != nil {
			return apperr.Store("installments could not be loaded", err)
		}
		others := Recompute(sale.TotalAmount, list).TotalPaid.Sub(inst.AmountPaid)
		allowed := sale.TotalAmount.Sub(others)
		if amount.GreaterThan(allowed) {
			return apperr.Validation(fmt.Sprintf("payment of %s exceeds the remaining balance of %s",
				amount.StringFixed(2), allowed.StringFixed(2)))
		}

		delta := amount.Sub(inst.AmountPaid)
		inst.AmountPaid = amount
		if notes != nil {
			inst.Notes = strings.TrimSpace(*notes)
		}
		if err := tx.UpdateInstallment(ctx, inst); err != nil {
			return apperr.Store("installment could not be updated", err)
		}
		if err := tx.UpdateInstallmentPayment(ctx, inst.ID, amount); err != nil {
			return apperr.Store("payment record could not be updated", err)
		}

		totals, rec, err := l.sync(ctx, tx, sale, delta, fmt.Sprintf("installment #%d corrected", inst.ID))
		if err != nil {
			return err
		}
		if err := audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  audit.EntityInstallment,
			EntityID:    inst.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("installment of sale #%d changed from %s to %s", sale.ID, before.AmountPaid.StringFixed(2), amount.StringFixed(2)),
			Before:      before,
			After:       inst,
		}); err != nil {
			return err
		}
		res.Installment, res.Sale, res.Totals, res.Register = inst, sale, totals, rec
		return nil
	})
	if err != nil {
		return nil, wrapStore("installment could not be updated", err)
	}
	return res, nil
}

func (l *Ledger) DeletePayment(ctx context.Context, installmentID uint) (*Result, error) {
	if _, err := auth.RequirePrivileged(ctx); err != nil {
		return nil, err
	}

	res := &Result{}
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		inst, err := loadInstallment(ctx, tx, installmentID)
		if err != nil {
			return err
		}
		sale, err := loadSale(ctx, tx, inst.SaleID)
		if err != nil {
			return err
		}
		if err := tx.DeleteInstallment(ctx, inst.ID); err != nil {
			return apperr.Store("installment could not be deleted", err)
		}
		if err := tx.DeleteInstallmentPayment(ctx, inst.ID); err != nil {
			return apperr.Store("payment record could not be deleted", err)
		}

		totals, rec, err := l.sync(ctx, tx, sale, inst.AmountPaid.Neg(), fmt.Sprintf("installment #%d deleted", inst.ID))
		if err != nil {
			return err
		}
		if err := audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  audit.EntityInstallment,
			EntityID:    inst.ID,
			Action:      models.AuditActionDelete,
			Description: fmt.Sprintf("installment of %s deleted from sale #%d", inst.AmountPaid.StringFixed(2), sale.ID),
			Before:      inst,
		}); err != nil {
			return err
		}
		res.Installment, res.Sale, res.Totals, res.Register = inst, sale, totals, rec
		return nil
	})
	if err != nil {
		return nil, wrapStore("installment could not be deleted", err)
	}
	return res, nil
}

// Revert removes an installment written by AddPayment without recomputing
// the sale. It serves compensation paths where the sale itself is about to
// be removed.
func (l *Ledger) Revert(ctx context.Context, res *Result) error {
	if res == nil || res.Installment == nil {
		return nil
	}
	if err := l.registers.ReverseSale(ctx, res.Register); err != nil {
		return err
	}
	return l.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteInstallmentPayment(ctx, res.Installment.ID); err != nil {
			return err
		}
		if err := tx.DeleteInstallment(ctx, res.Installment.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})
}

func (l *Ledger) List(ctx context.Context, saleID uint) ([]models.PaymentInstallment, error) {
	if _, err := loadSale(ctx, l.store, saleID); err != nil {
		return nil, err
	}
	list, err := l.store.ListInstallments(ctx, saleID)
	if err != nil {
		return nil, apperr.Store("installments could not be loaded", err)
	}
	return list, nil
}

func wrapStore(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Store(op, err)
}
