package cashflow

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
	"pos-backend/internal/metrics"
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/shopspring/decimal"
)

// Session is the handle of an open register. It is returned by Open and
// Current and passed to every call that books cash against the register.
type Session struct {
	RegisterID uint      `json:"register_id"`
	UserID     uint      `json:"user_id"`
	OpenedAt   time.Time `json:"opened_at"`
}

func sessionOf(r *models.CashRegister) *Session {
	return &Session{RegisterID: r.ID, UserID: r.UserID, OpenedAt: r.OpenedAt}
}

type Ledger struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewLedger(s store.Store, log *slog.Logger) *Ledger {
	return &Ledger{store: s, log: log, now: time.Now}
}

// WithStore returns a copy of l bound to s, typically a transaction.
func (l *Ledger) WithStore(s store.Store) *Ledger {
	cp := *l
	cp.store = s
	return &cp
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

// -------------------------------------------------
// Derived figures
// -------------------------------------------------

// Balance is the running cash of a register: opening + income + sale -
// expense. The opening movement mirrors opening_amount and is counted once;
// registers without one fall back to opening_amount.
func Balance(r models.CashRegister, movements []models.CashMovement) decimal.Decimal {
	opening := decimal.Zero
	hasOpening := false
	flow := decimal.Zero
	for _, m := range movements {
		switch m.Type {
		case models.MovementOpening:
			opening = opening.Add(m.Amount)
			hasOpening = true
		case models.MovementIncome, models.MovementSale:
			flow = flow.Add(m.Amount)
		case models.MovementExpense:
			flow = flow.Sub(m.Amount)
		}
	}
	if !hasOpening {
		opening = r.OpeningAmount
	}
	return opening.Add(flow)
}

// ExpectedClosing is opening_amount plus every sale-type movement.
func ExpectedClosing(r models.CashRegister, movements []models.CashMovement) decimal.Decimal {
	expected := r.OpeningAmount
	for _, m := range movements {
		if m.Type == models.MovementSale {
			expected = expected.Add(m.Amount)
		}
	}
	return expected
}

// -------------------------------------------------
// Session lifecycle
// -------------------------------------------------

func (l *Ledger) loadRegister(ctx context.Context, id uint) (*models.CashRegister, error) {
	r, err := l.store.GetRegister(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("cash register not found")
		}
		return nil, apperr.Store("cash register lookup failed", err)
	}
	return r, nil
}

// ownedOpen loads a register the actor may operate on: it must be open and
// belong to the actor, unless the actor is privileged.
func (l *Ledger) ownedOpen(ctx context.Context, id uint) (*models.CashRegister, auth.Actor, error) {
	actor, err := auth.MustActor(ctx)
	if err != nil {
		return nil, actor, err
	}
	r, err := l.loadRegister(ctx, id)
	if err != nil {
		return nil, actor, err
	}
	if r.UserID != actor.ID && !actor.Role.Privileged() {
		return nil, actor, apperr.Permission("cash register belongs to another user")
	}
	if r.Status != models.RegisterOpen {
		return nil, actor, apperr.Validation("cash register is closed")
	}
	return r, actor, nil
}

// Open starts a session for userID. A user holds at most one open register.
func (l *Ledger) Open(ctx context.Context, userID uint, openingAmount decimal.Decimal, notes string) (*Session, error) {
	if openingAmount.IsNegative() {
		return nil, apperr.Validation("opening amount cannot be negative")
	}

	r := &models.CashRegister{
		UserID:        userID,
		Status:        models.RegisterOpen,
		OpeningAmount: openingAmount,
		TotalSales:    decimal.Zero,
		OpenedAt:      l.now(),
		Notes:         strings.TrimSpace(notes),
	}
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateRegister(ctx, r); err != nil {
			return err
		}
		return tx.CreateMovement(ctx, &models.CashMovement{
			CashRegisterID: r.ID,
			Type:           models.MovementOpening,
			Category:       models.CategoryOpening,
			Amount:         openingAmount,
			Description:    "opening balance",
			CreatedBy:      userID,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrRegisterOpen) {
			return nil, apperr.Validation("user already has an open cash register")
		}
		l.log.Error("cash register could not be opened", "user_id", userID, "err", err)
		return nil, apperr.Store("cash register could not be opened", err)
	}

	metrics.OpenRegisters.Inc()
	l.log.Info("cash register opened", "register_id", r.ID, "user_id", userID, "opening_amount", openingAmount.String())
	return sessionOf(r), nil
}

// Current returns the open session of userID, or nil when there is none.
func (l *Ledger) Current(ctx context.Context, userID uint) (*Session, error) {
	r, err := l.store.FindOpenRegister(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, apperr.Store("open register lookup failed", err)
	}
	return sessionOf(r), nil
}

type MovementInput struct {
	Type        models.MovementType `json:"type"`
	Category    string              `json:"category"`
	Amount      decimal.Decimal     `json:"amount"`
	Description string              `json:"description"`
}

// AddMovement books a manual income or expense on an open register.
func (l *Ledger) AddMovement(ctx context.Context, registerID uint, in MovementInput) (*models.CashMovement, error) {
	var problems []string
	if !in.Type.UserDeletable() {
		problems = append(problems, "type must be income or expense")
	}
	if !in.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if len(problems) > 0 {
		return nil, apperr.Validation("invalid cash movement", problems...)
	}

	r, actor, err := l.ownedOpen(ctx, registerID)
	if err != nil {
		return nil, err
	}

	m := &models.CashMovement{
		CashRegisterID: r.ID,
		Type:           in.Type,
		Category:       strings.TrimSpace(in.Category),
		Amount:         in.Amount,
		Description:    strings.TrimSpace(in.Description),
		CreatedBy:      actor.ID,
	}
	if err := l.store.CreateMovement(ctx, m); err != nil {
		return nil, apperr.Store("cash movement could not be saved", err)
	}
	return m, nil
}

// DeleteMovement removes a user-entered income or expense from an open
// register. Sale, opening and closing movements are permanent.
func (l *Ledger) DeleteMovement(ctx context.Context, movementID uint) error {
	m, err := l.store.GetMovement(ctx, movementID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("cash movement not found")
		}
		return apperr.Store("cash movement lookup failed", err)
	}
	if !m.Type.UserDeletable() {
		return apperr.Validation(fmt.Sprintf("%s movements cannot be deleted", m.Type))
	}
	if _, _, err := l.ownedOpen(ctx, m.CashRegisterID); err != nil {
		return err
	}

	err = l.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteMovement(ctx, m.ID); err != nil {
			return err
		}
		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  audit.EntityCashMovement,
			EntityID:    m.ID,
			Action:      models.AuditActionDelete,
			Description: fmt.Sprintf("%s movement of %s deleted", m.Type, m.Amount.StringFixed(2)),
			Before:      m,
		})
	})
	if err != nil {
		return apperr.Store("cash movement could not be deleted", err)
	}
	return nil
}

type CloseInput struct {
	ActualAmount decimal.Decimal `json:"actual_amount"`
	Reason       string          `json:"reason"`
	Notes        string          `json:"notes"`
	// Force confirms closing with a discrepancy and no reason.
	Force bool `json:"force"`
}

type CloseResult struct {
	Register    *models.CashRegister `json:"register"`
	Expected    decimal.Decimal      `json:"expected"`
	Discrepancy decimal.Decimal      `json:"discrepancy"`
}

// Close reconciles counted cash against opening plus sales and ends the
// session. A closed register can never be reopened.
func (l *Ledger) Close(ctx context.Context, registerID uint, in CloseInput) (*CloseResult, error) {
	if in.ActualAmount.IsNegative() {
		return nil, apperr.Validation("actual amount cannot be negative")
	}
	r, actor, err := l.ownedOpen(ctx, registerID)
	if err != nil {
		return nil, err
	}

	movements, err := l.store.ListMovements(ctx, r.ID)
	if err != nil {
		return nil, apperr.Store("cash movements could not be loaded", err)
	}
	expected := ExpectedClosing(*r, movements)
	discrepancy := in.ActualAmount.Sub(expected)
	reason := strings.TrimSpace(in.Reason)

	if !discrepancy.IsZero() && reason == "" && !in.Force {
		return nil, apperr.Validation(
			"a reason is required when the counted cash differs from the expected amount",
			fmt.Sprintf("expected %s, counted %s, discrepancy %s",
				expected.StringFixed(2), in.ActualAmount.StringFixed(2), discrepancy.StringFixed(2)),
		)
	}

	before := *r
	closedAt := l.now()
	r.ClosedAt = &closedAt
	r.ExpectedClosingAmount = &expected
	r.ActualClosingAmount = &in.ActualAmount
	r.DiscrepancyAmount = &discrepancy
	r.DiscrepancyReason = reason
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		r.Notes = notes
	}

	err = l.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateMovement(ctx, &models.CashMovement{
			CashRegisterID: r.ID,
			Type:           models.MovementClosing,
			Category:       "closing",
			Amount:         in.ActualAmount,
			Description:    "counted cash at close",
			CreatedBy:      actor.ID,
		}); err != nil {
			return err
		}
		if err := tx.CloseRegister(ctx, r); err != nil {
			return err
		}
		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  audit.EntityCashRegister,
			EntityID:    r.ID,
			Action:      models.AuditActionClose,
			Description: fmt.Sprintf("register closed, discrepancy %s", discrepancy.StringFixed(2)),
			Reason:      reason,
			Before:      before,
			After:       r,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Validation("cash register is already closed")
		}
		l.log.Error("cash register could not be closed", "register_id", r.ID, "err", err)
		return nil, apperr.Store("cash register could not be closed", err)
	}

	metrics.OpenRegisters.Dec()
	if !discrepancy.IsZero() {
		metrics.RegisterDiscrepancies.Inc()
		l.log.Warn("cash register closed with discrepancy",
			"register_id", r.ID, "expected", expected.String(), "actual", in.ActualAmount.String(), "reason", reason)
	} else {
		l.log.Info("cash register closed", "register_id", r.ID)
	}
	return &CloseResult{Register: r, Expected: expected, Discrepancy: discrepancy}, nil
}

// -------------------------------------------------
// Sale bookings
// -------------------------------------------------

// SaleRecord is what RecordSale wrote, kept so the caller can reverse it.
type SaleRecord struct {
	RegisterID uint
	Movement   *models.CashMovement
	Link       *models.CashRegisterSale
}

// RecordSale books amount received for saleID on the session's register:
// a sale-type movement, the register/sale link for direct sales and the
// register's total_sales. A negative amount books a correction.
func (l *Ledger) RecordSale(ctx context.Context, sess *Session, saleID uint, amount decimal.Decimal, category, description string) (*SaleRecord, error) {
	if sess == nil {
		return nil, apperr.Validation("no open cash register")
	}
	rec := &SaleRecord{RegisterID: sess.RegisterID}
	ref := saleID
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		m := &models.CashMovement{
			CashRegisterID: sess.RegisterID,
			Type:           models.MovementSale,
			Category:       category,
			Amount:         amount,
			Description:    description,
			ReferenceID:    &ref,
			CreatedBy:      sess.UserID,
		}
		if err := tx.CreateMovement(ctx, m); err != nil {
			return err
		}
		rec.Movement = m

		if category == models.CategorySale {
			link := &models.CashRegisterSale{CashRegisterID: sess.RegisterID, SaleID: saleID, Amount: amount}
			if err := tx.CreateRegisterSale(ctx, link); err != nil {
				return err
			}
			rec.Link = link
		}
		return tx.AddRegisterSales(ctx, sess.RegisterID, amount)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Validation("cash register was closed")
		}
		return nil, apperr.Store("sale could not be booked on the cash register", err)
	}
	return rec, nil
}

// ReverseSale undoes a RecordSale. It is used by compensation paths and must
// be safe to call on a partially applied record.
func (l *Ledger) ReverseSale(ctx context.Context, rec *SaleRecord) error {
	if rec == nil || rec.Movement == nil {
		return nil
	}
	return l.store.WithTx(ctx, func(tx store.Store) error {
		r, err := tx.GetRegister(ctx, rec.RegisterID)
		if err != nil {
			return err
		}
		if r.Status != models.RegisterOpen {
			// Closed registers are final.
			return nil
		}
		if err := tx.DeleteMovement(ctx, rec.Movement.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if rec.Link != nil {
			if err := tx.DeleteRegisterSale(ctx, rec.Link.ID); err != nil {
				return err
			}
		}
		return tx.AddRegisterSales(ctx, rec.RegisterID, rec.Movement.Amount.Neg())
	})
}

// DetachSale removes the cash bookings of a deleted sale. Bookings on open
// registers are deleted and subtracted from total_sales; closed registers
// keep their figures. Links to every register are removed.
func (l *Ledger) DetachSale(ctx context.Context, saleID uint) error {
	movements, err := l.store.ListMovementsByReference(ctx, saleID)
	if err != nil {
		return err
	}
	open := map[uint]bool{}
	for _, m := range movements {
		if m.Type != models.MovementSale {
			continue
		}
		isOpen, seen := open[m.CashRegisterID]
		if !seen {
			r, err := l.store.GetRegister(ctx, m.CashRegisterID)
			if err != nil {
				return err
			}
			isOpen = r.Status == models.RegisterOpen
			open[m.CashRegisterID] = isOpen
		}
		if !isOpen {
			continue
		}
		if err := l.store.DeleteMovement(ctx, m.ID); err != nil {
			return err
		}
		if err := l.store.AddRegisterSales(ctx, m.CashRegisterID, m.Amount.Neg()); err != nil {
			return err
		}
	}
	return l.store.DeleteRegisterSales(ctx, saleID)
}

// -------------------------------------------------
// Reads
// -------------------------------------------------

type Summary struct {
	Register  *models.CashRegister  `json:"register"`
	Sales     store.SalesSummary    `json:"sales"`
	Balance   decimal.Decimal       `json:"balance"`
	Expected  decimal.Decimal       `json:"expected_closing_amount"`
	Movements []models.CashMovement `json:"movements"`
}

func (l *Ledger) Summary(ctx context.Context, registerID uint) (*Summary, error) {
	r, err := l.loadRegister(ctx, registerID)
	if err != nil {
		return nil, err
	}
	movements, err := l.store.ListMovements(ctx, r.ID)
	if err != nil {
		return nil, apperr.Store("cash movements could not be loaded", err)
	}
	sales, err := l.store.RegisterSalesSummary(ctx, r.ID)
	if err != nil {
		return nil, apperr.Store("register summary failed", err)
	}
	return &Summary{
		Register:  r,
		Sales:     sales,
		Balance:   Balance(*r, movements),
		Expected:  ExpectedClosing(*r, movements),
		Movements: movements,
	}, nil
}
