package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"pos-backend/internal/auth"
	"pos-backend/internal/models"
	"pos-backend/internal/store"
)

type LogOptions struct {
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Reason      string
	Before      any
	After       any
}

// Entity types written to the audit trail.
const (
	EntitySale         = "sale"
	EntityCashRegister = "cash_register"
	EntityCashMovement = "cash_movement"
	EntityInstallment  = "payment_installment"
)

// WriteLog records opts for the actor carried by ctx.
func WriteLog(ctx context.Context, s store.Audit, opts LogOptions) error {
	actor, _ := auth.ActorFromContext(ctx)

	// jsonb needs "null" rather than an empty string.
	beforeStr := "null"
	afterStr := "null"
	if opts.Before != nil {
		if b, err := json.Marshal(opts.Before); err == nil {
			beforeStr = string(b)
		}
	}
	if opts.After != nil {
		if b, err := json.Marshal(opts.After); err == nil {
			afterStr = string(b)
		}
	}

	entry := models.AuditLog{
		UserID:      actor.ID,
		UserName:    actor.Name,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		Reason:      opts.Reason,
		BeforeData:  beforeStr,
		AfterData:   afterStr,
	}
	if err := s.CreateAuditLog(ctx, &entry); err != nil {
		return fmt.Errorf("audit log could not be written: %w", err)
	}
	return nil
}
