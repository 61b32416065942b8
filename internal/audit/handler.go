package audit

import (
	"strconv"

	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/gofiber/fiber/v2"
)

const defaultListLimit = 200

type AuditLogResponse struct {
	ID          uint               `json:"id"`
	CreatedAt   string             `json:"created_at"`
	UserID      uint               `json:"user_id"`
	UserName    string             `json:"user_name"`
	EntityType  string             `json:"entity_type"`
	EntityID    uint               `json:"entity_id"`
	Action      models.AuditAction `json:"action"`
	Description string             `json:"description"`
	Reason      string             `json:"reason,omitempty"`
}

func queryUint(c *fiber.Ctx, key string) uint {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

// GET /api/audit-logs?entity_type=sale&entity_id=1&user_id=2&limit=50
func ListAuditLogsHandler(s store.Audit) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultListLimit)
		if limit <= 0 || limit > 1000 {
			limit = defaultListLimit
		}

		logs, err := s.ListAuditLogs(c.UserContext(), store.AuditFilter{
			EntityType: c.Query("entity_type"),
			EntityID:   queryUint(c, "entity_id"),
			UserID:     queryUint(c, "user_id"),
			Limit:      limit,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "audit logs could not be listed")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			resp = append(resp, AuditLogResponse{
				ID:          l.ID,
				CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
				UserID:      l.UserID,
				UserName:    l.UserName,
				EntityType:  l.EntityType,
				EntityID:    l.EntityID,
				Action:      l.Action,
				Description: l.Description,
				Reason:      l.Reason,
			})
		}
		return c.JSON(resp)
	}
}
