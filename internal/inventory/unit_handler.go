package inventory

import (
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/gofiber/fiber/v2"
)

type RegisterUnitsRequest struct {
	Units []UnitInput `json:"units"`
}

type ValidateUnitRequest struct {
	Value            string               `json:"value"`
	Kind             store.IdentifierKind `json:"kind"`
	ExcludeProductID uint                 `json:"exclude_product_id"`
}

// POST /api/products/:id/units (admin, manager)
func RegisterUnitsHandler(ledger *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid product id")
		}

		var body RegisterUnitsRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		units, err := ledger.Register(c.UserContext(), uint(id), body.Units)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(units)
	}
}

// GET /api/products/:id/units?status=available
func ListUnitsHandler(s store.Units) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid product id")
		}

		status := models.UnitStatus(c.Query("status"))
		switch status {
		case "", models.UnitAvailable, models.UnitReserved, models.UnitSold:
		default:
			return fiber.NewError(fiber.StatusBadRequest, "status must be available, reserved or sold")
		}

		units, err := s.ListUnits(c.UserContext(), store.UnitFilter{ProductID: uint(id), Status: status})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "units could not be listed")
		}
		return c.JSON(units)
	}
}

// POST /api/units/validate
func ValidateUnitHandler(ledger *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ValidateUnitRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if body.Kind != store.KindIMEI && body.Kind != store.KindSerial {
			return fiber.NewError(fiber.StatusBadRequest, "kind must be imei or serial")
		}

		res, err := ledger.CheckDuplicate(c.UserContext(), body.Value, body.Kind, body.ExcludeProductID)
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}
