package cashflow

import (
	"pos-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type OpenRegisterRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
	Notes         string          `json:"notes"`
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

// -------------------------------------------------
// POST /api/cash-registers
// -------------------------------------------------
func OpenRegisterHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.MustActor(c.UserContext())
		if err != nil {
			return err
		}

		var body OpenRegisterRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		sess, err := l.Open(c.UserContext(), actor.ID, body.OpeningAmount, body.Notes)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	}
}

// -------------------------------------------------
// GET /api/cash-registers/current
// -------------------------------------------------
func CurrentRegisterHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.MustActor(c.UserContext())
		if err != nil {
			return err
		}

		sess, err := l.Current(c.UserContext(), actor.ID)
		if err != nil {
			return err
		}
		if sess == nil {
			return fiber.NewError(fiber.StatusNotFound, "no open cash register")
		}

		sum, err := l.Summary(c.UserContext(), sess.RegisterID)
		if err != nil {
			return err
		}
		return c.JSON(sum)
	}
}

// -------------------------------------------------
// POST /api/cash-registers/:id/movements
// -------------------------------------------------
func AddMovementHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body MovementInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		m, err := l.AddMovement(c.UserContext(), id, body)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	}
}

// -------------------------------------------------
// DELETE /api/cash-movements/:id
// -------------------------------------------------
func DeleteMovementHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		if err := l.DeleteMovement(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// -------------------------------------------------
// POST /api/cash-registers/:id/close
// -------------------------------------------------
func CloseRegisterHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body CloseInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		res, err := l.Close(c.UserContext(), id, body)
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// -------------------------------------------------
// GET /api/cash-registers/:id/summary
// -------------------------------------------------
func SummaryHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		sum, err := l.Summary(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(sum)
	}
}
