package installment

import (

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type EditPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  *string         `json:"notes"`
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

// POST /api/sales/:id/installments
func AddPaymentHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		saleID, err := paramID(c)
		if err != nil {
			return err
		}

		var body PaymentInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		res, err := l.AddPayment(c.UserContext(), saleID, body)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

// GET /api/sales/:id/installments
func ListPaymentsHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		saleID, err := paramID(c)
		if err != nil {
			return err
		}

		list, err := l.List(c.UserContext(), saleID)
		if err != nil {
			return err
		}
		return c.JSON(list)
	}
}

// PUT /api/installments/:id (admin, manager)
func EditPaymentHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body EditPaymentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		res, err := l.EditPayment(c.UserContext(), id, body.Amount, body.Notes)
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// DELETE /api/installments/:id (admin, manager)
func DeletePaymentHandler(l *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		res, err := l.DeletePayment(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}
