package sales

import (

	"github.com/gofiber/fiber/v2"
)

type DeleteSaleRequest struct {
	Reason string `json:"reason"`
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

// -------------------------------------------------
// POST /api/sales/validate
// -------------------------------------------------
func ValidateHandler(v *Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var cart Cart
		if err := c.BodyParser(&cart); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		res, err := v.Validate(c.UserContext(), cart)
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// -------------------------------------------------
// POST /api/sales
// -------------------------------------------------
func ProcessHandler(p *Processor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var cart Cart
		if err := c.BodyParser(&cart); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if cart.IdempotencyKey == "" {
			cart.IdempotencyKey = c.Get("Idempotency-Key")
		}

		out, err := p.Process(c.UserContext(), cart)
		if err != nil {
			// Invalid carts answer with the full list of problems.
			if out != nil && out.Validation != nil && !out.Validation.IsValid {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":      "sale is invalid",
					"validation": out.Validation,
				})
			}
			return err
		}
		if out.Duplicate {
			return c.JSON(out)
		}
		return c.Status(fiber.StatusCreated).JSON(out)
	}
}

// -------------------------------------------------
// GET /api/sales/:id
// -------------------------------------------------
func GetSaleHandler(p *Processor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		view, err := p.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(view)
	}
}

// -------------------------------------------------
// DELETE /api/sales/:id
// -------------------------------------------------
// The reason may come in the body or as ?reason=.
func DeleteSaleHandler(p *Processor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}

		var body DeleteSaleRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}
		if body.Reason == "" {
			body.Reason = c.Query("reason")
		}

		res, err := p.DeleteSale(c.UserContext(), id, body.Reason)
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}
