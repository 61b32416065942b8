package inventory

import (
	"errors"
	"strings"

	"pos-backend/internal/apperr"
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type ProductResponse struct {
	models.Product
	AvailableStock int `json:"available_stock"`
}

type CreateProductRequest struct {
	Name               string            `json:"name"`
	SalePrice          decimal.Decimal   `json:"sale_price"`
	PurchasePrice      decimal.Decimal   `json:"purchase_price"`
	Stock              int               `json:"stock"`
	HasIMEISerial      bool              `json:"has_imei_serial"`
	IMEISerialType     models.SerialType `json:"imei_serial_type"`
	RequiresIMEISerial bool              `json:"requires_imei_serial"`
}

func (r *CreateProductRequest) validate() error {
	var problems []string
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		problems = append(problems, "name is required")
	}
	if !r.SalePrice.IsPositive() {
		problems = append(problems, "sale_price must be positive")
	}
	if r.PurchasePrice.IsNegative() {
		problems = append(problems, "purchase_price cannot be negative")
	}
	if r.Stock < 0 {
		problems = append(problems, "stock cannot be negative")
	}
	if r.RequiresIMEISerial {
		r.HasIMEISerial = true
		if r.Stock != 0 {
			problems = append(problems, "serial-tracked products take their stock from registered units")
		}
	}
	if r.HasIMEISerial {
		switch r.IMEISerialType {
		case models.SerialTypeIMEI, models.SerialTypeSerial, models.SerialTypeBoth:
		default:
			problems = append(problems, "imei_serial_type must be imei, serial or both")
		}
	}
	if len(problems) > 0 {
		return apperr.Validation("invalid product", problems...)
	}
	return nil
}

// POST /api/products (admin, manager)
func CreateProductHandler(s store.Products) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateProductRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := body.validate(); err != nil {
			return err
		}

		p := models.Product{
			Name:               body.Name,
			SalePrice:          body.SalePrice,
			PurchasePrice:      body.PurchasePrice,
			Stock:              body.Stock,
			HasIMEISerial:      body.HasIMEISerial,
			IMEISerialType:     body.IMEISerialType,
			RequiresIMEISerial: body.RequiresIMEISerial,
		}
		if err := s.CreateProduct(c.UserContext(), &p); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "product could not be created")
		}
		return c.Status(fiber.StatusCreated).JSON(ProductResponse{Product: p, AvailableStock: p.Stock})
	}
}

// GET /api/products/:id
func GetProductHandler(s store.Products, ledger *Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid product id")
		}

		p, err := s.GetProduct(c.UserContext(), uint(id))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "product not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "product could not be loaded")
		}

		available, err := ledger.AvailableStock(c.UserContext(), p)
		if err != nil {
			return err
		}
		return c.JSON(ProductResponse{Product: *p, AvailableStock: available})
	}
}
