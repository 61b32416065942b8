package apperr

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"pos-backend/internal/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandlerLogsStoreFailures(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger.NewWithWriter("prod", &buf))})
	app.Get("/store", func(c *fiber.Ctx) error {
		return Store("installment could not be saved", errors.New("connection reset"))
	})
	app.Get("/invalid", func(c *fiber.Ctx) error {
		return Validation("payment amount must be positive")
	})
	app.Get("/fiber", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	})

	tests := []struct {
		path   string
		status int
		body   string
		logged bool
	}{
		{"/store", fiber.StatusInternalServerError, "could not complete operation", true},
		{"/invalid", fiber.StatusBadRequest, "payment amount must be positive", false},
		{"/fiber", fiber.StatusBadRequest, "invalid id", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var body map[string]string
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tt.body, body["error"])

			if !tt.logged {
				assert.Zero(t, buf.Len())
				return
			}
			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, "unexpected error", line["msg"])
			assert.Equal(t, "store", line["kind"])
			assert.Contains(t, line["err"], "connection reset")
		})
	}
}

func TestToFiberHidesInternals(t *testing.T) {
	e := ToFiber(Integrity("units no longer reserved", errors.New("2 of 3 marked")))
	assert.Equal(t, fiber.StatusInternalServerError, e.Code)
	assert.NotContains(t, e.Message, "marked")

	e = ToFiber(StockRace("stock changed"))
	assert.Equal(t, fiber.StatusConflict, e.Code)
}
