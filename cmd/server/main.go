package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pos-backend/internal/apperr"
	"pos-backend/internal/audit"
	"pos-backend/internal/auth"
	"pos-backend/internal/cashflow"
	"pos-backend/internal/config"
	"pos-backend/internal/database"
	"pos-backend/internal/installment"
	"pos-backend/internal/inventory"
	"pos-backend/internal/logger"
	"pos-backend/internal/models"
	"pos-backend/internal/sales"
	"pos-backend/internal/store"
	"pos-backend/internal/store/memstore"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	lg := logger.New(cfg.Env)

	st, err := openStore(cfg, lg)
	if err != nil {
		log.Fatal(err)
	}

	units := inventory.NewLedger(st, lg, cfg.ReservationTTL)
	stock := inventory.NewStock(st)
	registers := cashflow.NewLedger(st, lg)
	installments := installment.NewLedger(st, registers, lg)
	validator := sales.NewValidator(st, units)
	processor := sales.NewProcessor(st, validator, units, stock, registers, installments, lg)
	sweeper := inventory.NewSweeper(units, cfg.SweepInterval, lg)

	app := fiber.New(fiber.Config{
		ErrorHandler: apperr.ErrorHandler(lg),
	})

	app.Use(recover.New())
	app.Use(requestLog(lg))
	app.Use(requestTimeout(cfg.RequestTimeout))

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-admin", auth.RegisterAdminHandler(st))
	api.Post("/auth/login", auth.LoginHandler(cfg, st))

	// Protected
	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg))

	privileged := auth.RequireRole(models.RoleAdmin, models.RoleManager)
	adminOnly := auth.RequireRole(models.RoleAdmin)

	protected.Get("/auth/me", auth.MeHandler(st))
	protected.Post("/users", adminOnly, auth.CreateUserHandler(st))

	// Products and serialized units
	protected.Post("/products", privileged, inventory.CreateProductHandler(st))
	protected.Get("/products/:id", inventory.GetProductHandler(st, units))
	protected.Post("/products/:id/units", privileged, inventory.RegisterUnitsHandler(units))
	protected.Get("/products/:id/units", inventory.ListUnitsHandler(st))
	protected.Post("/units/validate", inventory.ValidateUnitHandler(units))

	// Sales
	protected.Post("/sales/validate", sales.ValidateHandler(validator))
	protected.Post("/sales", sales.ProcessHandler(processor))
	protected.Get("/sales/:id", sales.GetSaleHandler(processor))
	protected.Delete("/sales/:id", privileged, sales.DeleteSaleHandler(processor))

	// Installments
	protected.Post("/sales/:id/installments", installment.AddPaymentHandler(installments))
	protected.Get("/sales/:id/installments", installment.ListPaymentsHandler(installments))
	protected.Put("/installments/:id", privileged, installment.EditPaymentHandler(installments))
	protected.Delete("/installments/:id", privileged, installment.DeletePaymentHandler(installments))

	// Cash registers
	protected.Post("/cash-registers", cashflow.OpenRegisterHandler(registers))
	protected.Get("/cash-registers/current", cashflow.CurrentRegisterHandler(registers))
	protected.Post("/cash-registers/:id/movements", cashflow.AddMovementHandler(registers))
	protected.Post("/cash-registers/:id/close", cashflow.CloseRegisterHandler(registers))
	protected.Get("/cash-registers/:id/summary", cashflow.SummaryHandler(registers))
	protected.Delete("/cash-movements/:id", cashflow.DeleteMovementHandler(registers))

	// Audit logs
	protected.Get("/audit-logs", adminOnly, audit.ListAuditLogsHandler(st))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("server listening", "port", cfg.HTTPPort, "storage", cfg.Storage)
		return app.Listen(":" + cfg.HTTPPort)
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		lg.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		lg.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, lg *slog.Logger) (store.Store, error) {
	if cfg.Storage == "memory" {
		lg.Warn("using in-memory storage, data is lost on restart")
		return memstore.New(), nil
	}
	db, err := database.Open(cfg, lg)
	if err != nil {
		return nil, err
	}
	return database.NewStore(db), nil
}

// requestTimeout bounds the context every ledger call runs under.
func requestTimeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func requestLog(lg *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = apperr.ToFiber(err).Code
		}
		lg.Debug("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", time.Since(start),
		)
		return err
	}
}
