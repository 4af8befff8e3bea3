// Package main provides the marketflow operations API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/marketflow/pkg/eventbus"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"
)

// API serves the operations endpoints: execution history, manual runs and
// event intake.
type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	runner      web.Runner
	eventBus    eventbus.EventBus
	clock       clockwork.Clock
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	runner web.Runner,
	eventBus eventbus.EventBus,
	clock clockwork.Clock,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		runner:      runner,
		eventBus:    eventBus,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.runner, a.eventBus, a.validate, a.clock, a.logger)

	app := fiber.New(fiber.Config{
		AppName:      "marketflow-api",
		ErrorHandler: web.ErrorHandler,
	})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	// not ready while the workflow store is unreachable
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Marketflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
