// Package main provides the Pipeflow automation API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/pipeflow/automation/pkg/services"
	"github.com/pipeflow/automation/pkg/web"
	"github.com/pipeflow/automation/pkg/webhook"
	"github.com/pipeflow/automation/pkg/workflow"
	"k8s.io/utils/clock"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	dispatcher  *webhook.Dispatcher
	validate    *validator.Validate
	clock       clock.Clock
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	dispatcher *webhook.Dispatcher,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		dispatcher:  dispatcher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clock.RealClock{},
	}
}

func (a *API) App() *fiber.App {
	runService := services.NewRuns(a.persistence, a.eventBus, a.clock, a.logger)
	workflowService := services.NewWorkflow(a.persistence, runService, a.clock, a.logger)
	ingress := workflow.NewIngress(a.eventBus, a.clock, a.logger)

	handlers := web.NewAPIHandlers(workflowService, runService, ingress, a.dispatcher, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Pipeflow Automation API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
