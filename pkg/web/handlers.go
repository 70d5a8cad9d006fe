// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/services"
	"github.com/pipeflow/automation/pkg/webhook"
)

// EventEmitter accepts pipeline events for asynchronous processing.
type EventEmitter interface {
	Emit(ctx context.Context, event models.Event) string
}

// WebhookTester performs a single test call to a webhook endpoint.
type WebhookTester interface {
	Test(ctx context.Context, req webhook.Request) webhook.TestResult
}

type APIHandlers struct {
	workflowService *services.Workflow
	runService      *services.Runs
	events          EventEmitter
	webhooks        WebhookTester
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	runService *services.Runs,
	events EventEmitter,
	webhooks WebhookTester,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		runService:      runService,
		events:          events,
		webhooks:        webhooks,
		validator:       validator,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Post("/events", h.PostEvent)
	app.Post("/webhooks/test", h.TestWebhook)

	workflows := app.Group("/workflows", h.requireOrganization)
	workflows.Get("/", h.GetWorkflows)
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/:id", h.GetWorkflow)
	workflows.Put("/:id", h.UpdateWorkflow)
	workflows.Delete("/:id", h.DeleteWorkflow)
	workflows.Post("/:id/activate", h.ActivateWorkflow)
	workflows.Post("/:id/deactivate", h.DeactivateWorkflow)
	workflows.Get("/:id/runs", h.GetWorkflowRuns)

	runs := app.Group("/runs", h.requireOrganization)
	runs.Get("/:id", h.GetRun)
	runs.Get("/:id/logs", h.GetRunLogs)
	runs.Post("/:id/cancel", h.CancelRun)

	contacts := app.Group("/contacts", h.requireOrganization)
	contacts.Post("/:id/deleted", h.ContactDeleted)
}

func (h *APIHandlers) requireOrganization(c fiber.Ctx) error {
	organizationID := strings.TrimSpace(c.Get(OrganizationHeader))
	if organizationID == "" {
		organizationID = strings.TrimSpace(c.Query("organization_id"))
	}

	if organizationID == "" {
		return badRequest(c, "missing "+OrganizationHeader+" header")
	}

	c.Locals("organization_id", organizationID)

	return c.Next()
}

func organizationID(c fiber.Ctx) string {
	id, _ := c.Locals("organization_id").(string)

	return id
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Pipeflow automation API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Pipeflow automation API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{
		OrganizationID: organizationID(c),
		PipelineID:     c.Query("pipeline_id"),
	}

	var err error

	if active := c.Query("active"); active != "" {
		value, parseErr := strconv.ParseBool(active)
		if parseErr != nil {
			return badRequest(c, "Invalid active parameter: must be true or false")
		}

		req.Active = &value
	}

	req.Limit, req.Offset, err = parsePagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	workflows, err := h.workflowService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), organizationID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflowService.Create(c.Context(), organizationID(c), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflowService.Update(c.Context(), organizationID(c), c.Params("id"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	// An explicit is_active goes through the toggles so deactivation still
	// cancels unfinished runs.
	if req.IsActive != nil && *req.IsActive != workflow.IsActive {
		toggle := h.workflowService.Deactivate
		if *req.IsActive {
			toggle = h.workflowService.Activate
		}

		workflow, err = toggle(c.Context(), organizationID(c), workflow.ID)
		if err != nil {
			return handleServiceError(c, err)
		}
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), organizationID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Activate(c.Context(), organizationID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Deactivate(c.Context(), organizationID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetWorkflowRuns(c fiber.Ctx) error {
	req := services.ListRunsRequest{}

	var err error

	req.Limit, req.Offset, err = parsePagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if status := c.Query("status"); status != "" {
		for _, value := range strings.Split(status, ",") {
			req.Statuses = append(req.Statuses, models.RunStatus(strings.TrimSpace(value)))
		}
	}

	runs, err := h.runService.ListByWorkflow(c.Context(), organizationID(c), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs": runs,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.runService.Get(c.Context(), organizationID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	logs, err := h.runService.Logs(c.Context(), organizationID(c), run.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(RunDetail{WorkflowRun: run, Logs: logs})
}

func (h *APIHandlers) GetRunLogs(c fiber.Ctx) error {
	logs, err := h.runService.Logs(c.Context(), organizationID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs})
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	run, err := h.runService.Cancel(c.Context(), organizationID(c), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ContactDeleted(c fiber.Ctx) error {
	cancelled, err := h.runService.ContactDeleted(c.Context(), organizationID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"cancelled_runs": cancelled})
}

// PostEvent accepts an event and answers before any workflow runs.
func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	id := h.events.Emit(c.Context(), req.toModel())

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id})
}

func (h *APIHandlers) TestWebhook(c fiber.Ctx) error {
	var req WebhookTestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(h.webhooks.Test(c.Context(), req.toRequest()))
}

func parsePagination(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if value := c.Query("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("limit must be a non-negative integer")
		}

		limit = parsed
	}

	if value := c.Query("offset"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}

		offset = parsed
	}

	return limit, offset, nil
}
