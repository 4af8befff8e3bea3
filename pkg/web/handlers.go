package web

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/marketflow/pkg/eventbus"
	"github.com/dukex/marketflow/pkg/events"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
)

// Runner starts workflow runs on behalf of an operator.
type Runner interface {
	Run(ctx context.Context, workflow *models.Workflow, source models.ExecutionSource) (*models.WorkflowExecution, error)
	RunForTarget(ctx context.Context, workflow *models.Workflow, customerID string) (*models.WorkflowExecution, error)
}

// eventRoutes maps the :type path segment of POST /events/:type to the bus event type.
var eventRoutes = map[string]events.EventType{
	"customer-visit":        events.CustomerVisitEvent,
	"customer-registration": events.CustomerRegistrationEvent,
	"payment-completed":     events.PaymentCompletedEvent,
}

type partitioned interface {
	PartitionKey() string
}

type APIHandlers struct {
	persistence persistence.Persistence
	runner      Runner
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	runner Runner,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
	clock clockwork.Clock,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		runner:      runner,
		publisher:   publisher,
		validator:   validator,
		clock:       clock,
		logger:      logger.With("module", "web"),
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/:id/executions", h.GetWorkflowExecutions)
	w.Post("/:id/run", h.RunWorkflow)

	app.Get("/executions/:id", h.GetExecution)
	app.Post("/events/:type", h.PublishEvent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck := "ok"
	status := "healthy"
	httpStatus := fiber.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		status = "unhealthy"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": h.clock.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id); err != nil {
		return handleError(c, err)
	}

	executions, err := h.persistence.ExecutionRepository().GetByWorkflow(c.Context(), id)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(ExecutionsResponse{
		WorkflowID: id,
		Executions: executions,
		TotalCount: len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf, err := h.persistence.WorkflowRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	if !wf.CanExecute() {
		return problem(c, fiber.StatusConflict, "workflow_inactive", "workflow is inactive or deleted")
	}

	if req.CustomerID == "" && !wf.TriggerType.TimeDriven() {
		return problem(c, fiber.StatusBadRequest, "customer_required",
			fmt.Sprintf("%s workflows run for a single customer, customer_id is required", wf.TriggerType))
	}

	var execution *models.WorkflowExecution
	if req.CustomerID != "" {
		execution, err = h.runner.RunForTarget(c.Context(), wf, req.CustomerID)
	} else {
		execution, err = h.runner.Run(c.Context(), wf, models.SourceManual)
	}

	if err != nil {
		h.logger.WarnContext(c.Context(), "Manual run failed", "workflow_id", wf.ID, "error", err)

		return handleError(c, err)
	}

	if execution == nil {
		return problem(c, fiber.StatusConflict, "workflow_inactive", "workflow is inactive or deleted")
	}

	h.logger.InfoContext(c.Context(), "Manual run finished",
		"workflow_id", wf.ID,
		"execution_id", execution.ID,
		"status", execution.Status)

	return c.JSON(execution)
}

func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	eventType, ok := eventRoutes[c.Params("type")]
	if !ok {
		return problem(c, fiber.StatusNotFound, "unknown_event_type", "unknown event type "+c.Params("type"))
	}

	decoded, err := events.New(eventType)
	if err != nil {
		return internalError(c, err)
	}

	if err := c.Bind().JSON(decoded); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	h.stamp(decoded)

	if err := events.Validate(decoded); err != nil {
		return badRequest(c, err.Error())
	}

	event, ok := decoded.(eventbus.Event)
	if !ok {
		return internalError(c, events.ErrUnknownEventType)
	}

	key := decoded.(partitioned).PartitionKey()

	if err := h.publisher.Publish(c.Context(), key, event); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish event", "event_type", eventType, "error", err)

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventAcceptedResponse{
		Type: string(eventType),
		Key:  key,
	})
}

// stamp fills in the occurrence time when the producer left it out.
func (h *APIHandlers) stamp(event any) {
	now := h.clock.Now().UTC()

	switch e := event.(type) {
	case *events.CustomerVisit:
		if e.At.IsZero() {
			e.At = now
		}
	case *events.CustomerRegistration:
		if e.At.IsZero() {
			e.At = now
		}
	case *events.PaymentCompleted:
		if e.At.IsZero() {
			e.At = now
		}
	}
}
