package web

import (
	"errors"

	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps repository and executor errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")
	case persistence.IsExecutionNotFound(err):
		return problem(c, fiber.StatusNotFound, "execution_not_found", "execution not found")
	case errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())
	case errors.Is(err, workflow.ErrAlreadyRunning):
		return problem(c, fiber.StatusConflict, "already_running", "workflow is already running")
	default:
		return internalError(c, err)
	}
}

// ErrorHandler renders errors that escape the handlers, such as unknown
// routes, as problem documents.
func ErrorHandler(c fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return problem(c, fiberErr.Code, "http_error", fiberErr.Message)
	}

	return handleError(c, err)
}
