package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-triage/internal/api/dto"
	"github.com/spec-kit/ticket-triage/internal/workflow"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// RunEngine is the part of the workflow engine the run endpoints use.
type RunEngine interface {
	Get(ctx context.Context, id string) (*workflow.Run, error)
	Resume(ctx context.Context, id string) error
}

// RunsHandler exposes workflow run inspection.
type RunsHandler struct {
	engine RunEngine
}

// NewRunsHandler constructs handler.
func NewRunsHandler(engine RunEngine) *RunsHandler {
	return &RunsHandler{engine: engine}
}

// GetRun GET /runs/:id.
func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.engine.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return runError(c.Params("id"), err)
	}
	return c.JSON(fiber.Map{"data": dto.NewRunResponse(run)})
}

// ResumeRun POST /runs/:id/resume.
func (h *RunsHandler) ResumeRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.engine.Resume(c.UserContext(), id); err != nil {
		return runError(id, err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{"id": id, "resumed": true}})
}

func runError(id string, err error) error {
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		return apperrors.NewNotFound("run", map[string]any{"id": id})
	case errors.Is(err, workflow.ErrRunFinished), errors.Is(err, workflow.ErrRunInFlight):
		return apperrors.NewConflict(err.Error(), map[string]any{"id": id})
	case errors.Is(err, workflow.ErrEngineClosed):
		return apperrors.NewDomainError("UNAVAILABLE", err.Error(), http.StatusServiceUnavailable, nil)
	}
	return err
}
