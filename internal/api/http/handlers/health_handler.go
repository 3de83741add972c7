package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-triage/internal/persistence"
)

const readinessTimeout = 2 * time.Second

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	deps        []persistence.Dependency
}

// NewHealthHandler returns a handler that probes deps on readiness.
func NewHealthHandler(serviceName, version string, deps ...persistence.Dependency) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, deps: deps}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready pings every configured dependency. Those replaced by in-memory
// stores report "disabled" and do not fail readiness.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	statuses := fiber.Map{}
	ready := true
	for _, dep := range h.deps {
		switch {
		case !dep.Enabled():
			statuses[dep.Name()] = "disabled"
		case dep.Ping(ctx) != nil:
			statuses[dep.Name()] = "unreachable"
			ready = false
		default:
			statuses[dep.Name()] = "ok"
		}
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "one or more dependencies unavailable",
				"details": statuses,
			},
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "dependencies": statuses})
}
