// Package http provides the admin and observability HTTP API.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentmesh/internal/service"
)

// Handler handles admin HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// RegisterRoutes registers admin routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	e.GET("/v1/agents", h.ListAgents)
	e.GET("/v1/agents/:agent_id", h.GetAgent)

	e.GET("/v1/tools", h.ListTools)

	e.GET("/v1/breakers", h.ListBreakers)
	e.POST("/v1/breakers/:tool_name/reset", h.ResetBreaker)
	e.POST("/v1/breakers/:tool_name/trip", h.TripBreaker)

	e.GET("/v1/history/messages", h.ListMessageHistory)
	e.GET("/v1/history/agents", h.ListAgentHistory)
	e.DELETE("/v1/history", h.ClearHistory)

	e.GET("/v1/chaos", h.GetChaos)
	e.PUT("/v1/chaos", h.SetChaos)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": service.ServerVersion,
	})
}

// ListAgents lists all registered agents.
// GET /v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": h.service.ListAgents(ctx),
	})
}

// GetAgent gets a specific agent by id.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	ctx := c.Request().Context()
	agent := h.service.GetAgent(ctx, c.Param("agent_id"))
	if agent == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}
	return c.JSON(http.StatusOK, agent)
}

// ListTools lists registered tool descriptors.
// GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools": h.service.ListTools(ctx),
	})
}

// ListBreakers returns metrics for every circuit breaker created so far.
// GET /v1/breakers
func (h *Handler) ListBreakers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"breakers": h.service.Dispatcher().BreakerMetrics(),
	})
}

// ResetBreaker forces a tool's breaker closed.
// POST /v1/breakers/:tool_name/reset
func (h *Handler) ResetBreaker(c echo.Context) error {
	toolName := c.Param("tool_name")
	if !h.service.Dispatcher().ResetBreaker(toolName) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no breaker for tool"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// TripBreaker forces a tool's breaker open.
// POST /v1/breakers/:tool_name/trip
func (h *Handler) TripBreaker(c echo.Context) error {
	toolName := c.Param("tool_name")
	if !h.service.Dispatcher().TripBreaker(toolName) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown tool"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// ListMessageHistory returns the message audit log.
// GET /v1/history/messages
func (h *Handler) ListMessageHistory(c echo.Context) error {
	ctx := c.Request().Context()
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	messages, err := h.service.History().ListMessages(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

// ListAgentHistory returns the agent audit log.
// GET /v1/history/agents
func (h *Handler) ListAgentHistory(c echo.Context) error {
	ctx := c.Request().Context()
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	events, err := h.service.History().ListAgentEvents(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

// ClearHistory wipes the audit logs.
// DELETE /v1/history
func (h *Handler) ClearHistory(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.service.History().Clear(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// ChaosRequest is the body of PUT /v1/chaos.
type ChaosRequest struct {
	DelayMs     *int64   `json:"delay_ms"`
	Fail        *bool    `json:"fail"`
	FailureRate *float64 `json:"failure_rate"`
}

// GetChaos returns the current failure-injection knobs.
// GET /v1/chaos
func (h *Handler) GetChaos(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Injector().Snapshot())
}

// SetChaos updates the failure-injection knobs. Absent fields are left
// unchanged.
// PUT /v1/chaos
func (h *Handler) SetChaos(c echo.Context) error {
	var req ChaosRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	inj := h.service.Injector()
	if req.DelayMs != nil {
		inj.SetDelay(time.Duration(*req.DelayMs) * time.Millisecond)
	}
	if req.Fail != nil {
		inj.SetFail(*req.Fail)
	}
	if req.FailureRate != nil {
		if *req.FailureRate < 0 || *req.FailureRate > 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failure_rate must be between 0 and 1"})
		}
		inj.SetFailureRate(*req.FailureRate)
	}
	return c.JSON(http.StatusOK, inj.Snapshot())
}
