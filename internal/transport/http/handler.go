// Package http exposes the thin HTTP surface over the orchestrator: run
// kickoff, replay bundles, and ledger reads. Request authentication is an
// upstream concern and absent here.
package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/replay"
	"github.com/finpilot/orchestrator/internal/service"
)

// Handler handles external HTTP requests.
type Handler struct {
	service *service.Service
	replay  *replay.Engine
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, rep *replay.Engine) *Handler {
	return &Handler{service: svc, replay: rep}
}

// RegisterRoutes registers the external routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/runs", h.Kickoff)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)
	e.GET("/v1/runs/:run_id/replay", h.GetReplay)
	e.GET("/v1/runs/:run_id/events", h.ListEvents)
	e.GET("/v1/memory/:memory_id", h.GetMemory)
	e.POST("/v1/memory/search", h.SearchMemory)
	e.GET("/v1/payments/:request_id", h.GetPayment)
	e.GET("/healthz", h.Health)
}

// KickoffRequest is the request to start a pipeline run.
type KickoffRequest struct {
	ProjectID string         `json:"project_id"`
	Input     map[string]any `json:"input"`
}

// Kickoff starts a pipeline run.
// POST /v1/runs
func (h *Handler) Kickoff(c echo.Context) error {
	ctx := c.Request().Context()

	var req KickoffRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ProjectID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id is required"})
	}

	result, err := h.service.Kickoff(ctx, req.ProjectID, req.Input)
	if err != nil {
		if result != nil {
			// Surface the partial result with the failure.
			return c.JSON(statusFor(err), result)
		}
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetRun returns one run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns lists a project's runs.
// GET /v1/runs?project_id=...
func (h *Handler) ListRuns(c echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id is required"})
	}
	runs, err := h.service.ListRuns(c.Request().Context(), projectID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// CancelRun requests cancellation at the next inter-stage checkpoint.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	c.Bind(&body)
	if err := h.service.CancelRun(c.Request().Context(), c.Param("run_id"), body.Reason); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// GetReplay returns the reconstructed history of a run.
// GET /v1/runs/:run_id/replay?project_id=...
func (h *Handler) GetReplay(c echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id is required"})
	}
	bundle, err := h.replay.GetReplay(c.Request().Context(), projectID, c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// ListEvents lists a run's compliance events chronologically.
// GET /v1/runs/:run_id/events
func (h *Handler) ListEvents(c echo.Context) error {
	events, err := h.service.Compliance().ListEvents(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// GetMemory returns one memory entry.
// GET /v1/memory/:memory_id
func (h *Handler) GetMemory(c echo.Context) error {
	entry, err := h.service.Memory().Get(c.Request().Context(), c.Param("memory_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// SearchRequest is the semantic memory search request.
type SearchRequest struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Namespace string `json:"namespace"`
	TopK      int    `json:"top_k"`
}

// SearchMemory runs a namespace-scoped semantic search.
// POST /v1/memory/search
func (h *Handler) SearchMemory(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ProjectID == "" || req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id and query are required"})
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	entries, err := h.service.Memory().Search(c.Request().Context(), req.ProjectID, req.Query, req.Namespace, req.TopK)
	if err != nil {
		return errorJSON(c, err)
	}
	if entries == nil {
		entries = []domain.MemoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": entries})
}

// GetPayment returns the current snapshot of a payment request.
// GET /v1/payments/:request_id
func (h *Handler) GetPayment(c echo.Context) error {
	request, err := h.service.Payments().GetRequest(c.Request().Context(), c.Param("request_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, request)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrMemoryNotFound),
		errors.Is(err, domain.ErrRequestNotFound),
		errors.Is(err, domain.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRiskScore),
		errors.Is(err, domain.ErrInvalidNamespace):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrComplianceNotApproved),
		errors.Is(err, domain.ErrComplianceRejected),
		errors.Is(err, domain.ErrComplianceCheckFailed):
		return http.StatusConflict
	case domain.IsImmutableViolation(err):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
