package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpilot/orchestrator/internal/adapter/vector"
	"github.com/finpilot/orchestrator/internal/config"
	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/guard"
	"github.com/finpilot/orchestrator/internal/ledger"
	"github.com/finpilot/orchestrator/internal/replay"
	"github.com/finpilot/orchestrator/internal/service"
	"github.com/finpilot/orchestrator/internal/stage"
	"github.com/finpilot/orchestrator/internal/store"
	"github.com/finpilot/orchestrator/policy"
)

func newTestServer(t *testing.T, decider stage.Decider) *echo.Echo {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pe, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	g := guard.New(pe)

	memory := ledger.NewMemoryStore(st, g, vector.NewMockClient(), 3)
	compliance := ledger.NewComplianceLedger(st, g, 3)
	payments := ledger.NewPaymentLedger(st, g, compliance, 3)
	profiles := ledger.NewProfileRegistry(st, g, 3)

	svc := service.New(st, memory, compliance, payments, profiles, stage.NewExecutor(decider), &config.Config{})
	engine := replay.NewEngine(st, memory, compliance, payments, profiles)

	e := echo.New()
	NewHandler(svc, engine).RegisterRoutes(e)
	return e
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestKickoffEndpoint(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodPost, "/v1/runs", `{"project_id":"proj_1","input":{"query":"BTC/USD"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Len(t, result.MemoryIDs, 3)
	assert.NotEmpty(t, result.RequestID)
}

func TestKickoffRequiresProjectID(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodPost, "/v1/runs", `{"input":{"query":"BTC/USD"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKickoffComplianceFailureReturnsPartialResult(t *testing.T) {
	e := newTestServer(t, &stage.SimulatedDecider{QualityScore: 0.95, RiskScore: 0.9})

	rec := doRequest(e, http.MethodPost, "/v1/runs", `{"project_id":"proj_1","input":{"query":"BTC/USD"}}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var result domain.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, domain.RunStatusFailed, result.Status)
	assert.Len(t, result.MemoryIDs, 2)
	assert.Empty(t, result.RequestID)
	assert.NotEmpty(t, result.Error)
}

func TestGetRunNotFound(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodGet, "/v1/runs/run_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplayEndpoint(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodPost, "/v1/runs", `{"project_id":"proj_1","input":{"query":"BTC/USD"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doRequest(e, http.MethodGet, "/v1/runs/"+result.RunID+"/replay?project_id=proj_1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var bundle domain.ReplayBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Len(t, bundle.MemoryEntries, 3)
	assert.Len(t, bundle.ComplianceEvents, 1)
	assert.Len(t, bundle.PaymentRequests, 1)
	assert.Len(t, bundle.Timeline, 5)
	assert.True(t, bundle.Validation.AllRecordsPresent)
	assert.True(t, bundle.Validation.ChronologicalOrderVerified)

	// Missing project scope is a client error, not a lookup miss.
	rec = doRequest(e, http.MethodGet, "/v1/runs/"+result.RunID+"/replay", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodGet, "/v1/runs/run_missing/replay?project_id=proj_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsEndpoint(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodGet, "/v1/runs?project_id=proj_1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryEndpoints(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodPost, "/v1/runs", `{"project_id":"proj_1","input":{"query":"BTC/USD"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.MemoryIDs)

	rec = doRequest(e, http.MethodGet, "/v1/memory/"+result.MemoryIDs[0], "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry domain.MemoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, result.RunID, entry.RunID)

	rec = doRequest(e, http.MethodGet, "/v1/memory/mem_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(e, http.MethodPost, "/v1/memory/search", `{"project_id":"proj_1","query":"standard position sizing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var search struct {
		Results []domain.MemoryEntry `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	assert.NotEmpty(t, search.Results)

	rec = doRequest(e, http.MethodPost, "/v1/memory/search", `{"query":"no project"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentEndpoint(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodPost, "/v1/runs", `{"project_id":"proj_1","input":{"query":"BTC/USD"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doRequest(e, http.MethodGet, "/v1/payments/"+result.RequestID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var request domain.PaymentRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &request))
	assert.Equal(t, domain.PaymentStatusPending, request.Status)

	rec = doRequest(e, http.MethodGet, "/v1/payments/x402_req_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodPost, "/v1/runs/run_missing/cancel", `{"reason":"operator request"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestServer(t, stage.NewSimulatedDecider())

	rec := doRequest(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
