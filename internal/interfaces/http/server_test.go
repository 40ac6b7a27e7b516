package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/payment-approval/internal/application/service"
	appwf "github.com/garyjia/payment-approval/internal/application/workflow"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type apiResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	Retryable bool            `json:"retryable"`
}

func newTestServer(t *testing.T, health HealthFunc) *Server {
	t.Helper()
	return newTestServerWithConfig(t, DefaultServerConfig(), health)
}

func newTestServerWithConfig(t *testing.T, cfg ServerConfig, health HealthFunc) *Server {
	t.Helper()

	store := memory.NewStore()
	defs := memory.NewDefinitionRepository(store)
	instances := memory.NewInstanceRepository(store)
	audits := memory.NewAuditRepository(store)
	directory := memory.NewDirectory()
	evaluator := workflow.NewExprEvaluator()

	directory.PutPaymentRequest(entity.PaymentRequest{ID: "pr-1", OrgID: "org-1", Amount: 500, Currency: "INR"})
	directory.PutUser(entity.Identity{UserID: "admin-1", Role: entity.RoleOrgAdmin, OrgID: "org-1"})
	directory.PutUser(entity.Identity{UserID: "finance-1", Role: entity.RoleOrgFinance, OrgID: "org-1"})

	engine := appwf.NewEngine(defs, instances, audits, store, directory,
		appwf.WithEvaluator(evaluator),
		appwf.WithAuthorizer(service.NewRoleAdminAuthorizer([]string{entity.RoleOrgAdmin})),
	)

	return NewServer(
		cfg,
		service.NewWorkflowService(engine, defs, instances, audits, directory, directory, nopLogger{}),
		service.NewDefinitionService(defs, validator.New(), evaluator, nopLogger{}),
		health,
		nopLogger{},
	)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func definitionBody() map[string]interface{} {
	return map[string]interface{}{
		"org_id": "org-1",
		"name":   "two-step",
		"nodes": []map[string]interface{}{
			{"id": "start", "type": "START"},
			{"id": "admin", "type": "APPROVAL", "approval": map[string]interface{}{
				"approver_type": "ROLE", "approver_value": entity.RoleOrgAdmin, "step_order": 1,
			}},
			{"id": "finance", "type": "APPROVAL", "approval": map[string]interface{}{
				"approver_type": "ROLE", "approver_value": entity.RoleOrgFinance, "step_order": 2,
			}},
			{"id": "end", "type": "END"},
		},
		"edges": []map[string]interface{}{
			{"from": "start", "to": "admin"},
			{"from": "admin", "to": "finance"},
			{"from": "finance", "to": "end"},
		},
	}
}

func TestHealthCheck(t *testing.T) {
	status, resp := doRequest(t, newTestServer(t, nil), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)

	degraded := newTestServer(t, func() (bool, interface{}) {
		return false, map[string]string{"database": "down"}
	})
	status, resp = doRequest(t, degraded, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.False(t, resp.Success)
	assert.Contains(t, string(resp.Data), "degraded")
}

func TestWorkflowLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	status, resp := doRequest(t, s, http.MethodPost, "/api/definitions", definitionBody())
	require.Equal(t, http.StatusCreated, status, resp.Error)
	var def entity.WorkflowDefinition
	require.NoError(t, json.Unmarshal(resp.Data, &def))
	assert.Equal(t, 1, def.Version)

	status, _ = doRequest(t, s, http.MethodGet, "/api/definitions/"+def.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, resp = doRequest(t, s, http.MethodPost, "/api/workflows", map[string]string{"payment_request_id": "pr-1"})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	var inst entity.WorkflowInstance
	require.NoError(t, json.Unmarshal(resp.Data, &inst))
	assert.Equal(t, "admin", inst.CurrentNodeID)
	assert.Equal(t, 1, inst.CurrentApprovalLevel)

	path := fmt.Sprintf("/api/workflows/%s", inst.ID)

	// finance cannot act on the admin step
	status, resp = doRequest(t, s, http.MethodPost, path+"/decisions", map[string]interface{}{
		"actor_id": "finance-1", "approved": true,
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeNotAuthorized, resp.Code)

	status, resp = doRequest(t, s, http.MethodPost, path+"/decisions", map[string]interface{}{
		"actor_id": "admin-1", "approved": true, "comments": "ok", "node_id": "admin",
	})
	require.Equal(t, http.StatusOK, status, resp.Error)

	// a second submit against the stale node is rejected
	status, resp = doRequest(t, s, http.MethodPost, path+"/decisions", map[string]interface{}{
		"actor_id": "admin-1", "approved": true, "node_id": "admin",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeConcurrentModification, resp.Code)
	assert.True(t, resp.Retryable)

	status, resp = doRequest(t, s, http.MethodPost, path+"/decisions", map[string]interface{}{
		"actor_id": "finance-1", "approved": false, "comments": "over budget",
	})
	require.Equal(t, http.StatusOK, status, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &inst))
	assert.Equal(t, entity.StatusRejected, inst.Status)

	status, resp = doRequest(t, s, http.MethodGet, path+"/history", nil)
	require.Equal(t, http.StatusOK, status)
	var history []entity.AuditRecord
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, "finance", last.NodeID)
	assert.Equal(t, entity.NodeStatusFailed, last.ToStatus)
	assert.Equal(t, "over budget", last.Comments)

	status, resp = doRequest(t, s, http.MethodPost, path+"/cancel", map[string]string{"actor_id": "admin-1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeInstanceTerminal, resp.Code)
}

func TestCancelWorkflow(t *testing.T) {
	s := newTestServer(t, nil)
	status, _ := doRequest(t, s, http.MethodPost, "/api/definitions", definitionBody())
	require.Equal(t, http.StatusCreated, status)

	_, resp := doRequest(t, s, http.MethodPost, "/api/workflows", map[string]string{"payment_request_id": "pr-1"})
	var inst entity.WorkflowInstance
	require.NoError(t, json.Unmarshal(resp.Data, &inst))

	status, resp = doRequest(t, s, http.MethodGet, "/api/workflows?status=RUNNING", nil)
	require.Equal(t, http.StatusOK, status, resp.Error)
	var running []entity.WorkflowInstance
	require.NoError(t, json.Unmarshal(resp.Data, &running))
	require.Len(t, running, 1)
	assert.Equal(t, inst.ID, running[0].ID)

	status, resp = doRequest(t, s, http.MethodGet, "/api/workflows?status=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidationFailed, resp.Code)

	status, _ = doRequest(t, s, http.MethodGet, "/api/workflows?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = doRequest(t, s, http.MethodPost, "/api/workflows/"+inst.ID+"/cancel", map[string]string{"actor_id": "finance-1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeNotAuthorized, resp.Code)

	status, resp = doRequest(t, s, http.MethodPost, "/api/workflows/"+inst.ID+"/cancel", map[string]string{"actor_id": "admin-1"})
	require.Equal(t, http.StatusOK, status, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, &inst))
	assert.Equal(t, entity.StatusCancelled, inst.Status)
	assert.Equal(t, entity.NodeStatusSkipped, inst.NodeStatus("admin"))
}

func TestRequestErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing payment request id", http.MethodPost, "/api/workflows", map[string]string{}, http.StatusBadRequest, CodeValidationFailed},
		{"unknown payment request", http.MethodPost, "/api/workflows", map[string]string{"payment_request_id": "pr-x"}, http.StatusNotFound, CodePaymentRequestNotFound},
		{"unknown instance", http.MethodGet, "/api/workflows/missing", nil, http.StatusNotFound, CodeInstanceNotFound},
		{"unknown history", http.MethodGet, "/api/workflows/missing/history", nil, http.StatusNotFound, CodeInstanceNotFound},
		{"unknown definition", http.MethodGet, "/api/definitions/missing", nil, http.StatusNotFound, CodeDefinitionNotFound},
		{"decision without approved", http.MethodPost, "/api/workflows/x/decisions", map[string]string{"actor_id": "admin-1"}, http.StatusBadRequest, CodeValidationFailed},
		{"decision on unknown instance", http.MethodPost, "/api/workflows/x/decisions", map[string]interface{}{"actor_id": "ghost", "approved": true}, http.StatusNotFound, CodeInstanceNotFound},
		{"definition without nodes", http.MethodPost, "/api/definitions", map[string]string{"org_id": "org-1"}, http.StatusBadRequest, CodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := doRequest(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestRegisterDefinition_InvalidGraph(t *testing.T) {
	s := newTestServer(t, nil)

	body := definitionBody()
	body["edges"] = []map[string]interface{}{
		{"from": "start", "to": "admin"},
		{"from": "admin", "to": "finance"},
		{"from": "finance", "to": "admin"},
	}

	status, resp := doRequest(t, s, http.MethodPost, "/api/definitions", body)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, CodeGraphInvalid, resp.Code)
	assert.NotEqual(t, "workflow definition is invalid", resp.Error)
	assert.NotEmpty(t, resp.Error)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", workflow.ErrNotAuthorized), http.StatusForbidden, CodeNotAuthorized},
		{workflow.ErrInstanceTerminal, http.StatusConflict, CodeInstanceTerminal},
		{workflow.ErrNoCurrentNode, http.StatusConflict, CodeNoCurrentNode},
		{workflow.ErrConcurrentModification, http.StatusConflict, CodeConcurrentModification},
		{workflow.ErrGraphInvalid, http.StatusUnprocessableEntity, CodeGraphInvalid},
		{workflow.ErrStepFailed, http.StatusUnprocessableEntity, CodeStepFailed},
		{workflow.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound},
		{service.ErrValidationFailed, http.StatusBadRequest, CodeValidationFailed},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mapped := mapError(tt.err)
			assert.Equal(t, tt.status, mapped.Status)
			assert.Equal(t, tt.code, mapped.Code)
		})
	}

	assert.Equal(t, "internal server error", mapError(errors.New("disk on fire")).Message)
}

func TestMapError_GraphDetailOnlyForAuthoring(t *testing.T) {
	err := fmt.Errorf("%w: evaluate %q: invalid operation: string > int", workflow.ErrGraphInvalid, "amount > 1000")

	runtime := mapError(err)
	assert.Equal(t, CodeGraphInvalid, runtime.Code)
	assert.Equal(t, "workflow definition is invalid", runtime.Message)
	assert.NotContains(t, runtime.Message, "evaluate")

	authoring := mapAuthoringError(err)
	assert.Equal(t, CodeGraphInvalid, authoring.Code)
	assert.Equal(t, err.Error(), authoring.Message)

	validation := mapAuthoringError(fmt.Errorf("%w: org_id is required", service.ErrValidationFailed))
	assert.Contains(t, validation.Message, "org_id is required")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 2
	s := newTestServerWithConfig(t, cfg, nil)

	for i := 0; i < 2; i++ {
		status, _ := doRequest(t, s, http.MethodGet, "/api/workflows/missing", nil)
		assert.Equal(t, http.StatusNotFound, status)
	}

	status, resp := doRequest(t, s, http.MethodGet, "/api/workflows/missing", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, CodeRateLimited, resp.Code)
	assert.True(t, resp.Retryable)

	status, _ = doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
}
