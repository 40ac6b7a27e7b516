package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	workflowService   service.WorkflowService
	definitionService service.DefinitionService
	health            HealthFunc
	logger            Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	workflowService service.WorkflowService,
	definitionService service.DefinitionService,
	health HealthFunc,
	logger Logger,
) *Handlers {
	return &Handlers{
		workflowService:   workflowService,
		definitionService: definitionService,
		health:            health,
		logger:            logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// StartWorkflowRequest is the body of POST /api/workflows
type StartWorkflowRequest struct {
	PaymentRequestID string `json:"payment_request_id" binding:"required"`
}

// DecisionRequest is the body of POST /api/workflows/:id/decisions
type DecisionRequest struct {
	ActorID  string `json:"actor_id" binding:"required"`
	Approved *bool  `json:"approved" binding:"required"`
	Comments string `json:"comments" binding:"max=2000"`
	NodeID   string `json:"node_id"`
}

// CancelRequest is the body of POST /api/workflows/:id/cancel
type CancelRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	status := http.StatusOK
	if h.health != nil {
		healthy, details := h.health()
		response.Components = details
		if !healthy {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// RegisterDefinition handles POST /api/definitions
func (h *Handlers) RegisterDefinition(c *gin.Context) {
	var def entity.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		h.badRequest(c, err)
		return
	}

	stored, err := h.definitionService.Register(c.Request.Context(), &def)
	if err != nil {
		h.render(c, mapAuthoringError(err), "Failed to register definition", err, "org_id", def.OrgID)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    stored,
	})
}

// GetDefinition handles GET /api/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	def, err := h.definitionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get definition", err, "id", c.Param("id"))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    def,
	})
}

// StartWorkflow handles POST /api/workflows
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	inst, err := h.workflowService.StartWorkflow(c.Request.Context(), req.PaymentRequestID)
	if err != nil {
		h.fail(c, "Failed to start workflow", err, "payment_request_id", req.PaymentRequestID)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    inst,
	})
}

// ListWorkflows handles GET /api/workflows?status=RUNNING&limit=50
func (h *Handlers) ListWorkflows(c *gin.Context) {
	status := c.DefaultQuery("status", entity.StatusRunning)
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(c, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	instances, err := h.workflowService.ListInstances(c.Request.Context(), status, limit)
	if err != nil {
		h.fail(c, "Failed to list workflows", err, "status", status)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    instances,
	})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	inst, err := h.workflowService.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get workflow", err, "id", c.Param("id"))
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    inst,
	})
}

// GetHistory handles GET /api/workflows/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	records, err := h.workflowService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get workflow history", err, "id", c.Param("id"))
		return
	}
	if records == nil {
		records = []*entity.AuditRecord{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    records,
	})
}

// SubmitDecision handles POST /api/workflows/:id/decisions
func (h *Handlers) SubmitDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	inst, err := h.workflowService.SubmitDecision(c.Request.Context(), service.DecisionInput{
		InstanceID: c.Param("id"),
		ActorID:    req.ActorID,
		Approved:   *req.Approved,
		Comments:   req.Comments,
		NodeID:     req.NodeID,
	})
	if err != nil {
		h.fail(c, "Failed to apply decision", err, "id", c.Param("id"), "actor", req.ActorID)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    inst,
	})
}

// CancelWorkflow handles POST /api/workflows/:id/cancel
func (h *Handlers) CancelWorkflow(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	inst, err := h.workflowService.CancelWorkflow(c.Request.Context(), c.Param("id"), req.ActorID)
	if err != nil {
		h.fail(c, "Failed to cancel workflow", err, "id", c.Param("id"), "actor", req.ActorID)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    inst,
	})
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   err.Error(),
		Code:    CodeValidationFailed,
	})
}

// fail renders err. Client errors are logged at Info, server errors at Error.
func (h *Handlers) fail(c *gin.Context, msg string, err error, keysAndValues ...interface{}) {
	h.render(c, mapError(err), msg, err, keysAndValues...)
}

func (h *Handlers) render(c *gin.Context, mapped apiError, msg string, err error, keysAndValues ...interface{}) {
	fields := append(keysAndValues, "code", mapped.Code, "error", err)
	if mapped.Status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
	} else {
		h.logger.Info(msg, fields...)
	}

	c.JSON(mapped.Status, Response{
		Success:   false,
		Error:     mapped.Message,
		Code:      mapped.Code,
		Retryable: mapped.Retryable,
	})
}
