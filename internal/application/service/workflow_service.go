package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/payment-approval/internal/application/port"
	appwf "github.com/garyjia/payment-approval/internal/application/workflow"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DecisionInput is an approver's decision as submitted by a client
type DecisionInput struct {
	InstanceID string `json:"instance_id" validate:"required"`
	ActorID    string `json:"actor_id" validate:"required"`
	Approved   bool   `json:"approved"`
	Comments   string `json:"comments" validate:"max=2000"`
	NodeID     string `json:"node_id,omitempty"`
}

// WorkflowService is the externally exposed workflow API
type WorkflowService interface {
	StartWorkflow(ctx context.Context, paymentRequestID string) (*entity.WorkflowInstance, error)
	SubmitDecision(ctx context.Context, input DecisionInput) (*entity.WorkflowInstance, error)
	GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error)
	CancelWorkflow(ctx context.Context, instanceID, actorID string) (*entity.WorkflowInstance, error)
	History(ctx context.Context, instanceID string) ([]*entity.AuditRecord, error)
	ListInstances(ctx context.Context, status string, limit int) ([]*entity.WorkflowInstance, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type workflowServiceImpl struct {
	engine         appwf.TransitionEngine
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	auditRepo      port.AuditRepository
	payments       port.PaymentRequestProvider
	users          port.UserDirectory
	logger         Logger
	clock          func() time.Time
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(
	engine appwf.TransitionEngine,
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	auditRepo port.AuditRepository,
	payments port.PaymentRequestProvider,
	users port.UserDirectory,
	logger Logger,
) WorkflowService {
	return &workflowServiceImpl{
		engine:         engine,
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		auditRepo:      auditRepo,
		payments:       payments,
		users:          users,
		logger:         logger,
		clock:          time.Now,
	}
}

// StartWorkflow starts the organization's latest definition for a payment request
func (s *workflowServiceImpl) StartWorkflow(ctx context.Context, paymentRequestID string) (*entity.WorkflowInstance, error) {
	if paymentRequestID == "" {
		return nil, fmt.Errorf("%w: payment request id is required", ErrValidationFailed)
	}

	req, err := s.payments.GetPaymentRequest(ctx, paymentRequestID)
	if err != nil {
		return nil, err
	}

	def, err := s.definitionRepo.GetLatestByOrg(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	inst, err := s.engine.Start(ctx, def, paymentRequestID)
	if err != nil {
		s.logger.Error("Failed to start workflow", "error", err, "payment_request_id", paymentRequestID)
		return inst, err
	}
	return inst, nil
}

// SubmitDecision resolves the actor and applies their decision
func (s *workflowServiceImpl) SubmitDecision(ctx context.Context, input DecisionInput) (*entity.WorkflowInstance, error) {
	if input.InstanceID == "" || input.ActorID == "" {
		return nil, fmt.Errorf("%w: instance id and actor id are required", ErrValidationFailed)
	}

	inst, err := s.instanceRepo.GetByID(ctx, input.InstanceID)
	if err != nil {
		return nil, err
	}
	if workflow.State(inst.Status).IsTerminal() {
		return nil, fmt.Errorf("%w: instance %s is %s", workflow.ErrInstanceTerminal, inst.ID, inst.Status)
	}

	actor, err := s.users.GetUser(ctx, input.ActorID)
	if err != nil {
		return nil, err
	}
	if actor.OrgID != inst.OrgID {
		s.logger.Info("Decision from another organization rejected",
			"instance_id", input.InstanceID,
			"actor", input.ActorID,
		)
		return nil, fmt.Errorf("%w: actor belongs to another organization", workflow.ErrNotAuthorized)
	}

	decision := entity.Decision{
		Actor:     *actor,
		Approved:  input.Approved,
		Comments:  input.Comments,
		NodeID:    input.NodeID,
		Timestamp: s.clock().UTC(),
	}

	updated, err := s.engine.Apply(ctx, input.InstanceID, decision)
	if err != nil {
		return updated, err
	}

	s.logger.Info("Decision applied",
		"instance_id", input.InstanceID,
		"actor", input.ActorID,
		"approved", input.Approved,
		"status", updated.Status,
	)
	return updated, nil
}

// GetInstance retrieves an instance by ID
func (s *workflowServiceImpl) GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	return s.instanceRepo.GetByID(ctx, instanceID)
}

// CancelWorkflow cancels an instance on behalf of an administrator
func (s *workflowServiceImpl) CancelWorkflow(ctx context.Context, instanceID, actorID string) (*entity.WorkflowInstance, error) {
	if instanceID == "" || actorID == "" {
		return nil, fmt.Errorf("%w: instance id and actor id are required", ErrValidationFailed)
	}

	actor, err := s.users.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	inst, err := s.engine.Cancel(ctx, instanceID, *actor)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow cancelled", "instance_id", instanceID, "actor", actorID)
	return inst, nil
}

// History returns the audit trail of an instance in sequence order
func (s *workflowServiceImpl) History(ctx context.Context, instanceID string) ([]*entity.AuditRecord, error) {
	if _, err := s.instanceRepo.GetByID(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.auditRepo.ListByInstance(ctx, instanceID)
}

// ListInstances returns instances in the given status, oldest first
func (s *workflowServiceImpl) ListInstances(ctx context.Context, status string, limit int) ([]*entity.WorkflowInstance, error) {
	if !workflow.State(status).IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidationFailed, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.instanceRepo.ListByStatus(ctx, status, limit)
}
