package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
)

const (
	defaultMaxAutoAdvanceSteps = 64
	defaultConflictRetries     = 1
)

// engineImpl is the concrete implementation of TransitionEngine
type engineImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	auditRepo      port.AuditRepository
	txManager      port.TransactionManager
	payments       port.PaymentRequestProvider

	dispatcher dispatcher.Dispatcher
	outbox     *OutboxPublisher
	authorizer port.AdminAuthorizer
	executors  map[entity.NodeType]port.StepExecutor
	evaluator  domainwf.Evaluator
	gate       domainwf.StepGate
	logger     Logger
	clock      func() time.Time

	maxAutoAdvanceSteps int
	conflictRetries     int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithAuthorizer sets the authorizer consulted by Cancel
func WithAuthorizer(a port.AdminAuthorizer) EngineOption {
	return func(e *engineImpl) {
		e.authorizer = a
	}
}

// WithExecutor registers the executor for an automatic node type
func WithExecutor(nodeType entity.NodeType, executor port.StepExecutor) EngineOption {
	return func(e *engineImpl) {
		e.executors[nodeType] = executor
	}
}

// WithEvaluator replaces the condition evaluator
func WithEvaluator(ev domainwf.Evaluator) EngineOption {
	return func(e *engineImpl) {
		e.evaluator = ev
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(clock func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.clock = clock
	}
}

// WithMaxAutoAdvanceSteps bounds how many automatic nodes one call may walk
func WithMaxAutoAdvanceSteps(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxAutoAdvanceSteps = n
		}
	}
}

// WithConflictRetries sets how many times a conflicting save is re-applied
func WithConflictRetries(n int) EngineOption {
	return func(e *engineImpl) {
		if n >= 0 {
			e.conflictRetries = n
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	auditRepo port.AuditRepository,
	txManager port.TransactionManager,
	payments port.PaymentRequestProvider,
	opts ...EngineOption,
) TransitionEngine {
	e := &engineImpl{
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		auditRepo:      auditRepo,
		txManager:      txManager,
		payments:       payments,
		executors: map[entity.NodeType]port.StepExecutor{
			entity.NodeTypeNotify:  RecordingExecutor{},
			entity.NodeTypePayment: RecordingExecutor{},
		},
		evaluator:           domainwf.NewExprEvaluator(),
		logger:              nopLogger{},
		clock:               time.Now,
		maxAutoAdvanceSteps: defaultMaxAutoAdvanceSteps,
		conflictRetries:     defaultConflictRetries,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.outbox = NewOutboxPublisher(auditRepo, e.dispatcher, e.logger)
	return e
}

func (e *engineImpl) now() time.Time {
	return e.clock().UTC()
}

// Start implements TransitionEngine
func (e *engineImpl) Start(ctx context.Context, def *entity.WorkflowDefinition, paymentRequestID string) (*entity.WorkflowInstance, error) {
	if def == nil {
		return nil, domainwf.ErrDefinitionNotFound
	}
	if err := domainwf.ValidateDefinition(def, e.evaluator); err != nil {
		e.logger.Error("Refusing to start workflow on invalid definition",
			"alert", true,
			"definition_id", def.ID,
			"error", err,
		)
		return nil, err
	}

	req, err := e.payments.GetPaymentRequest(ctx, paymentRequestID)
	if err != nil {
		return nil, err
	}
	if req.OrgID != "" && req.OrgID != def.OrgID {
		return nil, fmt.Errorf("%w: definition %s belongs to another organization", domainwf.ErrNotAuthorized, def.ID)
	}

	existing, err := e.instanceRepo.GetActiveByPaymentRequest(ctx, paymentRequestID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domainwf.ErrInstanceNotFound) {
		return nil, err
	}

	now := e.now()
	inst := &entity.WorkflowInstance{
		ID:               uuid.NewString(),
		DefinitionID:     def.ID,
		PaymentRequestID: paymentRequestID,
		OrgID:            def.OrgID,
		NodeStates:       make(map[string]entity.NodeState, len(def.Nodes)),
		Status:           entity.StatusPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, n := range def.Nodes {
		inst.NodeStates[n.ID] = entity.NodeState{Status: entity.NodeStatusPending}
	}

	m := newMutation(inst, def, now)
	stepErr := e.begin(ctx, m, req)
	if stepErr != nil && m.inst.Status != entity.StatusFailed {
		return nil, stepErr
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Create(txCtx, m.inst); err != nil {
			return err
		}
		return e.auditRepo.Append(txCtx, m.records)
	})
	if errors.Is(err, domainwf.ErrConcurrentModification) {
		// a concurrent Start won the active slot for this payment request
		if winner, getErr := e.instanceRepo.GetActiveByPaymentRequest(ctx, paymentRequestID); getErr == nil {
			return winner, nil
		}
	}
	if err != nil {
		return nil, err
	}

	e.publish(ctx, m.records)
	e.logger.Info("Workflow started",
		"instance_id", m.inst.ID,
		"payment_request_id", paymentRequestID,
		"status", m.inst.Status,
		"current_node_id", m.inst.CurrentNodeID,
	)
	return m.inst, stepErr
}

// begin completes START and walks to the first human-gated node or END
func (e *engineImpl) begin(ctx context.Context, m *mutation, req *entity.PaymentRequest) error {
	start, ok := m.def.StartNode()
	if !ok {
		return fmt.Errorf("%w: no START node", domainwf.ErrGraphInvalid)
	}
	if err := m.fire(ctx, domainwf.TriggerStart); err != nil {
		return err
	}

	next, err := domainwf.NextNode(m.def, start, domainwf.EvaluationEnv(req, m.inst), e.evaluator)
	if err != nil {
		return e.haltOnGraph(ctx, m, start, err)
	}
	m.setNode(start, entity.NodeStatusCompleted, entity.SystemActor, "")
	m.inst.CurrentNodeID = start.ID
	return e.advance(ctx, m, next, req)
}

// advance enters node and keeps walking through automatic nodes until it
// reaches an approval step, END, or a failure
func (e *engineImpl) advance(ctx context.Context, m *mutation, node entity.Node, req *entity.PaymentRequest) error {
	for steps := 0; ; steps++ {
		if steps >= e.maxAutoAdvanceSteps {
			return e.haltOnGraph(ctx, m, node,
				fmt.Errorf("%w: auto-advance exceeded %d steps", domainwf.ErrGraphInvalid, e.maxAutoAdvanceSteps))
		}

		m.inst.CurrentNodeID = node.ID
		m.inst.CurrentApprovalLevel = node.StepOrder()
		m.setNode(node, entity.NodeStatusRunning, entity.SystemActor, "")

		switch node.Type {
		case entity.NodeTypeApproval:
			return nil

		case entity.NodeTypeEnd:
			endCtx := domainwf.WithEndReached(ctx)
			if err := m.fire(endCtx, domainwf.TriggerApprove); err != nil {
				return err
			}
			if err := m.fire(endCtx, domainwf.TriggerComplete); err != nil {
				return err
			}
			m.setNode(node, entity.NodeStatusCompleted, entity.SystemActor, "")
			return nil

		case entity.NodeTypeNotify, entity.NodeTypePayment:
			executor, ok := e.executors[node.Type]
			if !ok {
				return e.haltOnStep(ctx, m, node, fmt.Errorf("no executor registered for %s", node.Type))
			}
			result, err := executor.Execute(ctx, node, req, m.inst)
			if err != nil {
				return e.haltOnStep(ctx, m, node, err)
			}
			st := m.inst.NodeStates[node.ID]
			st.Result = result
			m.inst.NodeStates[node.ID] = st

		case entity.NodeTypeCondition:

		default:
			return e.haltOnGraph(ctx, m, node,
				fmt.Errorf("%w: cannot enter %s node %q", domainwf.ErrGraphInvalid, node.Type, node.ID))
		}

		next, err := domainwf.NextNode(m.def, node, domainwf.EvaluationEnv(req, m.inst), e.evaluator)
		if err != nil {
			return e.haltOnGraph(ctx, m, node, err)
		}
		m.setNode(node, entity.NodeStatusCompleted, entity.SystemActor, "")
		node = next
	}
}

func (e *engineImpl) haltOnGraph(ctx context.Context, m *mutation, node entity.Node, cause error) error {
	e.logger.Error("Workflow definition invalid, instance halted",
		"alert", true,
		"instance_id", m.inst.ID,
		"definition_id", m.def.ID,
		"node_id", node.ID,
		"error", cause,
	)
	return m.halt(ctx, node, cause)
}

func (e *engineImpl) haltOnStep(ctx context.Context, m *mutation, node entity.Node, cause error) error {
	e.logger.Error("Workflow step failed, instance halted",
		"instance_id", m.inst.ID,
		"node_id", node.ID,
		"node_type", node.Type,
		"error", cause,
	)
	return m.halt(ctx, node, fmt.Errorf("%w: node %s: %v", domainwf.ErrStepFailed, node.ID, cause))
}

// conflictError marks a lost optimistic save, remembering the node the
// losing call acted on so a retry can verify it is still current
type conflictError struct {
	nodeID string
	err    error
}

func (c *conflictError) Error() string { return c.err.Error() }
func (c *conflictError) Unwrap() error { return c.err }

// Apply implements TransitionEngine
func (e *engineImpl) Apply(ctx context.Context, instanceID string, decision entity.Decision) (*entity.WorkflowInstance, error) {
	expectedNode := decision.NodeID
	for attempt := 0; ; attempt++ {
		inst, err := e.applyOnce(ctx, instanceID, decision, expectedNode)

		var conflict *conflictError
		if !errors.As(err, &conflict) {
			return inst, err
		}
		if attempt >= e.conflictRetries {
			return nil, conflict.err
		}

		e.logger.Info("Concurrent modification, retrying with reloaded instance",
			"instance_id", instanceID,
			"node_id", conflict.nodeID,
			"attempt", attempt+1,
		)
		expectedNode = conflict.nodeID
	}
}

func (e *engineImpl) applyOnce(ctx context.Context, instanceID string, decision entity.Decision, expectedNode string) (*entity.WorkflowInstance, error) {
	stored, err := e.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if domainwf.State(stored.Status).IsTerminal() {
		return nil, fmt.Errorf("%w: instance %s is %s", domainwf.ErrInstanceTerminal, instanceID, stored.Status)
	}
	if stored.CurrentNodeID == "" {
		return nil, domainwf.ErrNoCurrentNode
	}

	def, err := e.definitionRepo.GetByID(ctx, stored.DefinitionID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if !decision.Timestamp.IsZero() {
		now = decision.Timestamp.UTC()
	}
	m := newMutation(stored.Clone(), def, now)

	node, ok := def.FindNode(stored.CurrentNodeID)
	if !ok {
		missing := entity.Node{ID: stored.CurrentNodeID}
		stepErr := e.haltOnGraph(ctx, m, missing,
			fmt.Errorf("%w: current node %q not in definition %s", domainwf.ErrGraphInvalid, stored.CurrentNodeID, def.ID))
		return e.commit(ctx, m, stored.Version, stored.CurrentNodeID, stepErr)
	}
	if node.Type != entity.NodeTypeApproval || stored.NodeStatus(node.ID) != entity.NodeStatusRunning {
		return nil, fmt.Errorf("%w: node %s is not awaiting a decision", domainwf.ErrNoCurrentNode, node.ID)
	}
	if expectedNode != "" && expectedNode != node.ID {
		return nil, fmt.Errorf("%w: decision targets %s but current step is %s",
			domainwf.ErrConcurrentModification, expectedNode, node.ID)
	}

	if ok, reason := e.gate.IsEligible(node, decision.Actor); !ok {
		e.logger.Info("Decision rejected by step gate",
			"instance_id", instanceID,
			"node_id", node.ID,
			"actor", decision.Actor.UserID,
			"reason", reason,
		)
		return nil, fmt.Errorf("%w: %s", domainwf.ErrNotAuthorized, reason)
	}

	var stepErr error
	if !decision.Approved {
		if err := m.fire(ctx, domainwf.TriggerReject); err != nil {
			return nil, err
		}
		m.setNode(node, entity.NodeStatusFailed, decision.Actor.UserID, decision.Comments)
	} else {
		req, err := e.payments.GetPaymentRequest(ctx, stored.PaymentRequestID)
		if err != nil {
			return nil, err
		}
		next, err := domainwf.NextNode(def, node, domainwf.EvaluationEnv(req, m.inst), e.evaluator)
		if err != nil {
			stepErr = e.haltOnGraph(ctx, m, node, err)
		} else {
			m.setNode(node, entity.NodeStatusCompleted, decision.Actor.UserID, decision.Comments)
			stepErr = e.advance(ctx, m, next, req)
		}
	}

	return e.commit(ctx, m, stored.Version, node.ID, stepErr)
}

// commit persists the mutation with an optimistic version check, then
// publishes its events. A step error is returned alongside the persisted
// instance.
func (e *engineImpl) commit(ctx context.Context, m *mutation, expectedVersion int64, nodeID string, stepErr error) (*entity.WorkflowInstance, error) {
	if stepErr != nil && !domainwf.State(m.inst.Status).IsTerminal() {
		return nil, stepErr
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Save(txCtx, m.inst, expectedVersion); err != nil {
			return err
		}
		return e.auditRepo.Append(txCtx, m.records)
	})
	if err != nil {
		if errors.Is(err, domainwf.ErrConcurrentModification) {
			return nil, &conflictError{nodeID: nodeID, err: err}
		}
		return nil, err
	}

	e.publish(ctx, m.records)
	e.logger.Info("Workflow transitioned",
		"instance_id", m.inst.ID,
		"status", m.inst.Status,
		"current_node_id", m.inst.CurrentNodeID,
		"audit_records", len(m.records),
	)
	return m.inst, stepErr
}

// Cancel implements TransitionEngine
func (e *engineImpl) Cancel(ctx context.Context, instanceID string, actor entity.Identity) (*entity.WorkflowInstance, error) {
	for attempt := 0; ; attempt++ {
		inst, err := e.cancelOnce(ctx, instanceID, actor)

		var conflict *conflictError
		if !errors.As(err, &conflict) || attempt >= e.conflictRetries {
			if conflict != nil {
				return nil, conflict.err
			}
			return inst, err
		}
	}
}

func (e *engineImpl) cancelOnce(ctx context.Context, instanceID string, actor entity.Identity) (*entity.WorkflowInstance, error) {
	stored, err := e.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if e.authorizer != nil && !e.authorizer.CanCancel(ctx, actor, stored) {
		e.logger.Info("Cancel rejected",
			"instance_id", instanceID,
			"actor", actor.UserID,
			"role", actor.Role,
		)
		return nil, fmt.Errorf("%w: cancel requires an administrator", domainwf.ErrNotAuthorized)
	}
	if !domainwf.BuildInstanceStateMachine(domainwf.State(stored.Status)).CanFire(domainwf.TriggerCancel) {
		return nil, fmt.Errorf("%w: instance %s is %s", domainwf.ErrInstanceTerminal, instanceID, stored.Status)
	}

	def, err := e.definitionRepo.GetByID(ctx, stored.DefinitionID)
	if err != nil {
		return nil, err
	}

	m := newMutation(stored.Clone(), def, e.now())
	if err := m.fire(ctx, domainwf.TriggerCancel); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInstanceTerminal, err)
	}
	if node, ok := def.FindNode(stored.CurrentNodeID); ok && stored.NodeStatus(node.ID) == entity.NodeStatusRunning {
		m.setNode(node, entity.NodeStatusSkipped, actor.UserID, "cancelled")
	}

	return e.commit(ctx, m, stored.Version, stored.CurrentNodeID, nil)
}

func (e *engineImpl) publish(ctx context.Context, records []*entity.AuditRecord) {
	if _, err := e.outbox.Publish(ctx, records); err != nil {
		e.logger.Error("Post-commit publish incomplete", "error", err)
	}
}

var _ TransitionEngine = (*engineImpl)(nil)
