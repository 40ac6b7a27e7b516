package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
)

// mutation applies node and instance transitions to a working copy of an
// instance, collecting one audit record per node-state change.
type mutation struct {
	inst    *entity.WorkflowInstance
	def     *entity.WorkflowDefinition
	machine domainwf.StateMachine
	now     time.Time
	records []*entity.AuditRecord
}

func newMutation(inst *entity.WorkflowInstance, def *entity.WorkflowDefinition, now time.Time) *mutation {
	return &mutation{
		inst:    inst,
		def:     def,
		machine: domainwf.BuildInstanceStateMachine(domainwf.State(inst.Status)),
		now:     now,
	}
}

// fire moves the instance through its lifecycle machine
func (m *mutation) fire(ctx context.Context, trigger domainwf.Trigger) error {
	if err := m.machine.Fire(ctx, trigger); err != nil {
		return err
	}
	m.inst.Status = m.machine.State().String()
	m.inst.UpdatedAt = m.now
	if m.machine.State().IsTerminal() {
		completed := m.now
		m.inst.CompletedAt = &completed
	}
	return nil
}

// setNode records a node-state change. The event type is derived from the
// instance status at the time of the change, so instance triggers that
// explain a node failure must fire first.
func (m *mutation) setNode(node entity.Node, to, actor, comments string) *entity.AuditRecord {
	from := m.inst.NodeStatus(node.ID)
	st := m.inst.NodeStates[node.ID]
	st.Status = to

	at := m.now
	switch to {
	case entity.NodeStatusRunning:
		st.StartedAt = &at
	case entity.NodeStatusCompleted, entity.NodeStatusFailed, entity.NodeStatusSkipped:
		st.CompletedAt = &at
	}
	if actor != "" {
		st.ActedBy = actor
	}
	if comments != "" {
		st.Comments = comments
	}
	m.inst.NodeStates[node.ID] = st
	m.inst.UpdatedAt = m.now

	m.inst.AuditSeq++
	rec := &entity.AuditRecord{
		InstanceID: m.inst.ID,
		Sequence:   m.inst.AuditSeq,
		NodeID:     node.ID,
		NodeType:   node.Type,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Comments:   comments,
		EventType:  eventTypeFor(node, to, m.inst.Status).String(),
		Timestamp:  m.now,
	}
	m.records = append(m.records, rec)
	return rec
}

// halt marks node FAILED and the instance FAILED
func (m *mutation) halt(ctx context.Context, node entity.Node, cause error) error {
	if err := m.fire(ctx, domainwf.TriggerFail); err != nil {
		return fmt.Errorf("halt instance %s: %w", m.inst.ID, err)
	}
	m.setNode(node, entity.NodeStatusFailed, entity.SystemActor, cause.Error())
	m.inst.CurrentApprovalLevel = 0
	return cause
}

func eventTypeFor(node entity.Node, to, instanceStatus string) event.Type {
	switch to {
	case entity.NodeStatusRunning:
		return event.TypeStepStarted
	case entity.NodeStatusSkipped:
		return event.TypeWorkflowCancelled
	case entity.NodeStatusFailed:
		if node.Type == entity.NodeTypeApproval && instanceStatus == entity.StatusRejected {
			return event.TypeWorkflowRejected
		}
		return event.TypeWorkflowFailed
	default:
		switch node.Type {
		case entity.NodeTypeStart:
			return event.TypeWorkflowStarted
		case entity.NodeTypeEnd:
			return event.TypeWorkflowCompleted
		default:
			return event.TypeStepCompleted
		}
	}
}
