package entity

import "time"

// WorkflowInstance is one execution of a WorkflowDefinition bound to a single
// payment request. Only the transition engine mutates it.
type WorkflowInstance struct {
	ID               string               `json:"id"`
	DefinitionID     string               `json:"definition_id"`
	PaymentRequestID string               `json:"payment_request_id"`
	OrgID            string               `json:"org_id"`
	CurrentNodeID    string               `json:"current_node_id"`
	NodeStates       map[string]NodeState `json:"node_states"`
	Status           string               `json:"status"`

	// CurrentApprovalLevel mirrors the step order of the current approval
	// node for clients that only understand linear approval levels.
	CurrentApprovalLevel int `json:"current_approval_level"`

	// Version is the optimistic concurrency token; AuditSeq is the last
	// audit sequence number allocated for this instance.
	Version  int64 `json:"version"`
	AuditSeq int64 `json:"audit_seq"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NodeState tracks the progress of a single node within an instance
type NodeState struct {
	Status      string                 `json:"status"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ActedBy     string                 `json:"acted_by,omitempty"`
	Comments    string                 `json:"comments,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
}

// NodeStatus returns the status of a node, PENDING if it has no state yet
func (i *WorkflowInstance) NodeStatus(nodeID string) string {
	if st, ok := i.NodeStates[nodeID]; ok {
		return st.Status
	}
	return NodeStatusPending
}

// Clone returns a deep copy of the instance
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	c := *i
	c.NodeStates = make(map[string]NodeState, len(i.NodeStates))
	for id, st := range i.NodeStates {
		c.NodeStates[id] = st.clone()
	}
	c.CompletedAt = cloneTime(i.CompletedAt)
	return &c
}

func (s NodeState) clone() NodeState {
	c := s
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	if s.Result != nil {
		c.Result = make(map[string]interface{}, len(s.Result))
		for k, v := range s.Result {
			c.Result[k] = v
		}
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
