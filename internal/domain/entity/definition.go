package entity

import "time"

// WorkflowDefinition is the versioned, read-only graph of steps an organization
// uses to approve payment requests. A definition is never edited in place;
// changes are stored as a new version.
type WorkflowDefinition struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id" validate:"required"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Nodes     []Node    `json:"nodes" validate:"required,min=2,dive"`
	Edges     []Edge    `json:"edges" validate:"required,min=1,dive"`
	CreatedAt time.Time `json:"created_at"`
}

// Node is a single step of a workflow. Exactly one of the typed data
// fields is set, matching Type; START and END carry none.
type Node struct {
	ID        string         `json:"id" validate:"required"`
	Type      NodeType       `json:"type" validate:"required,oneof=START APPROVAL CONDITION NOTIFY PAYMENT END"`
	Name      string         `json:"name,omitempty"`
	Approval  *ApprovalData  `json:"approval,omitempty" validate:"omitempty"`
	Condition *ConditionData `json:"condition,omitempty" validate:"omitempty"`
	Notify    *NotifyData    `json:"notify,omitempty" validate:"omitempty"`
	Payment   *PaymentData   `json:"payment,omitempty" validate:"omitempty"`
}

// ApprovalData identifies who may act on an approval step
type ApprovalData struct {
	ApproverType  ApproverType `json:"approver_type" validate:"required,oneof=ROLE USER"`
	ApproverValue string       `json:"approver_value" validate:"required"`
	StepOrder     int          `json:"step_order" validate:"min=1"`
}

// ConditionData describes a branching step; predicates live on the outgoing edges
type ConditionData struct {
	Description string `json:"description,omitempty"`
}

// NotifyData carries the parameters of a notification step
type NotifyData struct {
	Channel    string   `json:"channel,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Template   string   `json:"template,omitempty"`
}

// PaymentData carries the settlement parameters of a payment step
type PaymentData struct {
	Method    string `json:"method,omitempty" validate:"omitempty,oneof=BANK UPI CARD"`
	Reference string `json:"reference,omitempty"`
}

// Edge connects two nodes. Condition is an expression evaluated against the
// payment request; it is only meaningful on edges leaving a CONDITION node.
type Edge struct {
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// FindNode returns the node with the given id
func (d *WorkflowDefinition) FindNode(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Outgoing returns the edges leaving the given node, in definition order
func (d *WorkflowDefinition) Outgoing(nodeID string) []Edge {
	var edges []Edge
	for _, e := range d.Edges {
		if e.From == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// Incoming returns the edges entering the given node, in definition order
func (d *WorkflowDefinition) Incoming(nodeID string) []Edge {
	var edges []Edge
	for _, e := range d.Edges {
		if e.To == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// StartNode returns the first START node of the definition
func (d *WorkflowDefinition) StartNode() (Node, bool) {
	for _, n := range d.Nodes {
		if n.Type == NodeTypeStart {
			return n, true
		}
	}
	return Node{}, false
}

// StepOrder returns the approval step order of a node, or 0 for non-approval nodes
func (n Node) StepOrder() int {
	if n.Type != NodeTypeApproval || n.Approval == nil {
		return 0
	}
	return n.Approval.StepOrder
}
