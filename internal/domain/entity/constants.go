package entity

// NodeType identifies the kind of step a workflow node represents
type NodeType string

const (
	NodeTypeStart     NodeType = "START"
	NodeTypeApproval  NodeType = "APPROVAL"
	NodeTypeCondition NodeType = "CONDITION"
	NodeTypeNotify    NodeType = "NOTIFY"
	NodeTypePayment   NodeType = "PAYMENT"
	NodeTypeEnd       NodeType = "END"
)

// IsValid returns true if the node type is one of the defined constants
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeStart, NodeTypeApproval, NodeTypeCondition,
		NodeTypeNotify, NodeTypePayment, NodeTypeEnd:
		return true
	default:
		return false
	}
}

// IsHumanGated returns true if the node waits for an external decision
func (t NodeType) IsHumanGated() bool {
	return t == NodeTypeApproval
}

// ApproverType selects how an approval node matches its approver
type ApproverType string

const (
	ApproverTypeRole ApproverType = "ROLE"
	ApproverTypeUser ApproverType = "USER"
)

// Status constants for WorkflowInstance
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusFailed    = "FAILED"
)

// Status constants for NodeState
const (
	NodeStatusPending   = "PENDING"
	NodeStatusRunning   = "RUNNING"
	NodeStatusCompleted = "COMPLETED"
	NodeStatusFailed    = "FAILED"
	NodeStatusSkipped   = "SKIPPED"
)

// SystemActor is recorded as the actor of transitions nobody decided on
const SystemActor = "system"

// Well-known organization roles
const (
	RoleOrgAdmin   = "ORG_ADMIN"
	RoleOrgFinance = "ORG_FINANCE"
	RoleSuperAdmin = "SUPER_ADMIN"
)
