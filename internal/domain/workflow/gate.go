package workflow

import "github.com/garyjia/payment-approval/internal/domain/entity"

// Ineligibility reasons reported by StepGate
const (
	ReasonRoleMismatch    = "role_mismatch"
	ReasonUserMismatch    = "user_mismatch"
	ReasonNotApprovalStep = "not_approval_step"
)

// StepGate decides whether an identity may act on an approval node.
// It is pure: no I/O and no errors, ineligibility is a normal outcome.
type StepGate struct{}

// IsEligible reports whether actor may decide on node, with a reason when not
func (StepGate) IsEligible(node entity.Node, actor entity.Identity) (bool, string) {
	if node.Type != entity.NodeTypeApproval || node.Approval == nil {
		return false, ReasonNotApprovalStep
	}

	switch node.Approval.ApproverType {
	case entity.ApproverTypeRole:
		if actor.Role != "" && actor.Role == node.Approval.ApproverValue {
			return true, ""
		}
		return false, ReasonRoleMismatch
	case entity.ApproverTypeUser:
		if actor.UserID != "" && actor.UserID == node.Approval.ApproverValue {
			return true, ""
		}
		return false, ReasonUserMismatch
	default:
		return false, ReasonRoleMismatch
	}
}
