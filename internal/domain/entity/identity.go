package entity

import "time"

// Identity is the acting user as resolved by the user directory
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	OrgID  string `json:"org_id"`
}

// PaymentRequest is the read-only view of a payment request owned by the
// payments service
type PaymentRequest struct {
	ID                   string                 `json:"id"`
	OrgID                string                 `json:"org_id"`
	Amount               float64                `json:"amount"`
	Currency             string                 `json:"currency"`
	Status               string                 `json:"status"`
	RequestedBy          string                 `json:"requested_by"`
	CurrentApprovalLevel int                    `json:"current_approval_level"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// Decision is an approval or rejection submitted against the current node.
// NodeID, when set, is the node the actor saw; a mismatch means the actor
// acted on a stale view.
type Decision struct {
	Actor     Identity
	Approved  bool
	Comments  string
	NodeID    string
	Timestamp time.Time
}
