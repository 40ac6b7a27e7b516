package entity

import (
	"fmt"
	"time"
)

// AuditRecord is an immutable record of one node-state change. Sequence is
// strictly increasing per instance.
type AuditRecord struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	Sequence   int64     `json:"sequence"`
	NodeID     string    `json:"node_id"`
	NodeType   NodeType  `json:"node_type"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor,omitempty"`
	Comments   string    `json:"comments,omitempty"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	Published  bool      `json:"published"`
}

// DedupKey identifies the transition for idempotent subscribers
func (r *AuditRecord) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", r.InstanceID, r.NodeID, r.ToStatus)
}
