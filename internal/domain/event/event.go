package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// Event represents a domain event emitted for a node-state change
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InstanceID    string                 `json:"instance_id"`
	NodeID        string                 `json:"node_id,omitempty"`
	Sequence      int64                  `json:"sequence"`
	DedupKey      string                 `json:"dedup_key"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, instanceID string, payload map[string]interface{}) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		InstanceID:    instanceID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: uuid.NewString(),
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, instanceID string, payload map[string]interface{}, correlationID string) *Event {
	e := NewEvent(eventType, instanceID, payload)
	e.CorrelationID = correlationID
	return e
}

// FromAuditRecord builds the event announcing an audit record. The event ID
// is derived from the record so redelivery reuses it.
func FromAuditRecord(rec *entity.AuditRecord) *Event {
	payload := map[string]interface{}{
		"node_id":     rec.NodeID,
		"node_type":   string(rec.NodeType),
		"from_status": rec.FromStatus,
		"to_status":   rec.ToStatus,
		"sequence":    rec.Sequence,
	}
	if rec.Actor != "" {
		payload["actor"] = rec.Actor
	}
	if rec.Comments != "" {
		payload["comments"] = rec.Comments
	}

	e := NewEventWithCorrelation(Type(rec.EventType), rec.InstanceID, payload, rec.InstanceID)
	e.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", rec.InstanceID, rec.Sequence))).String()
	e.NodeID = rec.NodeID
	e.Sequence = rec.Sequence
	e.DedupKey = rec.DedupKey()
	e.Timestamp = rec.Timestamp
	return e
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload. JSON decoded
// numbers arrive as float64.
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
