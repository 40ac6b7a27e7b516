package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

// OutboxPublisher dispatches the events for committed audit records and marks
// the records published. Records whose dispatch fails stay unpublished and
// are picked up again by the relay.
type OutboxPublisher struct {
	auditRepo  port.AuditRepository
	dispatcher dispatcher.Dispatcher
	logger     Logger
}

// NewOutboxPublisher creates a publisher; a nil logger discards output
func NewOutboxPublisher(auditRepo port.AuditRepository, d dispatcher.Dispatcher, logger Logger) *OutboxPublisher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &OutboxPublisher{auditRepo: auditRepo, dispatcher: d, logger: logger}
}

// Publish dispatches records in sequence order and returns how many were
// marked published
func (p *OutboxPublisher) Publish(ctx context.Context, records []*entity.AuditRecord) (int, error) {
	if p.dispatcher == nil || len(records) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(records))
	var firstErr error
	for _, rec := range records {
		evt := event.FromAuditRecord(rec)
		if err := p.dispatcher.Dispatch(ctx, evt); err != nil {
			p.logger.Error("Event dispatch failed, leaving record for relay",
				"instance_id", rec.InstanceID,
				"sequence", rec.Sequence,
				"event_type", rec.EventType,
				"error", err,
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("dispatch %s for instance %s: %w", rec.EventType, rec.InstanceID, err)
			}
			// later records of the same instance wait so order is preserved
			break
		}
		published = append(published, rec.ID)
	}

	if len(published) > 0 {
		if err := p.auditRepo.MarkPublished(ctx, published); err != nil {
			return 0, fmt.Errorf("mark published: %w", err)
		}
		for _, rec := range records[:len(published)] {
			rec.Published = true
		}
	}

	return len(published), firstErr
}
