package port

import (
	"context"
	"time"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// DefinitionRepository stores immutable, versioned workflow definitions
type DefinitionRepository interface {
	// Save stores def as the next version for its organization and name,
	// filling in ID, Version and CreatedAt.
	Save(ctx context.Context, def *entity.WorkflowDefinition) error

	// GetByID returns workflow.ErrDefinitionNotFound when absent
	GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error)

	// GetLatestByOrg returns the highest version registered for the organization
	GetLatestByOrg(ctx context.Context, orgID string) (*entity.WorkflowDefinition, error)
}

// InstanceRepository persists workflow instances with optimistic versioning
type InstanceRepository interface {
	Create(ctx context.Context, inst *entity.WorkflowInstance) error

	// GetByID returns workflow.ErrInstanceNotFound when absent
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)

	// Save writes inst only if the stored version equals expectedVersion,
	// otherwise it returns workflow.ErrConcurrentModification. On success
	// inst.Version is expectedVersion+1.
	Save(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error

	// GetActiveByPaymentRequest returns the non-terminal instance for a
	// payment request, or workflow.ErrInstanceNotFound
	GetActiveByPaymentRequest(ctx context.Context, paymentRequestID string) (*entity.WorkflowInstance, error)

	ListByStatus(ctx context.Context, status string, limit int) ([]*entity.WorkflowInstance, error)

	// ListIdle returns instances with status last updated before idleSince,
	// least recently updated first
	ListIdle(ctx context.Context, status string, idleSince time.Time, limit int) ([]*entity.WorkflowInstance, error)
}

// AuditRepository is the append-only audit trail, which doubles as the
// event outbox through its Published flag
type AuditRepository interface {
	Append(ctx context.Context, records []*entity.AuditRecord) error
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.AuditRecord, error)
	ListUnpublished(ctx context.Context, limit int) ([]*entity.AuditRecord, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
